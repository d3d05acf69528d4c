package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/adapter/store/sqlite"
	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/infra/config"
	"github.com/DanielMax937/round-table-sub000/internal/infra/logger"
	"github.com/DanielMax937/round-table-sub000/internal/infra/tracer"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/job"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "serve":
		err = runServe()
	case "run-job":
		err = runJob()
	case "migrate":
		err = runMigrate()
	case "encrypt-secret":
		err = runEncryptSecret()
	case "version":
		fmt.Println("roundtable", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'roundtable --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`roundtable - multi-agent round-table discussions

USAGE:
    roundtable COMMAND [FLAGS]

COMMANDS:
    serve           Run the HTTP API, job worker and scheduler
    run-job         Run a discussion job in the foreground
                    Flags: --round-table ID [--type discussion|moe_vote]
                           [--language zh|en] [--question TEXT]
    migrate         Create or upgrade the database schema
    encrypt-secret  Encrypt a secret for config.yaml (reads ROUNDTABLE_CONFIG_KEY)
                    Flags: [VALUE] (reads stdin when omitted)
    version         Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Environment: ROUNDTABLE_* variables override config`)
}

// flagValue returns the value of --name from args, supporting both
// "--name value" and "--name=value".
func flagValue(args []string, name string) string {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--"+name && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(args[i], "--"+name+"="):
			return strings.TrimPrefix(args[i], "--"+name+"=")
		}
	}
	return ""
}

func configPath() string {
	if p := flagValue(os.Args[2:], "config"); p != "" {
		return p
	}
	if p := os.Getenv("ROUNDTABLE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// bootstrap loads config and sets up logging and tracing. The returned
// cleanup flushes both.
func bootstrap(ctx context.Context) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, nil, nil, fmt.Errorf("tracer: %w", err)
	}

	cleanup := func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
		logCloser()
	}
	return cfg, log, cleanup, nil
}

func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.drainJobErrors(ctx)

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
		defer a.scheduler.Stop()
	}

	err = a.api.Start(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if werr := a.worker.Shutdown(shutdownCtx); werr != nil {
		log.Warn("job worker did not drain", "error", werr)
	}
	return err
}

func runJob() error {
	args := os.Args[2:]
	rtID := flagValue(args, "round-table")
	if rtID == "" {
		return fmt.Errorf("--round-table is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := domain.JobOptions{
		Language: domain.Language(flagValue(args, "language")),
		Question: flagValue(args, "question"),
	}
	in := job.SubmitInput{Type: domain.JobType(flagValue(args, "type")), RoundTableID: rtID, Options: opts}
	j, err := a.jobs.Create(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "job %s started\n", j.ID)

	runErr := a.driver.Run(ctx, j.ID)

	final, err := a.jobs.Get(context.WithoutCancel(ctx), j.ID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(final); err != nil {
		return err
	}
	return runErr
}

func runMigrate() error {
	ctx := context.Background()
	cfg, log, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := sqlite.Open(ctx, cfg.Store.Path, log)
	if err != nil {
		return err
	}
	fmt.Println("database ready:", cfg.Store.Path)
	return store.Close()
}

func runEncryptSecret() error {
	passphrase := os.Getenv("ROUNDTABLE_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("ROUNDTABLE_CONFIG_KEY must be set")
	}

	var plaintext string
	if args := os.Args[2:]; len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		plaintext = args[0]
	} else {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, 64*1024))
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		plaintext = strings.TrimSpace(string(data))
	}
	if plaintext == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	enc, err := config.EncryptValue(plaintext, passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
