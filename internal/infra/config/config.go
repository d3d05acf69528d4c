package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Search     SearchConfig     `yaml:"search"`
	Discussion DiscussionConfig `yaml:"discussion"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Store      StoreConfig      `yaml:"store"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RateLimitRPM      int           `yaml:"rate_limit_rpm"`
	RateLimitBurst    int           `yaml:"rate_limit_burst"`
	TrustedProxies    []string      `yaml:"trusted_proxies,omitempty"`
	AllowedOrigins    []string      `yaml:"allowed_origins,omitempty"` // websocket origin patterns
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single OpenAI-compatible provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// SearchConfig holds web_search settings.
type SearchConfig struct {
	Backend        string        `yaml:"backend"` // "searxng", "serper", "brave"
	SearXNGURL     string        `yaml:"searxng_url"`
	SerperAPIKey   string        `yaml:"serper_api_key"`
	BraveAPIKey    string        `yaml:"brave_api_key"`
	MaxResults     int           `yaml:"max_results"`
	MaxQueryLength int           `yaml:"max_query_length"`
	Timeout        time.Duration `yaml:"timeout"`
	Cache          CacheConfig   `yaml:"cache"`
	Enrich         EnrichConfig  `yaml:"enrich"`
}

// CacheConfig selects the search result cache.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // "memory", "redis", "sqlite", "none"
	TTL       time.Duration `yaml:"ttl"`
	RedisURL  string        `yaml:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// EnrichConfig controls full-page extraction for search results.
type EnrichConfig struct {
	Fetcher      string        `yaml:"fetcher"` // "http", "chromedp", "none"
	Concurrency  int           `yaml:"concurrency"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxChars     int           `yaml:"max_chars"`
	UserAgent    string        `yaml:"user_agent"`
}

// DiscussionConfig holds round orchestration settings.
type DiscussionConfig struct {
	DefaultLanguage   string  `yaml:"default_language"` // "", "zh", "en"
	MinAgents         int     `yaml:"min_agents"`
	MaxAgents         int     `yaml:"max_agents"`
	MaxRoundsLimit    int     `yaml:"max_rounds_limit"`
	MaxToolIterations int     `yaml:"max_tool_iterations"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	ErrorBuffer   int `yaml:"error_buffer"`
	VoteScoreMax  int `yaml:"vote_score_max"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig holds housekeeping schedules.
type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CachePurge    string        `yaml:"cache_purge"`    // cron expression or duration
	StaleJobReap  string        `yaml:"stale_job_reap"` // cron expression or duration
	StaleJobAfter time.Duration `yaml:"stale_job_after"`
}

// LoggerConfig holds logger settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.roundtable.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".roundtable")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:8080",
			ReadHeaderTimeout: 10 * time.Second,
			RateLimitRPM:      120,
			RateLimitBurst:    20,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: []ProviderConfig{
				{
					Name:        "openai",
					Type:        "openai",
					BaseURL:     "https://api.openai.com/v1",
					Model:       "gpt-4o-mini",
					ConnTimeout: 10 * time.Second,
					RespTimeout: 120 * time.Second,
				},
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Search: SearchConfig{
			Backend:        "searxng",
			SearXNGURL:     "http://localhost:8888",
			MaxResults:     5,
			MaxQueryLength: 400,
			Timeout:        15 * time.Second,
			Cache: CacheConfig{
				Backend:   "sqlite",
				TTL:       24 * time.Hour,
				KeyPrefix: "roundtable:search:",
			},
			Enrich: EnrichConfig{
				Fetcher:      "http",
				Concurrency:  3,
				FetchTimeout: 10 * time.Second,
				MaxChars:     8000,
				UserAgent:    "Mozilla/5.0 (compatible; roundtable/1.0)",
			},
		},
		Discussion: DiscussionConfig{
			MinAgents:         2,
			MaxAgents:         8,
			MaxRoundsLimit:    20,
			MaxToolIterations: 3,
			Temperature:       0.7,
			MaxTokens:         2048,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 4,
			ErrorBuffer:   32,
			VoteScoreMax:  10,
		},
		Store: StoreConfig{
			Path: filepath.Join(defaultDataDir(), "roundtable.db"),
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CachePurge:    "@hourly",
			StaleJobReap:  "10m",
			StaleJobAfter: 2 * time.Hour,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("ROUNDTABLE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps ROUNDTABLE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROUNDTABLE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ROUNDTABLE_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("ROUNDTABLE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ROUNDTABLE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ROUNDTABLE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("ROUNDTABLE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("ROUNDTABLE_SEARCH_BACKEND"); v != "" {
		cfg.Search.Backend = v
	}
	if v := os.Getenv("ROUNDTABLE_SEARCH_SEARXNG_URL"); v != "" {
		cfg.Search.SearXNGURL = v
	}
	if v := os.Getenv("ROUNDTABLE_SEARCH_SERPER_API_KEY"); v != "" {
		cfg.Search.SerperAPIKey = v
	}
	if v := os.Getenv("ROUNDTABLE_SEARCH_BRAVE_API_KEY"); v != "" {
		cfg.Search.BraveAPIKey = v
	}
	if v := os.Getenv("ROUNDTABLE_SEARCH_CACHE_BACKEND"); v != "" {
		cfg.Search.Cache.Backend = v
	}
	if v := os.Getenv("ROUNDTABLE_SEARCH_CACHE_REDIS_URL"); v != "" {
		cfg.Search.Cache.RedisURL = v
	}
	if v := os.Getenv("ROUNDTABLE_SEARCH_ENRICH_FETCHER"); v != "" {
		cfg.Search.Enrich.Fetcher = v
	}
	if v := os.Getenv("ROUNDTABLE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ROUNDTABLE_JOBS_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.MaxConcurrent = n
		}
	}

	// Per-provider API keys: ROUNDTABLE_LLM_PROVIDER_<NAME>_API_KEY.
	for i := range cfg.LLM.Providers {
		key := "ROUNDTABLE_LLM_PROVIDER_" + envName(cfg.LLM.Providers[i].Name) + "_API_KEY"
		if v := os.Getenv(key); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// decryptSecrets finds "enc:..." values in API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
			}
			cfg.LLM.Providers[i].APIKey = decrypted
		}
	}

	searchSecrets := map[string]*string{
		"serper_api_key": &cfg.Search.SerperAPIKey,
		"brave_api_key":  &cfg.Search.BraveAPIKey,
		"redis_url":      &cfg.Search.Cache.RedisURL,
	}
	for name, fp := range searchSecrets {
		if strings.HasPrefix(*fp, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("search %s: %w", name, err)
			}
			*fp = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
