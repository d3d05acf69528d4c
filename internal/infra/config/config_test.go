package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Search.Cache.TTL != 24*time.Hour {
		t.Errorf("Search.Cache.TTL = %v, want 24h", cfg.Search.Cache.TTL)
	}
	if cfg.Search.Enrich.Concurrency != 3 {
		t.Errorf("Enrich.Concurrency = %d, want 3", cfg.Search.Enrich.Concurrency)
	}
	if cfg.LLM.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "openai")
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discussion.MaxToolIterations != 3 {
		t.Errorf("expected defaults, got MaxToolIterations=%d", cfg.Discussion.MaxToolIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  default_provider: "router"
  providers:
    - name: "router"
      type: "openrouter"
      base_url: "https://openrouter.ai/api/v1"
      api_key: "test-key"
      model: "meta-llama/llama-3-8b"
search:
  backend: "serper"
  serper_api_key: "sk"
  cache:
    backend: "memory"
    ttl: 1h
discussion:
  default_language: "zh"
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.DefaultProvider != "router" {
		t.Errorf("DefaultProvider = %q", cfg.LLM.DefaultProvider)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].APIKey != "test-key" {
		t.Errorf("Providers = %+v", cfg.LLM.Providers)
	}
	if cfg.Search.Backend != "serper" || cfg.Search.Cache.TTL != time.Hour {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.Discussion.DefaultLanguage != "zh" {
		t.Errorf("DefaultLanguage = %q", cfg.Discussion.DefaultLanguage)
	}
	// Untouched sections keep their defaults.
	if cfg.Search.Enrich.Concurrency != 3 {
		t.Errorf("Enrich.Concurrency = %d, want default 3", cfg.Search.Enrich.Concurrency)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("llm: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected permission error for world-writable config")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("search:\n  backend: bing\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err = %T %v, want *ValidationError", err, err)
	}
	if !ve.HasErrors() {
		t.Error("expected recorded errors")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROUNDTABLE_SEARCH_BACKEND", "brave")
	t.Setenv("ROUNDTABLE_SEARCH_BRAVE_API_KEY", "bk")
	t.Setenv("ROUNDTABLE_LOGGER_LEVEL", "debug")
	t.Setenv("ROUNDTABLE_JOBS_MAX_CONCURRENT", "9")
	t.Setenv("ROUNDTABLE_TRACER_ENABLED", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Search.Backend != "brave" || cfg.Search.BraveAPIKey != "bk" {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if cfg.Jobs.MaxConcurrent != 9 {
		t.Errorf("Jobs.MaxConcurrent = %d", cfg.Jobs.MaxConcurrent)
	}
	if !cfg.Tracer.Enabled {
		t.Error("Tracer.Enabled should be true")
	}
}

func TestApplyEnvOverridesProviderAPIKey(t *testing.T) {
	t.Setenv("ROUNDTABLE_LLM_PROVIDER_MY_ROUTER_API_KEY", "from-env")

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "my-router", Model: "m"}}
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Providers[0].APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", cfg.LLM.Providers[0].APIKey)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueInvalidInput(t *testing.T) {
	for _, in := range []string{"no-separator", "zz:00", "00:zz", "00:00"} {
		if _, err := DecryptValue(in, "pass"); err == nil {
			t.Errorf("DecryptValue(%q) should fail", in)
		}
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encKey, err := EncryptValue("sk-secret", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	encSerper, err := EncryptValue("serper-secret", passphrase)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "openai", APIKey: "enc:" + encKey},
		{Name: "plain", APIKey: "plain-key"},
	}
	cfg.Search.SerperAPIKey = "enc:" + encSerper

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-secret" {
		t.Errorf("provider key = %q", cfg.LLM.Providers[0].APIKey)
	}
	if cfg.LLM.Providers[1].APIKey != "plain-key" {
		t.Errorf("plain key changed to %q", cfg.LLM.Providers[1].APIKey)
	}
	if cfg.Search.SerperAPIKey != "serper-secret" {
		t.Errorf("serper key = %q", cfg.Search.SerperAPIKey)
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "load-key"
	enc, err := EncryptValue("sk-loaded", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "llm:\n  default_provider: openai\n  providers:\n    - name: openai\n      model: gpt-4o-mini\n      api_key: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROUNDTABLE_CONFIG_KEY", passphrase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-loaded" {
		t.Errorf("APIKey = %q", cfg.LLM.Providers[0].APIKey)
	}
}
