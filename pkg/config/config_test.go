package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: qwen2.5
search:
  base_url: http://searx:8080
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Model != "qwen2.5" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("base_url default not applied: %q", cfg.LLM.BaseURL)
	}
	if cfg.Search.BaseURL != "http://searx:8080" {
		t.Errorf("search base_url = %q", cfg.Search.BaseURL)
	}
	if cfg.Executor.BaseIterations != 8 {
		t.Errorf("base_iterations default = %d", cfg.Executor.BaseIterations)
	}
	if cfg.Memory.TTL != "30m" {
		t.Errorf("memory ttl default = %q", cfg.Memory.TTL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
llm:
  timeout: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable timeout")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.LLM.BaseURL == "" || cfg.Executor.BaseIterations != 8 {
		t.Errorf("fallback config incomplete: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LLM_BASE_URL", "http://gpu-box:11434")
	t.Setenv("LLM_API_KEY", "sk-test")

	path := writeConfig(t, `
llm:
  base_url: http://from-file:11434
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.BaseURL != "http://gpu-box:11434" {
		t.Errorf("env override lost: %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api key override lost: %q", cfg.LLM.APIKey)
	}
}

func TestRetryPolicyWithOverrides(t *testing.T) {
	path := writeConfig(t, `
executor:
  retry:
    max_retries: 3
    base_delay: 500ms
    max_delay: 10s
    multiplier: 2.0
  retry_overrides:
    web_search:
      max_retries: 5
      base_delay: 200ms
      max_delay: 2s
      multiplier: 1.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	policy, err := cfg.RetryPolicy()
	if err != nil {
		t.Fatalf("RetryPolicy failed: %v", err)
	}

	def := policy.ConfigFor("browse_page")
	if def.MaxRetries != 3 || def.BaseDelay != 500*time.Millisecond {
		t.Errorf("default retry config = %+v", def)
	}
	search := policy.ConfigFor("web_search")
	if search.MaxRetries != 5 || search.BaseDelay != 200*time.Millisecond {
		t.Errorf("web_search override = %+v", search)
	}
}

func TestRetryPolicyRejectsBadDelay(t *testing.T) {
	path := writeConfig(t, `
executor:
  retry:
    max_retries: 2
    base_delay: whenever
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable retry delay")
	}
}

func TestSessionUsers(t *testing.T) {
	path := writeConfig(t, `
auth:
  tokens:
    - token: tok-alpha
      user_id: u1
      name: Dana
    - token: tok-beta
      user_id: u2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	users := cfg.SessionUsers()
	if len(users) != 2 {
		t.Fatalf("users = %v", users)
	}
	if u := users["tok-alpha"]; u.ID != "u1" || u.Name != "Dana" {
		t.Errorf("tok-alpha = %+v", u)
	}
}

func TestAuthTokenValidation(t *testing.T) {
	path := writeConfig(t, `
auth:
  tokens:
    - token: tok-alpha
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for token entry without user_id")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.LLM.Model = "mistral"

	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if loaded.LLM.Model != "mistral" {
		t.Errorf("model after round trip = %q", loaded.LLM.Model)
	}
}
