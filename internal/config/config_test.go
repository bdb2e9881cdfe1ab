package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"env": "test",
		"port": 9090,
		"jobs": {"max_concurrent": 4},
		"marketplaces": {
			"trendyol": {
				"base_url": "https://example.com",
				"rate_limit": {"capacity": 30, "period_seconds": 10}
			}
		}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != 9090 || cfg.Env != "test" {
		t.Errorf("basic fields not loaded: %+v", cfg)
	}
	if cfg.Jobs.MaxConcurrent != 4 {
		t.Errorf("explicit max_concurrent overridden: %d", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Marketplaces["trendyol"].RateLimit.Capacity != 30 {
		t.Errorf("marketplace rate limit not loaded: %+v", cfg.Marketplaces["trendyol"])
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"marketplaces": {"n11": {}}}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Jobs.MaxConcurrent != 10 {
		t.Errorf("default max_concurrent: got %d, want 10", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Jobs.QuotaRetryAttempts != 3 || cfg.Jobs.QuotaRetryDelaySeconds != 300 {
		t.Errorf("default quota retry policy: %+v", cfg.Jobs)
	}

	mp := cfg.Marketplaces["n11"]
	if mp.CreateBatchSize != 50 || mp.UpdateBatchSize != 100 {
		t.Errorf("default batch sizes: %+v", mp)
	}
	if mp.RateLimit.Capacity != 20 || mp.RateLimit.PeriodSeconds != 10 {
		t.Errorf("default rate limit: %+v", mp.RateLimit)
	}

	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("default cors origins: %+v", cfg.CORS.AllowedOrigins)
	}
	if len(cfg.CORS.AllowedMethods) == 0 || len(cfg.CORS.AllowedHeaders) == 0 {
		t.Errorf("default cors methods/headers not filled: %+v", cfg.CORS)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
