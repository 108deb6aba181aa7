package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "DATABASE_URL", "REDIS_URL", "MEILI_URL", "FOLIO_NOTIFY_TTL_MS", "FOLIO_LIST_CACHE_TTL_SECONDS"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.Addr != ":8790" {
		t.Errorf("Addr = %q, want :8790", cfg.Addr)
	}
	if cfg.RedisURL != "" || cfg.MeiliURL != "" {
		t.Errorf("expected optional backends off by default, got redis=%q meili=%q", cfg.RedisURL, cfg.MeiliURL)
	}
	if cfg.NotifyTTL != 3*time.Second {
		t.Errorf("NotifyTTL = %v, want 3s", cfg.NotifyTTL)
	}
	if cfg.ListCacheTTL != time.Minute {
		t.Errorf("ListCacheTTL = %v, want 1m", cfg.ListCacheTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("DATABASE_URL", "sqlite:///tmp/folio.db")
	t.Setenv("FOLIO_API_TIMEOUT_SECONDS", "5")
	t.Setenv("FOLIO_NOTIFY_TTL_MS", "250")
	cfg := Load()

	if cfg.Addr != ":9000" || cfg.DatabaseURL != "sqlite:///tmp/folio.db" {
		t.Errorf("unexpected overrides %+v", cfg)
	}
	if cfg.APITimeout != 5*time.Second {
		t.Errorf("APITimeout = %v, want 5s", cfg.APITimeout)
	}
	if cfg.NotifyTTL != 250*time.Millisecond {
		t.Errorf("NotifyTTL = %v, want 250ms", cfg.NotifyTTL)
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("FOLIO_TEST_INT", "soon")
	if got := getenvInt("FOLIO_TEST_INT", 7); got != 7 {
		t.Errorf("getenvInt = %d, want 7", got)
	}
}
