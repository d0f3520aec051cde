package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ALLOWED_ORIGIN", "ACCESS_TOKEN_TTL_MINUTES", "REDIS_DB"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected address :8080, got %s", cfg.Address())
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGIN", "https://bar.example")
	t.Setenv("DATABASE_URL", "postgres://localhost/barstock")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AUTH_SECRET", "  spaced-secret  ")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")

	cfg := Load()
	if cfg.Port != "9090" || cfg.AllowedOrigin != "https://bar.example" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.DatabaseURL != "postgres://localhost/barstock" || cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 3 {
		t.Fatalf("storage config not applied: %+v", cfg)
	}
	if cfg.AuthSecret != "spaced-secret" {
		t.Fatalf("expected trimmed secret, got %q", cfg.AuthSecret)
	}
	if cfg.AccessTokenTTLMinutes != 60 {
		t.Fatalf("expected TTL 60, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadRejectsBadTTL(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}
