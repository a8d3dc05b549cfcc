package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "DATABASE_URL", "DB_LOCK_TIMEOUT_MS", "SYNC_PROCEDURES", "SYNC_API_URL", "SYNC_HTTP_TIMEOUT_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != 5000 {
		t.Errorf("HTTPPort = %d, want 5000", cfg.HTTPPort)
	}
	if cfg.LockTimeout() != 5*time.Second {
		t.Errorf("LockTimeout() = %v, want 5s", cfg.LockTimeout())
	}
	if cfg.SyncAPIURL != "http://localhost:5000/api" {
		t.Errorf("SyncAPIURL = %q", cfg.SyncAPIURL)
	}
	if cfg.SyncHTTPTimeout() != 30*time.Second {
		t.Errorf("SyncHTTPTimeout() = %v, want 30s", cfg.SyncHTTPTimeout())
	}
	if cfg.SyncProcedures != "" {
		t.Errorf("SyncProcedures = %q, want empty", cfg.SyncProcedures)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "8081")
	t.Setenv("DB_LOCK_TIMEOUT_MS", "250")
	t.Setenv("SYNC_PROCEDURES", "InProcess")
	t.Setenv("SYNC_API_URL", "http://sync.local/api/")
	t.Setenv("JWT_EXPIRY_HOURS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPPort != 8081 {
		t.Errorf("HTTPPort = %d, want 8081", cfg.HTTPPort)
	}
	if cfg.LockTimeout() != 250*time.Millisecond {
		t.Errorf("LockTimeout() = %v", cfg.LockTimeout())
	}
	if cfg.SyncProcedures != ProceduresInProcess {
		t.Errorf("SyncProcedures = %q", cfg.SyncProcedures)
	}
	if cfg.SyncAPIURL != "http://sync.local/api" {
		t.Errorf("SyncAPIURL = %q, trailing slash should be trimmed", cfg.SyncAPIURL)
	}
	if cfg.JWTExpiryHours != 24 {
		t.Errorf("JWTExpiryHours = %d, want fallback 24", cfg.JWTExpiryHours)
	}
}

func TestResolveJWTSecret_PersistsGeneratedSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".jwt_secret")
	cfg := &Config{JWTSecretFile: path}

	cfg.ResolveJWTSecret()
	if len(cfg.JWTSecret) != 64 {
		t.Fatalf("generated secret length = %d, want 64", len(cfg.JWTSecret))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("secret file not written: %v", err)
	}
	if string(data) != cfg.JWTSecret {
		t.Error("persisted secret differs from resolved secret")
	}

	again := &Config{JWTSecretFile: path}
	again.ResolveJWTSecret()
	if again.JWTSecret != cfg.JWTSecret {
		t.Error("second resolve should load the persisted secret")
	}
}

func TestResolveJWTSecret_EnvWins(t *testing.T) {
	cfg := &Config{JWTSecret: "from-env", JWTSecretFile: filepath.Join(t.TempDir(), "unused")}
	cfg.ResolveJWTSecret()
	if cfg.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
}
