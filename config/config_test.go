package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_RequiresPostgresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without POSTGRES_DSN")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/brandforge")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.WindowStoreBackend != "redis" {
		t.Errorf("expected default redis backend, got %s", cfg.WindowStoreBackend)
	}
	if cfg.StoreTimeout.Milliseconds() != 500 {
		t.Errorf("expected default 500ms store timeout, got %v", cfg.StoreTimeout)
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/brandforge")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("WINDOW_STORE", "etcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown window store backend")
	}
}

func TestLoad_PolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	content := `
policies:
  analysis:
    points: 40
    window_seconds: 60
    block_seconds: 180
plans:
  basic:
    ai_tokens: 250000
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("POSTGRES_DSN", "postgres://localhost/brandforge")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("POLICY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Policies == nil {
		t.Fatal("expected policy file parsed")
	}
	if cfg.Policies.Policies["analysis"].Points != 40 {
		t.Errorf("unexpected analysis points: %+v", cfg.Policies.Policies["analysis"])
	}
	if cfg.Policies.Plans["basic"]["ai_tokens"] != 250_000 {
		t.Errorf("unexpected basic ceiling: %v", cfg.Policies.Plans["basic"])
	}
}
