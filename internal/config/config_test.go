package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"pipelinecore/internal/blob"
)

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `version: 1
storage:
  driver: postgres
  dsn: postgres://ci:ci@db/pipelinecore
artifacts:
  driver: s3
  s3:
    bucket: ci-artifacts
    region: eu-central-1
    pathStyle: true
sealing:
  passwordEnv: CI_SEAL_PASSWORD
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, from, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if from != path {
		t.Fatalf("from = %s", from)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://ci:ci@db/pipelinecore" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Artifacts.S3.Bucket != "ci-artifacts" || !cfg.Artifacts.S3.PathStyle {
		t.Fatalf("artifacts = %+v", cfg.Artifacts)
	}
	if cfg.Sealing.PasswordEnv != "CI_SEAL_PASSWORD" {
		t.Fatalf("sealing = %+v", cfg.Sealing)
	}
}

func TestLoadFromPathAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, _, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./pipelinecore.db" {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Artifacts.Driver != "fs" || cfg.Artifacts.Root != "./artifacts" {
		t.Fatalf("artifact defaults = %+v", cfg.Artifacts)
	}
	if cfg.Sealing.PasswordEnv != "PIPELINECORE_SEAL_PASSWORD" {
		t.Fatalf("sealing defaults = %+v", cfg.Sealing)
	}
}

func TestLoadFromPathParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\tnot yaml"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := LoadFromPath(path); err == nil {
		t.Fatal("malformed yaml must fail")
	}
}

func TestFindConfigPathEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explicit.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvConfigPath, path)
	if got := FindConfigPath(); got != path {
		t.Fatalf("path = %s, want %s", got, path)
	}

	// A nonexistent override falls through to the other locations.
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	if got := FindConfigPath(); got == filepath.Join(t.TempDir(), "missing.yaml") {
		t.Fatalf("must not return a missing file, got %s", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Storage.Driver = "memory"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, _, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Storage.Driver != "memory" {
		t.Fatalf("driver = %s", loaded.Storage.Driver)
	}
}

func TestOpenArtifacts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Artifacts.Driver = "memory"
	store, err := cfg.OpenArtifacts(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != blob.DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}

	cfg.Artifacts.Driver = "tape"
	if _, err := cfg.OpenArtifacts(context.Background()); err == nil {
		t.Fatal("unknown driver must fail")
	}
}

func TestSealingPassword(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sealing.PasswordEnv = "PIPELINECORE_TEST_SEAL"
	t.Setenv("PIPELINECORE_TEST_SEAL", "hunter2")
	if got := cfg.SealingPassword(); got != "hunter2" {
		t.Fatalf("password = %q", got)
	}
}
