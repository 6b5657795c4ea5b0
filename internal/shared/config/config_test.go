package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("MAX_UPLOAD_SIZE", "")
	t.Setenv("ENGINE_TIMEOUT", "")
	t.Setenv("DISPATCH_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineTimeout != 120*time.Second {
		t.Fatalf("expected 120s engine timeout, got %s", cfg.EngineTimeout)
	}
	if cfg.EngineLanguage != "vi" {
		t.Fatalf("expected vi language, got %q", cfg.EngineLanguage)
	}
	if cfg.MaxUploadBytes != 10_000_000 {
		t.Fatalf("expected 10MB upload limit, got %d", cfg.MaxUploadBytes)
	}
	if cfg.DispatchMode != DispatchInline {
		t.Fatalf("expected inline dispatch, got %q", cfg.DispatchMode)
	}
	if cfg.TrialMaxUploads != 5 || cfg.TrialDays != 30 {
		t.Fatalf("unexpected trial defaults: %d/%d", cfg.TrialMaxUploads, cfg.TrialDays)
	}
}

func TestLoadParsesHumanUploadSize(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("MAX_UPLOAD_SIZE", "512kB")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxUploadBytes != 512_000 {
		t.Fatalf("expected 512000, got %d", cfg.MaxUploadBytes)
	}
}

func TestLoadRejectsBadUploadSize(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("MAX_UPLOAD_SIZE", "lots")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid size")
	}
}

func TestValidateRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := Config{Env: "production", JWTSecret: "s", MaxUploadBytes: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected DATABASE_URL error")
	}
	cfg.DatabaseURL = "postgres://x"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateDispatchRequirements(t *testing.T) {
	cfg := Config{Env: "dev", MaxUploadBytes: 1, DispatchMode: DispatchSQS}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected SQS_QUEUE_URL error")
	}
	cfg.DispatchMode = DispatchRedis
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected REDIS_URL error")
	}
}

func TestLoadEnvFilesKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nCONTRACT_TEST_A=\"from-file\"\nexport CONTRACT_TEST_B=b\nbroken\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CONTRACT_TEST_A", "from-env")
	os.Unsetenv("CONTRACT_TEST_B")
	t.Cleanup(func() { os.Unsetenv("CONTRACT_TEST_B") })

	loadEnvFiles(path)

	if got := os.Getenv("CONTRACT_TEST_A"); got != "from-env" {
		t.Fatalf("expected existing value kept, got %q", got)
	}
	if got := os.Getenv("CONTRACT_TEST_B"); got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
}
