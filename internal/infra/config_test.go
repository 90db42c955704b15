package infra

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("WORKER_SECRET", "worker-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/files" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.PollInterval != 5*time.Second || cfg.PollMaxAttempts != 60 {
		t.Fatalf("poll defaults mismatch: %s x %d", cfg.PollInterval, cfg.PollMaxAttempts)
	}
	if cfg.AbandonedIngestAfter != 15*time.Minute || cfg.StuckItemAfter != 0 {
		t.Fatalf("sweeper defaults mismatch: %s %s", cfg.AbandonedIngestAfter, cfg.StuckItemAfter)
	}
	if cfg.SourceURLTTL != 10*time.Minute || cfg.OutputURLTTL != 24*time.Hour || cfg.BundleURLTTL != time.Hour {
		t.Fatalf("ttl defaults mismatch: %+v", cfg)
	}
	if cfg.StorageSigningKey != "worker-secret" {
		t.Fatalf("expected signing key to fall back to worker secret, got %q", cfg.StorageSigningKey)
	}
	if cfg.UsesDatabase() {
		t.Fatal("expected no database without DATABASE_URL")
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/files" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigHonorsExplicitStorageBaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("STORAGE_BASE_URL", "https://cdn.example.com/files/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "https://cdn.example.com/files" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("WORKER_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when secrets are missing")
	}
}

func TestLoadConfigS3RequiresBucket(t *testing.T) {
	setRequired(t)
	t.Setenv("STORAGE_DRIVER", "S3")
	t.Setenv("S3_BUCKET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for s3 driver without bucket")
	}
}

func TestLoadConfigClampsConcurrency(t *testing.T) {
	setRequired(t)
	t.Setenv("ITEM_CONCURRENCY", "0")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ItemConcurrency != 1 {
		t.Fatalf("expected concurrency clamp to 1, got %d", cfg.ItemConcurrency)
	}
}
