package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8081" {
		t.Errorf("ListenAddr = %q, want :8081", cfg.ListenAddr)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.MaxFileSize != 50<<20 {
		t.Errorf("MaxFileSize = %d, want 50 MiB", cfg.MaxFileSize)
	}
	if cfg.Retention != 24*time.Hour {
		t.Errorf("Retention = %s, want 24h", cfg.Retention)
	}
	if cfg.UploadRetention != time.Hour {
		t.Errorf("UploadRetention = %s, want 1h", cfg.UploadRetention)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %s, want 1h", cfg.CleanupInterval)
	}
	if len(cfg.APIKeys) != 0 {
		t.Errorf("APIKeys = %v, want none by default", cfg.APIKeys)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v, want [*]", cfg.CORSOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EXTRACTD_LISTEN_ADDR", ":9000")
	t.Setenv("EXTRACTD_WORKERS", "8")
	t.Setenv("EXTRACTD_MAX_FILE_SIZE_MB", "10")
	t.Setenv("EXTRACTD_RETENTION_HOURS", "48")
	t.Setenv("EXTRACTD_API_KEYS", "key-a, key-b,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.MaxFileSize != 10<<20 {
		t.Errorf("MaxFileSize = %d, want 10 MiB", cfg.MaxFileSize)
	}
	if cfg.Retention != 48*time.Hour {
		t.Errorf("Retention = %s, want 48h", cfg.Retention)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "key-a" || cfg.APIKeys[1] != "key-b" {
		t.Errorf("APIKeys = %v, want [key-a key-b]", cfg.APIKeys)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"EXTRACTD_WORKERS":          "0",
		"EXTRACTD_QUEUE_SIZE":       "-1",
		"EXTRACTD_MAX_FILE_SIZE_MB": "zero",
		"EXTRACTD_RETENTION_HOURS":  "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Errorf("Load with %s=%s succeeded, want error", key, val)
			}
		})
	}
}
