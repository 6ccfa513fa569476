package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, loaded from EXTRACTD_* environment
// variables with sensible defaults for a single-node deployment.
type Config struct {
	ListenAddr string
	DBPath     string
	UploadsDir string
	OutputsDir string

	Workers     int
	QueueSize   int
	MaxFileSize int64 // bytes

	Retention       time.Duration // completed-job retention
	PendingTTL      time.Duration // abandoned-pending reclamation
	UploadRetention time.Duration // staged-upload retention
	CleanupInterval time.Duration

	RateLimitRPS int      // per-IP submissions per second, 0 disables
	APIKeys      []string // empty disables authentication
	CORSOrigins  []string

	LegacyJobsFile string // one-time JSON import source, empty disables
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     getEnv("EXTRACTD_LISTEN_ADDR", ":8081"),
		DBPath:         getEnv("EXTRACTD_DB_PATH", "data/jobs.db"),
		UploadsDir:     getEnv("EXTRACTD_UPLOADS_DIR", "uploads"),
		OutputsDir:     getEnv("EXTRACTD_OUTPUTS_DIR", "outputs"),
		LegacyJobsFile: getEnv("EXTRACTD_LEGACY_JOBS_FILE", ""),
	}

	var err error
	if cfg.Workers, err = getEnvInt("EXTRACTD_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, errors.New("EXTRACTD_WORKERS must be > 0")
	}
	if cfg.QueueSize, err = getEnvInt("EXTRACTD_QUEUE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.QueueSize < 1 {
		return nil, errors.New("EXTRACTD_QUEUE_SIZE must be > 0")
	}

	maxMB, err := getEnvInt("EXTRACTD_MAX_FILE_SIZE_MB", 50)
	if err != nil {
		return nil, err
	}
	if maxMB < 1 {
		return nil, errors.New("EXTRACTD_MAX_FILE_SIZE_MB must be > 0")
	}
	cfg.MaxFileSize = int64(maxMB) << 20

	if cfg.Retention, err = getEnvHours("EXTRACTD_RETENTION_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.PendingTTL, err = getEnvHours("EXTRACTD_PENDING_TTL_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.UploadRetention, err = getEnvHours("EXTRACTD_UPLOAD_RETENTION_HOURS", 1); err != nil {
		return nil, err
	}

	cleanupMin, err := getEnvInt("EXTRACTD_CLEANUP_INTERVAL_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	if cleanupMin < 1 {
		return nil, errors.New("EXTRACTD_CLEANUP_INTERVAL_MINUTES must be > 0")
	}
	cfg.CleanupInterval = time.Duration(cleanupMin) * time.Minute

	if cfg.RateLimitRPS, err = getEnvInt("EXTRACTD_RATE_LIMIT_RPS", 0); err != nil {
		return nil, err
	}

	cfg.APIKeys = splitList(os.Getenv("EXTRACTD_API_KEYS"))
	cfg.CORSOrigins = splitList(getEnv("EXTRACTD_CORS_ORIGINS", "*"))

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getEnvHours(key string, fallback int) (time.Duration, error) {
	n, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return time.Duration(n) * time.Hour, nil
}
