package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Window store backend: "redis" (shared, multi-instance) or "memory"
	// (single instance). Chosen here at startup, never sniffed at runtime.
	WindowStoreBackend string
	RedisAddr          string

	// Admission
	StoreTimeout time.Duration // per window-store call
	UpgradeURL   string        // included in quota-exceeded responses
	AdminToken   string        // gates /v1/admin routes

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	OTELSampleRatio      float64

	// Optional YAML file overriding built-in rate-limit policies and
	// plan quota ceilings.
	PolicyFile string
	Policies   *PolicyFileConfig
}

// PolicyFileConfig mirrors the YAML policy file layout.
type PolicyFileConfig struct {
	Policies map[string]PolicyEntry      `yaml:"policies"`
	Plans    map[string]map[string]int64 `yaml:"plans"`
}

type PolicyEntry struct {
	Points int `yaml:"points"`
	Window int `yaml:"window_seconds"`
	Block  int `yaml:"block_seconds"`
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		WindowStoreBackend:   getEnv("WINDOW_STORE", "redis"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		UpgradeURL:           getEnv("UPGRADE_URL", "https://app.brandforge.io/settings/billing"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		PolicyFile:           os.Getenv("POLICY_FILE"),
	}

	timeoutMsStr := getEnv("STORE_TIMEOUT_MS", "500")
	timeoutMs, err := strconv.ParseInt(timeoutMsStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_TIMEOUT_MS: %w", err)
	}
	cfg.StoreTimeout = time.Duration(timeoutMs) * time.Millisecond

	ratioStr := getEnv("OTEL_SAMPLE_RATIO", "1.0")
	ratio, err := strconv.ParseFloat(ratioStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OTEL_SAMPLE_RATIO: %w", err)
	}
	cfg.OTELSampleRatio = ratio

	if cfg.PolicyFile != "" {
		pf, err := loadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Policies = pf
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	// Redis also backs the auth cache, so it is required in both modes.
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.WindowStoreBackend != "redis" && cfg.WindowStoreBackend != "memory" {
		return nil, fmt.Errorf("invalid WINDOW_STORE %q (want redis or memory)", cfg.WindowStoreBackend)
	}

	return cfg, nil
}

func loadPolicyFile(path string) (*PolicyFileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var pf PolicyFileConfig
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return &pf, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
