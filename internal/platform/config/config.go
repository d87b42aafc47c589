package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr              string        `yaml:"addr"`
	DatabaseURL       string        `yaml:"databaseUrl"`
	JWTSecret         string        `yaml:"jwtSecret"`
	FrontendDir       string        `yaml:"frontendDir"`
	Environment       string        `yaml:"environment"`
	SeedAdminEmail    string        `yaml:"seedAdminEmail"`
	SeedAdminPassword string        `yaml:"seedAdminPassword"`
	RunMigrations     bool          `yaml:"runMigrations"`
	RunSeed           bool          `yaml:"runSeed"`
	MaxBodyBytes      int64         `yaml:"maxBodyBytes"`
	RateLimitPerMin   int           `yaml:"rateLimitPerMinute"`
	SessionTTL        time.Duration `yaml:"-"`
	AutosaveDebounce  time.Duration `yaml:"-"`
	ReportDir         string        `yaml:"reportDir"`
}

// Load reads configuration from the environment, optionally overlaid on a
// YAML file named by APP_CONFIG. Environment variables win over file values.
func Load() Config {
	cfg := Config{
		Addr:             ":8080",
		FrontendDir:      "frontend/dist",
		Environment:      "development",
		RunMigrations:    true,
		RunSeed:          true,
		MaxBodyBytes:     1048576,
		RateLimitPerMin:  120,
		SessionTTL:       8 * time.Hour,
		AutosaveDebounce: 500 * time.Millisecond,
		ReportDir:        "storage/reports",
	}

	if path := os.Getenv("APP_CONFIG"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}

	cfg.Addr = getEnv("APP_ADDR", cfg.Addr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.FrontendDir = getEnv("FRONTEND_DIR", cfg.FrontendDir)
	cfg.Environment = getEnv("APP_ENV", cfg.Environment)
	cfg.SeedAdminEmail = getEnv("SEED_ADMIN_EMAIL", cfg.SeedAdminEmail)
	cfg.SeedAdminPassword = getEnv("SEED_ADMIN_PASSWORD", cfg.SeedAdminPassword)
	cfg.RunMigrations = getEnvBool("RUN_MIGRATIONS", cfg.RunMigrations)
	cfg.RunSeed = getEnvBool("RUN_SEED", cfg.RunSeed)
	cfg.MaxBodyBytes = int64(getEnvInt("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMin)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.AutosaveDebounce = getEnvDuration("AUTOSAVE_DEBOUNCE", cfg.AutosaveDebounce)
	cfg.ReportDir = getEnv("REPORT_DIR", cfg.ReportDir)

	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Environment == "production" {
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if c.RunSeed && strings.TrimSpace(c.SeedAdminPassword) == "" {
			return fmt.Errorf("SEED_ADMIN_PASSWORD must be changed or RUN_SEED disabled in production")
		}
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.AutosaveDebounce <= 0 {
		return fmt.Errorf("AUTOSAVE_DEBOUNCE must be positive")
	}
	return nil
}
