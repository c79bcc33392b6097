package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultSyncSchedule runs the recurring sync once a day at midnight.
const DefaultSyncSchedule = "0 0 * * *"

type Config struct {
	Addr           string           `yaml:"addr"`
	APITimeout     time.Duration    `yaml:"timeout"`
	DatabasePath   string           `yaml:"database_path"`
	MigrateOnStart bool             `yaml:"migrate_on_start"`
	LogLevel       string           `yaml:"log_level"`
	Codeforces     CodeforcesConfig `yaml:"codeforces"`
	Sync           SyncConfig       `yaml:"sync"`
	Jobs           JobsConfig       `yaml:"jobs"`
	Redis          RedisConfig      `yaml:"redis"`
}

type CodeforcesConfig struct {
	BaseURL                 string        `yaml:"base_url"`
	Timeout                 time.Duration `yaml:"timeout"`
	SubmissionCount         int           `yaml:"submission_count"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

type SyncConfig struct {
	// DefaultSchedule arms the recurring job while no schedule is persisted.
	DefaultSchedule string        `yaml:"default_schedule"`
	StudentTimeout  time.Duration `yaml:"student_timeout"`
	LockKey         string        `yaml:"lock_key"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

type JobsConfig struct {
	Workers     int `yaml:"workers"`
	MaxAttempts int `yaml:"max_attempts"`
}

// RedisConfig enables the batch lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func LoadConfig(path string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           getEnv("CFTRACK_ADDR", ":5000"),
		APITimeout:     15 * time.Second,
		DatabasePath:   getEnv("CFTRACK_DATABASE_PATH", "cftrack.db"),
		MigrateOnStart: true,
		LogLevel:       getEnv("CFTRACK_LOG_LEVEL", "info"),
		Sync: SyncConfig{
			DefaultSchedule: getEnv("STUDENT_SYNC_CRON", DefaultSyncSchedule),
		},
		Redis: RedisConfig{
			Addr:     getEnv("CFTRACK_REDIS_ADDR", ""),
			Password: getEnv("CFTRACK_REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("CFTRACK_REDIS_DB", 0),
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate fills unset values with defaults and rejects values the server
// cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	if c.APITimeout <= 0 {
		c.APITimeout = 15 * time.Second
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	cf := &c.Codeforces
	if cf.BaseURL == "" {
		cf.BaseURL = "https://codeforces.com/api"
	}
	if cf.Timeout <= 0 {
		cf.Timeout = 30 * time.Second
	}
	if cf.SubmissionCount == 0 {
		cf.SubmissionCount = 10000
	}
	if cf.SubmissionCount < 0 {
		return fmt.Errorf("codeforces.submission_count must be positive, got %d", cf.SubmissionCount)
	}
	if cf.CircuitFailureThreshold == 0 {
		cf.CircuitFailureThreshold = 5
	}
	if cf.CircuitReset <= 0 {
		cf.CircuitReset = time.Minute
	}

	s := &c.Sync
	if s.DefaultSchedule == "" {
		s.DefaultSchedule = DefaultSyncSchedule
	}
	if _, err := cron.ParseStandard(s.DefaultSchedule); err != nil {
		return fmt.Errorf("sync.default_schedule %q: %w", s.DefaultSchedule, err)
	}
	if s.StudentTimeout <= 0 {
		s.StudentTimeout = 2 * time.Minute
	}
	if s.LockKey == "" {
		s.LockKey = "cftrack:sync:all"
	}
	if s.LockTTL <= 0 {
		s.LockTTL = time.Hour
	}

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 1
	}
	if c.Jobs.MaxAttempts <= 0 {
		c.Jobs.MaxAttempts = 3
	}

	return nil
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getEnvAsInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}

	return def
}
