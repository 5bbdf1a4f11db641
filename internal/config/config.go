// Package config loads the pipeline configuration: defaults, then an
// optional JSON or YAML file, then environment overrides, then struct
// validation. Precedence is env > file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Checks   ChecksConfig   `json:"checks" yaml:"checks"`
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
	Reports  ReportsConfig  `json:"reports" yaml:"reports"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// CacheConfig controls the cache store and the freshness gate.
type CacheConfig struct {
	Backend    string `json:"backend" yaml:"backend" validate:"oneof=memory duckdb"`
	Path       string `json:"path" yaml:"path"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" validate:"min=1"`
}

// ChecksConfig holds the validation thresholds.
type ChecksConfig struct {
	ExtremeMoveThreshold float64 `json:"extreme_move_threshold" yaml:"extreme_move_threshold" validate:"gt=0,lte=1"`
	StagnantBarRatio     float64 `json:"stagnant_bar_ratio_threshold" yaml:"stagnant_bar_ratio_threshold" validate:"gt=0,lte=1"`
	MaxAnomalySamples    int     `json:"max_anomaly_samples" yaml:"max_anomaly_samples" validate:"min=1"`
}

// FetchConfig controls the fetch collaborator. Delays are Go duration
// strings ("500ms", "10s").
type FetchConfig struct {
	Source        string `json:"source" yaml:"source"`
	RetryAttempts int    `json:"retry_attempts" yaml:"retry_attempts" validate:"min=1,max=10"`
	RetryDelay    string `json:"retry_delay" yaml:"retry_delay"`
	RetryMaxDelay string `json:"retry_max_delay" yaml:"retry_max_delay"`
	RetryStrategy string `json:"retry_strategy" yaml:"retry_strategy" validate:"oneof=exponential fixed"`
}

// RetryDelayDuration parses RetryDelay, falling back to the default.
func (f FetchConfig) RetryDelayDuration() time.Duration {
	return parseDuration(f.RetryDelay, 500*time.Millisecond)
}

// RetryMaxDelayDuration parses RetryMaxDelay, falling back to the default.
func (f FetchConfig) RetryMaxDelayDuration() time.Duration {
	return parseDuration(f.RetryMaxDelay, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// PipelineConfig controls orchestration.
type PipelineConfig struct {
	Symbols    []string `json:"symbols" yaml:"symbols"`
	Timeframes []string `json:"timeframes" yaml:"timeframes"`
	StartDate  string   `json:"start_date" yaml:"start_date"`
	EndDate    string   `json:"end_date" yaml:"end_date"`
	Workers    int      `json:"workers" yaml:"workers" validate:"min=1,max=64"`
	RatePerSec float64  `json:"rate_per_sec" yaml:"rate_per_sec" validate:"gt=0"`
}

// ScheduleConfig controls cron-driven refresh.
type ScheduleConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Cron    string `json:"cron" yaml:"cron"`
}

// ReportsConfig controls the quality report sinks.
type ReportsConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `json:"format" yaml:"format" validate:"oneof=json text"`
	Output     string `json:"output" yaml:"output" validate:"oneof=stdout stderr file"`
	FilePath   string `json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:    "duckdb",
			Path:       "data/bars.duckdb",
			MaxAgeDays: 7,
		},
		Checks: ChecksConfig{
			ExtremeMoveThreshold: 0.20,
			StagnantBarRatio:     0.50,
			MaxAnomalySamples:    10,
		},
		Fetch: FetchConfig{
			Source:        "data/feeds",
			RetryAttempts: 3,
			RetryDelay:    "500ms",
			RetryMaxDelay: "10s",
			RetryStrategy: "exponential",
		},
		Pipeline: PipelineConfig{
			Timeframes: []string{"daily", "weekly"},
			Workers:    4,
			RatePerSec: 5,
		},
		Schedule: ScheduleConfig{
			Cron: "0 18 * * 1-5",
		},
		Reports: ReportsConfig{
			Dir: "reports",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration from defaults, the optional file at path,
// and environment overrides, then validates it.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
		logger.Debug("config file loaded", "path", path)
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BARS_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("BARS_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("BARS_CACHE_MAX_AGE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxAgeDays = n
		}
	}
	if v := os.Getenv("BARS_EXTREME_MOVE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Checks.ExtremeMoveThreshold = f
		}
	}
	if v := os.Getenv("BARS_STAGNANT_BAR_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Checks.StagnantBarRatio = f
		}
	}
	if v := os.Getenv("BARS_MAX_ANOMALY_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checks.MaxAnomalySamples = n
		}
	}
	if v := os.Getenv("BARS_FETCH_SOURCE"); v != "" {
		cfg.Fetch.Source = v
	}
	if v := os.Getenv("BARS_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.RetryAttempts = n
		}
	}
	if v := os.Getenv("BARS_SYMBOLS"); v != "" {
		cfg.Pipeline.Symbols = splitList(v)
	}
	if v := os.Getenv("BARS_TIMEFRAMES"); v != "" {
		cfg.Pipeline.Timeframes = splitList(v)
	}
	if v := os.Getenv("BARS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("BARS_SCHEDULE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Schedule.Enabled = b
		}
	}
	if v := os.Getenv("BARS_SCHEDULE_CRON"); v != "" {
		cfg.Schedule.Cron = v
	}
	if v := os.Getenv("BARS_REPORTS_DIR"); v != "" {
		cfg.Reports.Dir = v
	}
	if v := os.Getenv("BARS_REPORTS_SQLITE_PATH"); v != "" {
		cfg.Reports.SQLitePath = v
	}
	if v := os.Getenv("BARS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BARS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BARS_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("BARS_LOG_FILE_PATH"); v != "" {
		cfg.Logging.FilePath = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Cache.Backend == "duckdb" && cfg.Cache.Path == "" {
		return fmt.Errorf("invalid configuration: cache.path required for duckdb backend")
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("invalid configuration: logging.file_path required for file output")
	}
	for _, tf := range cfg.Pipeline.Timeframes {
		if !knownTimeframe(tf) {
			return fmt.Errorf("invalid configuration: unsupported timeframe %q", tf)
		}
	}
	return nil
}

// Kept local so config does not depend on models.
var supportedTimeframes = map[string]bool{
	"daily": true, "weekly": true, "monthly": true,
	"1min": true, "5min": true, "15min": true, "30min": true, "60min": true,
}

func knownTimeframe(tf string) bool {
	return supportedTimeframes[tf]
}
