package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Backend names.
const (
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendCloudWatch = "cloudwatch"
	BackendDynamoDB   = "dynamodb"
)

// Threshold statistics.
const (
	StatisticMax = "max"
	StatisticSum = "sum"
)

// Config represents the application configuration
type Config struct {
	S3         S3Config         `koanf:"s3"`
	Bucket     string           `koanf:"bucket"`
	History    HistoryConfig    `koanf:"history"`
	TimeSeries TimeSeriesConfig `koanf:"timeseries"`
	Queue      QueueConfig      `koanf:"queue"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Threshold  ThresholdConfig  `koanf:"threshold"`
	Log        LogConfig        `koanf:"log"`
}

type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	PathStyle bool   `koanf:"path_style"`
}

type HistoryConfig struct {
	Backend   string        `koanf:"backend"` // cloudwatch | sqlite | memory
	LogGroup  string        `koanf:"log_group"`
	LogStream string        `koanf:"log_stream"`
	Lookback  time.Duration `koanf:"lookback"`
	PageSize  int           `koanf:"page_size"`
}

type TimeSeriesConfig struct {
	Backend   string `koanf:"backend"` // sqlite | dynamodb | memory
	DBPath    string `koanf:"db_path"`
	Table     string `koanf:"table"`
	SizeIndex string `koanf:"size_index"`
}

type QueueConfig struct {
	URL         string `koanf:"url"`
	WaitSeconds int    `koanf:"wait_seconds"`
	MaxMessages int    `koanf:"max_messages"`
}

type MetricsConfig struct {
	Listen string `koanf:"listen"`
}

type ThresholdConfig struct {
	LimitBytes int64         `koanf:"limit_bytes"`
	Window     time.Duration `koanf:"window"`
	Statistic  string        `koanf:"statistic"` // max | sum
	Interval   time.Duration `koanf:"interval"`
}

type LogConfig struct {
	Debug bool `koanf:"debug"`
	Human bool `koanf:"human"`
}

// Validate checks backend names and the fields each backend requires.
func (c *Config) Validate() error {
	switch c.History.Backend {
	case BackendCloudWatch:
		if strings.TrimSpace(c.History.LogGroup) == "" {
			return fmt.Errorf("history.log_group is required for the %s backend", BackendCloudWatch)
		}
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unsupported history.backend %q", c.History.Backend)
	}
	if c.History.Lookback <= 0 {
		return fmt.Errorf("history.lookback must be > 0")
	}
	if c.History.PageSize <= 0 {
		return fmt.Errorf("history.page_size must be > 0")
	}

	switch c.TimeSeries.Backend {
	case BackendDynamoDB:
		if strings.TrimSpace(c.TimeSeries.Table) == "" {
			return fmt.Errorf("timeseries.table is required for the %s backend", BackendDynamoDB)
		}
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unsupported timeseries.backend %q", c.TimeSeries.Backend)
	}
	if (c.TimeSeries.Backend == BackendSQLite || c.History.Backend == BackendSQLite) &&
		strings.TrimSpace(c.TimeSeries.DBPath) == "" {
		return fmt.Errorf("timeseries.db_path is required for the %s backend", BackendSQLite)
	}

	if c.Queue.MaxMessages < 1 || c.Queue.MaxMessages > 10 {
		return fmt.Errorf("queue.max_messages must be 1-10")
	}
	if c.Queue.WaitSeconds < 0 || c.Queue.WaitSeconds > 20 {
		return fmt.Errorf("queue.wait_seconds must be 0-20")
	}

	if c.Threshold.Statistic != StatisticMax && c.Threshold.Statistic != StatisticSum {
		return fmt.Errorf("invalid threshold.statistic %q (must be max or sum)", c.Threshold.Statistic)
	}
	if c.Threshold.LimitBytes < 0 {
		return fmt.Errorf("threshold.limit_bytes must be >= 0")
	}
	if c.Threshold.Window <= 0 || c.Threshold.Interval <= 0 {
		return fmt.Errorf("threshold.window and threshold.interval must be > 0")
	}

	return nil
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"s3.region":             "us-east-1",
		"s3.path_style":         false,
		"history.backend":       BackendSQLite,
		"history.log_stream":    "s3sizer",
		"history.lookback":      "1h",
		"history.page_size":     100,
		"timeseries.backend":    BackendSQLite,
		"timeseries.db_path":    defaultDBPath(),
		"timeseries.table":      "S3-object-size-history",
		"timeseries.size_index": "gsi_size",
		"queue.wait_seconds":    20,
		"queue.max_messages":    10,
		"threshold.limit_bytes": 0,
		"threshold.window":      "10s",
		"threshold.statistic":   StatisticMax,
		"threshold.interval":    "10s",
	}
}

// Load parses config from defaults, an optional YAML file and the
// environment, then validates it. Callers apply flag overrides before
// calling Validate again if they change anything.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("S3SIZER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "S3SIZER_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyLegacyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv honours the S3_* variables understood by earlier releases.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.S3.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.S3.SecretKey = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("S3_DB_PATH"); v != "" {
		cfg.TimeSeries.DBPath = v
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".s3sizer.db"
	}
	return home + string(os.PathSeparator) + ".s3sizer.db"
}
