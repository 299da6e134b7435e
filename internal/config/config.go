package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the analyzer
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
}

// ServerConfig holds the health/metrics HTTP endpoint configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds the pgx connection string.
func (c PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration for run heartbeats
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// NATSConfig holds the incident event publishing configuration
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Enabled bool   `mapstructure:"enabled"`
}

// LoggingConfig holds structured logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HistoricModelConfig selects one similarity window and its training mode
// ("update" folds new data into the stored model, "retrain" refits from
// scratch on every training run).
type HistoricModelConfig struct {
	Timeunit string `mapstructure:"timeunit"`
	Mode     string `mapstructure:"mode"`
}

// AnalyzerConfig holds the anomaly detection parameters
type AnalyzerConfig struct {
	XRoadInstance string `mapstructure:"xroad_instance"`

	// CorrectorBufferTime is how far behind realtime the analyzer stays,
	// leaving the corrector time to pair and clean raw records. Minutes.
	CorrectorBufferTime int `mapstructure:"corrector_buffer_time"`
	// IncidentExpirationTime is how long incidents stay open for review
	// before their periods become eligible for training data. Minutes.
	IncidentExpirationTime int `mapstructure:"incident_expiration_time"`
	// TrainingPeriodTime is how long a service call must have been seen
	// before its first model is trained. Months.
	TrainingPeriodTime int `mapstructure:"training_period_time"`

	FailedRequestRatioThreshold float64 `mapstructure:"failed_request_ratio_threshold"`

	// TimeSyncLowerThresholds maps network duration metrics to the lowest
	// value considered sane; anything below counts as a time sync error.
	TimeSyncLowerThresholds map[string]float64 `mapstructure:"time_sync_lower_thresholds"`

	// HistoricAveragesThresholds maps monitored metrics to their anomaly
	// confidence thresholds.
	HistoricAveragesThresholds map[string]float64 `mapstructure:"historic_averages_thresholds"`

	// ThresholdsFile optionally overrides HistoricAveragesThresholds from
	// a standalone YAML file.
	ThresholdsFile string `mapstructure:"thresholds_file"`

	// HistoricModels lists the similarity windows to train and score.
	HistoricModels []HistoricModelConfig `mapstructure:"historic_models"`

	// TrainInterval and FindInterval schedule the periodic runs in serve
	// mode. One-shot commands ignore them.
	TrainInterval time.Duration `mapstructure:"train_interval"`
	FindInterval  time.Duration `mapstructure:"find_interval"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8087)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "opmon")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "opmon_analyzer")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "metrics.incidents.created")
	v.SetDefault("nats.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("analyzer.xroad_instance", "DEFAULT")
	v.SetDefault("analyzer.corrector_buffer_time", 14400)
	v.SetDefault("analyzer.incident_expiration_time", 14400)
	v.SetDefault("analyzer.training_period_time", 3)
	v.SetDefault("analyzer.failed_request_ratio_threshold", 0.9)
	v.SetDefault("analyzer.time_sync_lower_thresholds", map[string]float64{
		"requestNwDuration":  -2000,
		"responseNwDuration": -2000,
	})
	v.SetDefault("analyzer.historic_averages_thresholds", map[string]float64{
		"request_count":          0.95,
		"mean_request_size":      0.95,
		"mean_response_size":     0.95,
		"mean_client_duration":   0.95,
		"mean_producer_duration": 0.95,
	})
	v.SetDefault("analyzer.historic_models", []map[string]string{
		{"timeunit": "hour_weekday", "mode": "update"},
		{"timeunit": "weekday", "mode": "update"},
	})
	v.SetDefault("analyzer.train_interval", "12h")
	v.SetDefault("analyzer.find_interval", "10m")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("ANALYZER")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Analyzer.ThresholdsFile != "" {
		thresholds, err := LoadThresholds(cfg.Analyzer.ThresholdsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load thresholds file: %w", err)
		}
		cfg.Analyzer.HistoricAveragesThresholds = thresholds
	}

	return &cfg, nil
}
