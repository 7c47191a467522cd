// Package config handles configuration loading for the audit service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete service configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
	Verify  VerifyConfig  `yaml:"verify"`
	Alert   AlertConfig   `yaml:"alert"`
	Forward ForwardConfig `yaml:"forward"`
	Archive ArchiveConfig `yaml:"archive"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuditConfig holds audit log storage settings.
type AuditConfig struct {
	// Dir is the directory holding one JSONL log per category.
	Dir string `yaml:"dir"`

	// AppendOnly enables chattr +a hardening on active log files.
	AppendOnly bool `yaml:"append_only"`
}

// VerifyConfig holds scheduled integrity verification settings.
type VerifyConfig struct {
	// Interval between full chain scans. Zero disables the scheduler.
	Interval time.Duration `yaml:"interval"`
}

// AlertConfig holds tamper alert settings.
type AlertConfig struct {
	Enabled bool        `yaml:"enabled"`
	Channel string      `yaml:"channel"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// ForwardConfig holds Kafka entry mirroring settings.
type ForwardConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	QueueSize    int           `yaml:"queue_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ArchiveConfig holds S3 archival settings.
type ArchiveConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	S3       S3Config      `yaml:"s3"`
}

// S3Config holds S3 connection settings.
type S3Config struct {
	Region          string        `yaml:"region"`
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Endpoint        string        `yaml:"endpoint,omitempty"`
	AccessKeyID     string        `yaml:"access_key_id,omitempty"`
	SecretAccessKey string        `yaml:"secret_access_key,omitempty"`
	StorageClass    string        `yaml:"storage_class"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			Dir:        "/var/lib/numira/audit",
			AppendOnly: false,
		},
		Verify: VerifyConfig{
			Interval: 5 * time.Minute,
		},
		Alert: AlertConfig{
			Enabled: false,
			Channel: "numira:audit:tamper",
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				DB:           0,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Forward: ForwardConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			Topic:        "numira.audit.entries",
			QueueSize:    1000,
			BatchTimeout: time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: 24 * time.Hour,
			S3: S3Config{
				Region:       "us-east-1",
				Bucket:       "numira-audit-archive",
				Prefix:       "audit/",
				StorageClass: "INTELLIGENT_TIERING",
				Timeout:      10 * time.Minute,
			},
		},
	}
}

// Load loads configuration from a file or returns defaults. The file path
// comes from NUMIRA_CONFIG_PATH, falling back to configs/config.yaml; a
// missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("NUMIRA_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("NUMIRA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if dir := os.Getenv("NUMIRA_AUDIT_DIR"); dir != "" {
		c.Audit.Dir = dir
	}

	if interval := os.Getenv("NUMIRA_VERIFY_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Verify.Interval = d
		}
	}

	if addr := os.Getenv("NUMIRA_REDIS_ADDR"); addr != "" {
		c.Alert.Redis.Addr = addr
		c.Alert.Enabled = true
	}

	if pass := os.Getenv("NUMIRA_REDIS_PASSWORD"); pass != "" {
		c.Alert.Redis.Password = pass
	}

	if db := os.Getenv("NUMIRA_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			c.Alert.Redis.DB = n
		}
	}

	if brokers := os.Getenv("NUMIRA_KAFKA_BROKERS"); brokers != "" {
		c.Forward.Brokers = splitAndTrim(brokers, ",")
		c.Forward.Enabled = true
	}

	if topic := os.Getenv("NUMIRA_KAFKA_TOPIC"); topic != "" {
		c.Forward.Topic = topic
	}

	if bucket := os.Getenv("NUMIRA_S3_BUCKET"); bucket != "" {
		c.Archive.S3.Bucket = bucket
		c.Archive.Enabled = true
	}

	if region := os.Getenv("NUMIRA_S3_REGION"); region != "" {
		c.Archive.S3.Region = region
	}

	if endpoint := os.Getenv("NUMIRA_S3_ENDPOINT"); endpoint != "" {
		c.Archive.S3.Endpoint = endpoint
	}
}

// splitAndTrim splits a string by separator and trims whitespace from each
// part, dropping empties.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Audit.Dir == "" {
		return fmt.Errorf("audit dir is required")
	}

	if c.Verify.Interval < 0 {
		return fmt.Errorf("verify interval must not be negative")
	}

	if c.Alert.Enabled {
		if c.Alert.Redis.Addr == "" {
			return fmt.Errorf("alert redis addr is required")
		}
		if c.Alert.Channel == "" {
			return fmt.Errorf("alert channel is required")
		}
	}

	if c.Forward.Enabled {
		if len(c.Forward.Brokers) == 0 {
			return fmt.Errorf("forward brokers are required")
		}
		if c.Forward.Topic == "" {
			return fmt.Errorf("forward topic is required")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive s3 bucket is required")
		}
		if c.Archive.S3.Region == "" {
			return fmt.Errorf("archive s3 region is required")
		}
		if c.Archive.Interval <= 0 {
			return fmt.Errorf("archive interval must be positive")
		}
	}

	return nil
}
