package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for the replication coordinator
type Config struct {
	// Server configuration
	Listen   string `mapstructure:"listen"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// TLS configuration
	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	// Monitoring configuration
	Monitor MonitorConfig `mapstructure:"monitor"`

	// Failover configuration
	Failover FailoverConfig `mapstructure:"failover"`

	// Snapshot configuration
	Snapshot SnapshotConfig `mapstructure:"snapshot"`

	// Archive configuration (S3-compatible snapshot manifest storage)
	Archive ArchiveConfig `mapstructure:"archive"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MonitorConfig tunes the per-group monitoring loop
type MonitorConfig struct {
	IntervalSec        int `mapstructure:"interval_sec"`
	CollectionTimeout  int `mapstructure:"collection_timeout_sec"`
	StalenessWindowSec int `mapstructure:"staleness_window_sec"`
	HistoryLimit       int `mapstructure:"history_limit"`
}

// FailoverConfig tunes failover accounting
type FailoverConfig struct {
	RTOMs int64 `mapstructure:"rto_ms"`
}

// SnapshotConfig tunes snapshot lifecycle
type SnapshotConfig struct {
	RetentionDays    int   `mapstructure:"retention_days"`
	ConsistencyLagMs int64 `mapstructure:"consistency_lag_ms"`
}

// ArchiveConfig defines the optional object-storage target for snapshot manifests
type ArchiveConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Load loads configuration from flags, config file and environment
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("GEOREP")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	// NO default for data_dir - must be explicitly configured
	v.SetDefault("log_level", "info")

	v.SetDefault("enable_tls", false)

	v.SetDefault("monitor.interval_sec", 5)
	v.SetDefault("monitor.collection_timeout_sec", 2)
	v.SetDefault("monitor.staleness_window_sec", 30)
	v.SetDefault("monitor.history_limit", 1000)

	v.SetDefault("failover.rto_ms", 30000)

	v.SetDefault("snapshot.retention_days", 7)
	v.SetDefault("snapshot.consistency_lag_ms", 250)

	v.SetDefault("archive.enable", false)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":    "listen",
		"data-dir":  "data_dir",
		"log-level": "log_level",
		"tls-cert":  "cert_file",
		"tls-key":   "key_file",
	}

	for flag, key := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or GEOREP_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
		}
	}

	if cfg.Monitor.IntervalSec <= 0 {
		return fmt.Errorf("monitor.interval_sec must be positive")
	}
	if cfg.Monitor.CollectionTimeout >= cfg.Monitor.IntervalSec {
		return fmt.Errorf("monitor.collection_timeout_sec must be shorter than monitor.interval_sec")
	}

	if cfg.Archive.Enable {
		if cfg.Archive.Endpoint == "" || cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive enabled but endpoint or bucket not specified")
		}
		if cfg.Archive.AccessKey == "" || cfg.Archive.SecretKey == "" {
			return fmt.Errorf("archive enabled but access_key or secret_key not specified")
		}
	}

	return nil
}
