// Package config loads daemon configuration from flags, environment
// variables, and an optional config file.
//
// Precedence is flags > environment (INGESTD_ prefix) > config file >
// defaults. Flag binding is the caller's job: commands bind their flag
// sets onto the viper instance before Load unmarshals it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Database holds the target database connection settings. Driver selects
// the dialect: "mysql" connects over TCP, "sqlite3" opens Path.
type Database struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"`
}

// WebDAV holds the remote source settings.
type WebDAV struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Root     string `mapstructure:"root"`
}

// Config is the full daemon configuration.
type Config struct {
	Database Database `mapstructure:"database"`
	WebDAV   WebDAV   `mapstructure:"webdav"`

	// SchemaDir is the directory holding <SchemaID>.json schema files.
	SchemaDir string `mapstructure:"schema-dir"`

	// SourceDir is the local-mode data directory.
	SourceDir string `mapstructure:"source"`

	// Allowed restricts ingestion to these SchemaIDs; empty allows all.
	Allowed []string `mapstructure:"allowed"`

	Interval      time.Duration `mapstructure:"interval"`
	DeleteMissing bool          `mapstructure:"delete-missing"`
	MonitorPort   int           `mapstructure:"monitor-port"`
	LogFile       string        `mapstructure:"log-file"`
	Verbose       bool          `mapstructure:"verbose"`
}

// New returns a viper instance with defaults and environment binding
// registered. Commands bind their flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.name", "ingest")
	v.SetDefault("database.path", "ingest.db")
	v.SetDefault("schema-dir", "schemas")
	v.SetDefault("source", "data")
	v.SetDefault("interval", 10*time.Second)

	v.SetEnvPrefix("INGESTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional config file and unmarshals the merged settings.
// A missing file is an error only when one was explicitly requested.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("ingestd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// DSN builds the driver-specific data source name.
func (d Database) DSN() string {
	if d.Driver == "sqlite3" {
		return "file:" + d.Path
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
	mc.User = d.User
	mc.Passwd = d.Password
	mc.DBName = d.Name
	mc.ParseTime = true
	return mc.FormatDSN()
}
