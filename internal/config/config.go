package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/paddock/internal/migrations"
	"github.com/jbweber/homelab/paddock/internal/secret"
)

// Config holds all configuration for the paddock panel
type Config struct {
	DBPath   string        `mapstructure:"db_path"`
	Port     string        `mapstructure:"port"`
	PanelURL string        `mapstructure:"panel_url"`
	AppKey   string        `mapstructure:"app_key"`
	Daemon   DaemonConfig  `mapstructure:"daemon"`
	Rebuild  RebuildConfig `mapstructure:"rebuild"`
	Log      LogConfig     `mapstructure:"log"`
}

// DaemonConfig bounds every call to a node daemon
type DaemonConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RebuildConfig tunes bulk rebuilds
type RebuildConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// LogConfig selects the log level and encoding
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DBPath:   "~/paddock/data/paddock.db",
		Port:     "8080",
		PanelURL: "http://localhost:8080",
		Daemon: DaemonConfig{
			ConnectTimeout: time.Second,
			RequestTimeout: 3 * time.Second,
		},
		Rebuild: RebuildConfig{Concurrency: 4},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from defaults, an optional paddock.yaml (or the
// file named by the "config" key) and PADDOCK_* environment variables, in
// increasing precedence. Flags bound to v win over all of them.
func Load(v *viper.Viper) (*Config, error) {
	defaults := NewConfig()
	v.SetDefault("db_path", defaults.DBPath)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("panel_url", defaults.PanelURL)
	v.SetDefault("app_key", "")
	v.SetDefault("daemon.connect_timeout", defaults.Daemon.ConnectTimeout)
	v.SetDefault("daemon.request_timeout", defaults.Daemon.RequestTimeout)
	v.SetDefault("rebuild.concurrency", defaults.Rebuild.Concurrency)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.json", defaults.Log.JSON)

	v.SetEnvPrefix("paddock")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("paddock")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/paddock")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.Daemon.ConnectTimeout <= 0 || c.Daemon.RequestTimeout <= 0 {
		return fmt.Errorf("daemon timeouts must be positive")
	}
	if c.Rebuild.Concurrency < 1 {
		return fmt.Errorf("rebuild concurrency must be at least 1, got %d", c.Rebuild.Concurrency)
	}
	return nil
}

// Codec builds the secret codec from the base64 app key
func (c *Config) Codec() (secret.Codec, error) {
	if c.AppKey == "" {
		return nil, fmt.Errorf("app_key is not set; generate one with `paddock key generate`")
	}
	codec, err := secret.NewCodecFromBase64(c.AppKey)
	if err != nil {
		return nil, fmt.Errorf("invalid app_key: %w", err)
	}
	return codec, nil
}

// InitializeDatabase creates and configures the database connection
func (c *Config) InitializeDatabase() (*sql.DB, error) {
	dbPath := c.expandPath(c.DBPath)

	// Ensure database directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply performance optimizations
	OptimizeDatabaseConnection(db)

	if err := ApplyPragmaOptimizations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply performance optimizations: %w", err)
	}

	if err := VerifyForeignKeys(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if err := c.runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// DSN builds the connection string for path. Per-connection pragmas go in
// the DSN so every pooled connection gets them; write transactions take the
// lock at BEGIN so concurrent allocation claims serialize instead of failing
// on upgrade.
func DSN(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate"
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Return original path if we can't get home dir
		return path
	}

	return filepath.Join(homeDir, path[2:])
}

// runMigrations runs all database migrations
func (c *Config) runMigrations(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return migrations.Apply(ctx, db)
}
