package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rpattn/tickstore/internal/db"
)

// Backend names accepted by Config.Backend.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	Path string `validate:"required"`
}

// ServerConfig configures the inspector HTTP server.
type ServerConfig struct {
	Addr           string   `validate:"required"`
	AllowedOrigins []string `validate:"dive,required"`
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// EngineConfig tunes the temporal engine.
type EngineConfig struct {
	TimelineConcurrency int    `validate:"gte=1,lte=64"`
	BulkUpdates         string `validate:"oneof=untracked-only forbidden history-blind"`
	LogLevel            string `validate:"oneof=debug info warn error"`
}

// Config is the complete tickstore configuration.
type Config struct {
	Backend  string `validate:"oneof=postgres sqlite"`
	Database db.Config
	SQLite   SQLiteConfig
	Server   ServerConfig
	Engine   EngineConfig
}

// Default returns the configuration used when no file or env var overrides it.
func Default() Config {
	return Config{
		Backend:  BackendPostgres,
		Database: db.DefaultConfig(),
		SQLite:   SQLiteConfig{Path: "tickstore.db"},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
		},
		Engine: EngineConfig{
			TimelineConcurrency: 4,
			BulkUpdates:         "untracked-only",
			LogLevel:            "info",
		},
	}
}

var keys = []string{
	"backend",
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.dbname",
	"database.sslmode",
	"database.max_conns",
	"database.min_conns",
	"sqlite.path",
	"server.addr",
	"server.allowed_origins",
	"server.read_timeout",
	"server.write_timeout",
	"engine.timeline_concurrency",
	"engine.bulk_updates",
	"engine.log_level",
}

// Load reads config.yaml from configPath, applies TICKSTORE_* environment
// overrides (TICKSTORE_DATABASE_HOST and so on) and validates the result.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("TICKSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		slog.Info("no config.yaml found, using defaults and env vars", "path", configPath)
	} else {
		slog.Info("loaded config", "file", v.ConfigFileUsed())
	}

	if v.IsSet("backend") {
		cfg.Backend = v.GetString("backend")
	}
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}
	if v.IsSet("database.min_conns") {
		cfg.Database.MinConns = v.GetInt32("database.min_conns")
	}
	if v.IsSet("sqlite.path") {
		cfg.SQLite.Path = v.GetString("sqlite.path")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("server.read_timeout") {
		cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if v.IsSet("server.write_timeout") {
		cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if v.IsSet("engine.timeline_concurrency") {
		cfg.Engine.TimelineConcurrency = v.GetInt("engine.timeline_concurrency")
	}
	if v.IsSet("engine.bulk_updates") {
		cfg.Engine.BulkUpdates = v.GetString("engine.bulk_updates")
	}
	if v.IsSet("engine.log_level") {
		cfg.Engine.LogLevel = v.GetString("engine.log_level")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the sections the selected backend needs.
func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Var(c.Backend, "oneof=postgres sqlite"); err != nil {
		return fmt.Errorf("invalid backend %q", c.Backend)
	}
	sections := []any{c.Server, c.Engine}
	switch c.Backend {
	case BackendPostgres:
		sections = append(sections, c.Database)
	case BackendSQLite:
		sections = append(sections, c.SQLite)
	}
	for _, section := range sections {
		if err := validate.Struct(section); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

// LoadDBConfig returns only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}

// SlogLevel maps the configured level name to a slog level.
func (e EngineConfig) SlogLevel() slog.Level {
	switch e.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
