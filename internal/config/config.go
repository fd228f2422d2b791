// Package config loads server settings from defaults, an optional YAML file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/errortypes"
	"github.com/wagnerlima/memory-cloud/graph-mcp/internal/storage"
)

// EnvPrefix prefixes every environment variable except the NEO4J_* ones.
const EnvPrefix = "GRAPH_MCP"

// Config is the full server configuration.
type Config struct {
	Transport  string        `mapstructure:"transport" validate:"oneof=stdio http streamable-http sse"`
	Addr       string        `mapstructure:"addr" validate:"required"`
	Backend    string        `mapstructure:"backend" validate:"oneof=neo4j sqlite"`
	Neo4j      Neo4jConfig   `mapstructure:"neo4j"`
	SQLite     SQLiteConfig  `mapstructure:"sqlite"`
	JournalDir string        `mapstructure:"journal_dir"`
	Log        LogConfig     `mapstructure:"log"`
	Tracing    TracingConfig `mapstructure:"tracing"`
}

// Neo4jConfig holds the Bolt connection settings.
type Neo4jConfig struct {
	URI            string        `mapstructure:"uri"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	MaxPoolSize    int           `mapstructure:"max_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SQLiteConfig holds the embedded backend settings.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter string `mapstructure:"exporter" validate:"oneof=none stdout"`
}

// defaults is applied to a fresh viper instance. Keys double as the set of
// settings AutomaticEnv can see.
var defaults = map[string]any{
	"transport":             "stdio",
	"addr":                  ":8081",
	"backend":               "neo4j",
	"neo4j.uri":             "bolt://localhost:7687",
	"neo4j.username":        "neo4j",
	"neo4j.password":        "password",
	"neo4j.database":        "neo4j",
	"neo4j.max_pool_size":   50,
	"neo4j.connect_timeout": 10 * time.Second,
	"sqlite.path":           "./data/graph.db",
	"journal_dir":           "",
	"log.level":             "info",
	"log.format":            "text",
	"tracing.exporter":      "none",
}

// Conventional Neo4j variables, accepted alongside the prefixed names.
var neo4jEnv = map[string]string{
	"neo4j.uri":      "NEO4J_URI",
	"neo4j.username": "NEO4J_USERNAME",
	"neo4j.password": "NEO4J_PASSWORD",
	"neo4j.database": "NEO4J_DATABASE",
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"transport":      "transport",
	"addr":           "addr",
	"backend":        "backend",
	"db-url":         "neo4j.uri",
	"username":       "neo4j.username",
	"password":       "neo4j.password",
	"database":       "neo4j.database",
	"sqlite-path":    "sqlite.path",
	"journal-dir":    "journal_dir",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"trace-exporter": "tracing.exporter",
}

// RegisterFlags defines the configuration flags on fs. Flag defaults are
// informational only: an unset flag never overrides file or environment.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("transport", "stdio", "transport: stdio, http (alias streamable-http) or sse")
	fs.String("addr", ":8081", "listen address for the http and sse transports")
	fs.String("backend", "neo4j", "graph store backend: neo4j or sqlite")
	fs.String("db-url", "bolt://localhost:7687", "Neo4j connection URI (NEO4J_URI)")
	fs.String("username", "neo4j", "Neo4j username (NEO4J_USERNAME)")
	fs.String("password", "password", "Neo4j password (NEO4J_PASSWORD)")
	fs.String("database", "neo4j", "Neo4j database name (NEO4J_DATABASE)")
	fs.String("sqlite-path", "./data/graph.db", "database file for the sqlite backend")
	fs.String("journal-dir", "", "directory for per-project migration journals (disabled when empty)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("trace-exporter", "none", "trace exporter: none or stdout (written to stderr)")
}

// Load resolves the configuration. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range neo4jEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for the selected backend.
func (c *Config) Validate() error {
	if err := errortypes.FromValidator(validator.New().Struct(c)); err != nil {
		return err
	}
	switch c.Backend {
	case "neo4j":
		return c.Neo4jStore().Validate()
	case "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			return errortypes.Validationf("sqlite.path is required for the sqlite backend")
		}
	}
	return nil
}

// HTTP reports whether an HTTP transport (streamable or SSE) is selected.
func (c *Config) HTTP() bool {
	return c.Transport == "http" || c.Transport == "streamable-http" || c.SSE()
}

// SSE reports whether the HTTP+SSE transport is selected.
func (c *Config) SSE() bool {
	return c.Transport == "sse"
}

// Neo4jStore converts the settings into the store's connection config.
func (c *Config) Neo4jStore() storage.Neo4jConfig {
	return storage.Neo4jConfig{
		URI:                   c.Neo4j.URI,
		Username:              c.Neo4j.Username,
		Password:              c.Neo4j.Password,
		Database:              c.Neo4j.Database,
		MaxConnectionPoolSize: c.Neo4j.MaxPoolSize,
		ConnectionTimeout:     c.Neo4j.ConnectTimeout,
	}
}

// NewLogger builds the slog logger described by c, writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
