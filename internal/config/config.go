// Package config loads runtime configuration for the glucose API binaries.
//
// Sources, later ones winning:
//
//  1. built-in defaults
//  2. the YAML file named by GLUCOSE_CONFIG, if set
//  3. environment variables:
//     PORT                    HTTP port
//     GLUCOSE_STORAGE_DRIVER  memory|sqlite|postgres (default sqlite)
//     DB_PATH                 SQLite file (default data/glucose.db)
//     DATABASE_URL            Postgres DSN, required when driver=postgres
//     GLUCOSE_PAGE_SIZE       default page size for GET /levels
//     LOG_LEVEL               debug|info|warn|error
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StorageDriver identifies a concrete storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

const (
	DefaultPort     = 8080
	DefaultDBPath   = "data/glucose.db"
	DefaultPageSize = 100
)

// Config is the complete runtime configuration.
type Config struct {
	Port     int     `yaml:"port"`
	PageSize int     `yaml:"page_size"`
	LogLevel string  `yaml:"log_level"`
	Storage  Storage `yaml:"storage"`
}

// Storage selects and locates the record store.
type Storage struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:     DefaultPort,
		PageSize: DefaultPageSize,
		LogLevel: "info",
		Storage: Storage{
			Driver:     StorageSQLite,
			SQLitePath: DefaultDBPath,
		},
	}
}

// Load builds a Config from defaults, the optional YAML file and the
// environment, then validates it.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("GLUCOSE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	// Decoding into the defaults keeps every key the file omits.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("GLUCOSE_PAGE_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid GLUCOSE_PAGE_SIZE %q: %w", v, err)
		}
		c.PageSize = size
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GLUCOSE_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = StorageDriver(strings.ToLower(v))
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.PostgresDSN = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("config: page size must be positive, got %d", c.PageSize)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("config: sqlite driver needs a database path")
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: postgres driver needs DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// Level returns the slog level for LogLevel. Validate has already rejected
// unknown names.
func (c Config) Level() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q", name)
	}
	return level, nil
}
