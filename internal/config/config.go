// Package config assembles runtime settings for the vault daemon and the
// vaultctl tool from defaults, an optional config file, the environment and
// command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/memvault/internal/cache"
	"github.com/dmitrijs2005/memvault/internal/export"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/dmitrijs2005/memvault/internal/vault"
)

// Store drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Environment variables.
const (
	EnvMasterKey   = vault.MasterKeyEnv
	EnvLocalMode   = "LOCAL_DB_MODE"
	EnvDatabaseURI = "VAULT_DATABASE_URI"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds runtime settings.
//
// MasterKey is the base64 encoding of the 32-byte master key. It is not
// validated here; the vault checks it lazily on first use.
type Config struct {
	MasterKey string
	CacheTTL  time.Duration
	CacheSize int
	ListCache bool

	// LocalMode selects the local-file store under DataDir instead of Driver.
	LocalMode bool
	DataDir   string

	Driver             string
	DatabaseURI        string
	DatabaseName       string
	KeysCollection     string
	MemoriesCollection string

	GRPCAddr      string
	MetricsAddr   string
	JWTSecret     string
	TokenValidity time.Duration

	LogBackend string
	LogLevel   string

	ExportDir      string
	ExportCompress bool
	S3             export.S3Config
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	names := store.DefaultNames()

	c.CacheTTL = cache.DefaultTTL
	c.CacheSize = cache.DefaultSize
	c.DataDir = "data"
	c.Driver = DriverMongo
	c.DatabaseURI = "mongodb://127.0.0.1:27017"
	c.DatabaseName = "memvault"
	c.KeysCollection = names.UserKeys
	c.MemoriesCollection = names.Memories
	c.GRPCAddr = ":50051"
	c.MetricsAddr = ":9090"
	c.JWTSecret = "secretKey"
	c.TokenValidity = time.Hour
	c.LogBackend = "slog"
	c.LogLevel = "info"
	c.ExportDir = "exports"
	c.S3.Region = "us-east-1"
}

// Names returns the configured collection names.
func (c *Config) Names() store.Names {
	return store.Names{UserKeys: c.KeysCollection, Memories: c.MemoriesCollection}.WithDefaults()
}

// Validate checks settings that cannot be corrected silently and clamps
// the rest.
func (c *Config) Validate() error {
	c.CacheTTL = cache.ClampTTL(c.CacheTTL)
	if c.CacheSize <= 0 {
		c.CacheSize = cache.DefaultSize
	}

	if c.LocalMode {
		if c.DataDir == "" {
			return fmt.Errorf("%w: local mode needs a data dir", ErrInvalidConfig)
		}
		return nil
	}

	switch c.Driver {
	case DriverMongo, DriverPostgres:
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Driver)
	}
	if c.DatabaseURI == "" {
		return fmt.Errorf("%w: database uri is empty", ErrInvalidConfig)
	}
	if c.Driver == DriverMongo && c.DatabaseName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidConfig)
	}
	return nil
}

// Load builds a Config from args (without the program name) and getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, getenv); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.Getenv)
}
