package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/memvault/internal/flagx"
)

// parseFlags overlays command-line flags.
//
//	-a string     gRPC bind address
//	-m string     metrics bind address
//	-store string store driver (mongo | postgres)
//	-d string     database URI
//	-db string    database name
//	-local        use the local-file store
//	-dir string   local data directory
//	-s string     JWT secret
//	-t int        token validity, minutes
//	-ttl duration cache TTL
//	-l string     log level
//	-o string     export directory
//	-z            compress exports
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{
		"-a", "-m", "-store", "-d", "-db", "-local", "-dir", "-s", "-t", "-ttl", "-l", "-o", "-z",
	})

	fs := flag.NewFlagSet("vault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.GRPCAddr, "a", cfg.GRPCAddr, "gRPC address")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics address")
	fs.StringVar(&cfg.Driver, "store", cfg.Driver, "store driver")
	fs.StringVar(&cfg.DatabaseURI, "d", cfg.DatabaseURI, "database URI")
	fs.StringVar(&cfg.DatabaseName, "db", cfg.DatabaseName, "database name")
	fs.BoolVar(&cfg.LocalMode, "local", cfg.LocalMode, "use local-file store")
	fs.StringVar(&cfg.DataDir, "dir", cfg.DataDir, "local data directory")
	fs.StringVar(&cfg.JWTSecret, "s", cfg.JWTSecret, "JWT secret")
	validity := fs.Int("t", int(cfg.TokenValidity.Minutes()), "token validity (in minutes)")
	fs.DurationVar(&cfg.CacheTTL, "ttl", cfg.CacheTTL, "cache TTL")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.ExportDir, "o", cfg.ExportDir, "export directory")
	fs.BoolVar(&cfg.ExportCompress, "z", cfg.ExportCompress, "compress exports")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.TokenValidity = time.Duration(*validity) * time.Minute
	return nil
}
