package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/memvault/internal/flagx"
	"github.com/dmitrijs2005/memvault/internal/timex"
)

// fileConfig mirrors Config for JSON and YAML files. Durations accept
// strings such as "5m" or integer nanoseconds. Pointer fields tell an
// explicit false apart from an absent key.
type fileConfig struct {
	MasterKey string         `json:"master_key" yaml:"master_key"`
	CacheTTL  timex.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	CacheSize int            `json:"cache_size" yaml:"cache_size"`
	ListCache *bool          `json:"list_cache" yaml:"list_cache"`

	LocalMode *bool  `json:"local_mode" yaml:"local_mode"`
	DataDir   string `json:"data_dir" yaml:"data_dir"`

	Driver             string `json:"store_driver" yaml:"store_driver"`
	DatabaseURI        string `json:"database_uri" yaml:"database_uri"`
	DatabaseName       string `json:"database_name" yaml:"database_name"`
	KeysCollection     string `json:"keys_collection" yaml:"keys_collection"`
	MemoriesCollection string `json:"memories_collection" yaml:"memories_collection"`

	GRPCAddr      string         `json:"grpc_addr" yaml:"grpc_addr"`
	MetricsAddr   string         `json:"metrics_addr" yaml:"metrics_addr"`
	JWTSecret     string         `json:"jwt_secret" yaml:"jwt_secret"`
	TokenValidity timex.Duration `json:"token_validity" yaml:"token_validity"`

	LogBackend string `json:"log_backend" yaml:"log_backend"`
	LogLevel   string `json:"log_level" yaml:"log_level"`

	ExportDir      string `json:"export_dir" yaml:"export_dir"`
	ExportCompress *bool  `json:"export_compress" yaml:"export_compress"`

	S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix       string `json:"s3_prefix" yaml:"s3_prefix"`
	S3Region       string `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3AccessKey    string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key" yaml:"s3_secret_key"`
}

func decodeFile(path string, data []byte) (*fileConfig, error) {
	fc := &fileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, fc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	default:
		if err := json.Unmarshal(data, fc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}
	return fc, nil
}

// parseFile overlays the file named by -c / -config, if any. Empty values
// in the file leave the current setting alone.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFile(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc, err := decodeFile(path, data)
	if err != nil {
		return err
	}
	fc.apply(cfg)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.MasterKey, fc.MasterKey)
	if fc.CacheTTL.Duration > 0 {
		cfg.CacheTTL = fc.CacheTTL.Duration
	}
	if fc.CacheSize > 0 {
		cfg.CacheSize = fc.CacheSize
	}
	setBool(&cfg.ListCache, fc.ListCache)

	setBool(&cfg.LocalMode, fc.LocalMode)
	setString(&cfg.DataDir, fc.DataDir)

	setString(&cfg.Driver, fc.Driver)
	setString(&cfg.DatabaseURI, fc.DatabaseURI)
	setString(&cfg.DatabaseName, fc.DatabaseName)
	setString(&cfg.KeysCollection, fc.KeysCollection)
	setString(&cfg.MemoriesCollection, fc.MemoriesCollection)

	setString(&cfg.GRPCAddr, fc.GRPCAddr)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	setString(&cfg.JWTSecret, fc.JWTSecret)
	if fc.TokenValidity.Duration > 0 {
		cfg.TokenValidity = fc.TokenValidity.Duration
	}

	setString(&cfg.LogBackend, fc.LogBackend)
	setString(&cfg.LogLevel, fc.LogLevel)

	setString(&cfg.ExportDir, fc.ExportDir)
	setBool(&cfg.ExportCompress, fc.ExportCompress)

	setString(&cfg.S3.Bucket, fc.S3Bucket)
	setString(&cfg.S3.Prefix, fc.S3Prefix)
	setString(&cfg.S3.Region, fc.S3Region)
	setString(&cfg.S3.BaseEndpoint, fc.S3BaseEndpoint)
	setString(&cfg.S3.AccessKey, fc.S3AccessKey)
	setString(&cfg.S3.SecretKey, fc.S3SecretKey)
}
