package config

import (
	"fmt"
	"strconv"
	"strings"
)

func parseEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		return nil
	}

	if v := strings.TrimSpace(getenv(EnvMasterKey)); v != "" {
		cfg.MasterKey = v
	}
	if v := strings.TrimSpace(getenv(EnvDatabaseURI)); v != "" {
		cfg.DatabaseURI = v
	}
	if v := strings.TrimSpace(getenv(EnvLocalMode)); v != "" {
		local, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvLocalMode, v)
		}
		cfg.LocalMode = local
	}
	return nil
}
