package goAuthClient

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv, e.g.
// GOAUTHCLIENT_APP_ID or GOAUTHCLIENT_REFRESH_LOOKAHEAD.
const EnvPrefix = "GOAUTHCLIENT_"

// LoadConfigFile reads a YAML configuration file on top of the defaults. Keys absent
// from the file keep their default values.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays GOAUTHCLIENT_* environment variables onto cfg. Unset variables
// leave cfg unchanged.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
