package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file based on its extension and decodes it over
// Default(), so keys missing from the file keep their default value.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from well-known environment variables.
func ApplyEnv(cfg *Config) {
	cfg.Hub.Endpoint = envStr("HF_ENDPOINT", cfg.Hub.Endpoint)
	if v := os.Getenv("HF_TOKEN_PATH"); v != "" {
		cfg.Hub.TokenPath = v
	} else if v := os.Getenv("HF_HOME"); v != "" && cfg.Hub.TokenPath == "" {
		cfg.Hub.TokenPath = filepath.Join(v, "token")
	}
	cfg.Log.Level = envStr("EVALPREP_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envStr("EVALPREP_LOG_FORMAT", cfg.Log.Format)
	cfg.Status.Addr = envStr("EVALPREP_STATUS_ADDR", cfg.Status.Addr)
	cfg.Metrics.PushgatewayURL = envStr("EVALPREP_PUSHGATEWAY", cfg.Metrics.PushgatewayURL)
	cfg.Metrics.Textfile = envStr("EVALPREP_METRICS_TEXTFILE", cfg.Metrics.Textfile)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
