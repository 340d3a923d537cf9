package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vuittont60/scope/internal/domain"
)

// Load loads configuration from a YAML file, expanding environment variables.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = Duration(30 * time.Second)
	}
	if cfg.RPC.MaxRetries == 0 {
		cfg.RPC.MaxRetries = 3
	}

	if cfg.Program.Feed == "" {
		cfg.Program.Feed = "default"
	}

	if cfg.Crank.Interval == 0 {
		cfg.Crank.Interval = Duration(10 * time.Second)
	}
	if cfg.Crank.ChunkSize == 0 {
		cfg.Crank.ChunkSize = domain.MaxRefreshListLen
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// LoadTokenList reads a token list from YAML, or JSON when the file ends in .json.
//
//	tokens:
//	  0:
//	    token_pair: SOL/USD
//	    oracle_mapping: H6ARHf6YXhGYeQfUzQNGk6rDNnLBQKrenN712K4AQJEG
//	    oracle_type: pyth
func LoadTokenList(path string) (*domain.TokenConfList, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read token list: %w", err)
	}
	var list domain.TokenConfList
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &list)
	} else {
		err = yaml.Unmarshal(data, &list)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse token list: %w", err)
	}
	if list.Tokens == nil {
		list.Tokens = make(map[uint16]domain.TokenConf)
	}
	if err := list.Validate(); err != nil {
		return nil, fmt.Errorf("token list %s: %w", path, err)
	}
	return &list, nil
}

// SaveTokenList writes list as YAML.
func SaveTokenList(path string, list *domain.TokenConfList) error {
	data, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal token list: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write token list: %w", err)
	}
	return nil
}
