package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the crank configuration file.
type Config struct {
	RPC     RPCConfig     `yaml:"rpc"`
	Program ProgramConfig `yaml:"program"`
	Crank   CrankConfig   `yaml:"crank"`
	History HistoryConfig `yaml:"history"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// RPCConfig points at a scope node.
type RPCConfig struct {
	Endpoint   string   `yaml:"endpoint"`
	WSEndpoint string   `yaml:"ws_endpoint"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
}

// ProgramConfig identifies the feed and the key that signs for it.
type ProgramConfig struct {
	ProgramID string `yaml:"program_id"`
	Feed      string `yaml:"feed"`
	Keypair   string `yaml:"keypair"`
}

// CrankConfig configures the refresh loop.
type CrankConfig struct {
	TokenList       string   `yaml:"token_list"`
	Interval        Duration `yaml:"interval"`
	ChunkSize       int      `yaml:"chunk_size"`
	DownloadOnStart bool     `yaml:"download_on_start"`
	// UploadOnStart pushes the token list to the ledger before the first cycle.
	UploadOnStart bool `yaml:"upload_on_start"`
}

// HistoryConfig enables price history recording in ClickHouse.
// Database, when set, overrides the database named in the DSN path.
type HistoryConfig struct {
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	Database      string `yaml:"database"`
	Migrate       bool   `yaml:"migrate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a time.Duration written as "10s" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ToDuration converts Duration to time.Duration.
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
