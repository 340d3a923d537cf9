package config

import (
	"fmt"
	"strings"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

// Validate checks configuration for errors.
func Validate(cfg *Config) error {
	if cfg.RPC.Endpoint == "" {
		return ErrEndpointRequired
	}

	if cfg.Program.ProgramID == "" {
		return ErrProgramIDRequired
	}
	if _, err := solana.PubkeyFromString(cfg.Program.ProgramID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgramID, err)
	}
	if cfg.Program.Feed == "" {
		return ErrFeedRequired
	}
	if cfg.Program.Keypair == "" {
		return ErrKeypairRequired
	}

	if cfg.Crank.ChunkSize < 1 || cfg.Crank.ChunkSize > domain.MaxRefreshListLen {
		return fmt.Errorf("%w: %d (must be 1 to %d)", ErrInvalidChunkSize, cfg.Crank.ChunkSize, domain.MaxRefreshListLen)
	}
	if cfg.Crank.Interval <= 0 {
		return ErrInvalidInterval
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	switch strings.ToLower(cfg.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogFormat, cfg.Format)
	}
	return nil
}

// ProgramID parses program.program_id.
func (c *Config) ProgramID() (solana.Pubkey, error) {
	return solana.PubkeyFromString(c.Program.ProgramID)
}
