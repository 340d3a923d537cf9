// Package config loads the crank configuration and token lists from YAML.
package config

import "errors"

var (
	// ErrEndpointRequired indicates that rpc.endpoint is missing.
	ErrEndpointRequired = errors.New("rpc.endpoint must be specified")
	// ErrProgramIDRequired indicates that program.program_id is missing.
	ErrProgramIDRequired = errors.New("program.program_id must be specified")
	// ErrInvalidProgramID indicates that program.program_id is not a base58 public key.
	ErrInvalidProgramID = errors.New("program.program_id is not a valid public key")
	// ErrFeedRequired indicates that program.feed is missing.
	ErrFeedRequired = errors.New("program.feed must be specified")
	// ErrKeypairRequired indicates that program.keypair is missing.
	ErrKeypairRequired = errors.New("program.keypair must be specified")
	// ErrInvalidChunkSize indicates a chunk size outside [1, 28].
	ErrInvalidChunkSize = errors.New("crank.chunk_size out of range")
	// ErrInvalidInterval indicates a non-positive refresh interval.
	ErrInvalidInterval = errors.New("crank.interval must be positive")
	// ErrInvalidLogLevel indicates an unknown logging level.
	ErrInvalidLogLevel = errors.New("invalid logging level")
	// ErrInvalidLogFormat indicates an unknown logging format.
	ErrInvalidLogFormat = errors.New("invalid logging format")
)
