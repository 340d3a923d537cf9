package domain

import (
	"errors"
	"fmt"
)

// ProgramError is a failure raised by the scope program or an oracle adapter.
// The code survives the trip through the node and maps back to the same sentinel.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
}

func (e *ProgramError) Error() string {
	return e.Msg
}

// Program error codes start where custom program errors do.
const programErrorBase = 6000

var programErrors = map[uint32]*ProgramError{}

func newProgramError(offset uint32, name, msg string) *ProgramError {
	e := &ProgramError{Code: programErrorBase + offset, Name: name, Msg: msg}
	programErrors[e.Code] = e
	return e
}

var (
	// ErrConfigurationMissing is returned when the store has no configuration yet.
	ErrConfigurationMissing = newProgramError(0, "ConfigurationMissing", "configuration missing: program is not initialized")
	// ErrOutOfRange is returned for a slot index outside [0, MaxEntries).
	ErrOutOfRange = newProgramError(1, "OutOfRange", "slot index out of range")
	// ErrUnexpectedAccount is returned for a record of the wrong shape or a mismatched account.
	ErrUnexpectedAccount = newProgramError(2, "UnexpectedAccount", "unexpected account")
	// ErrPriceNotValid is returned for a stale or untrustworthy price.
	ErrPriceNotValid = newProgramError(3, "PriceNotValid", "price not valid")
	// ErrMathOverflow is returned when a result does not fit its type.
	ErrMathOverflow = newProgramError(4, "MathOverflow", "math overflow")
	// ErrUnauthorizedMapping is returned when a non-authority signs a mapping update.
	ErrUnauthorizedMapping = newProgramError(5, "UnauthorizedMapping", "signer is not the program upgrade authority")
	ErrAlreadyInitialized  = newProgramError(6, "AlreadyInitialized", "configuration already exists")
	ErrListTooLong         = newProgramError(7, "ListTooLong", "refresh list exceeds the per-transaction limit")
	ErrDuplicateSlot       = newProgramError(8, "DuplicateSlot", "slot appears twice in a refresh list")
	ErrInvalidInstruction  = newProgramError(9, "InvalidInstruction", "invalid instruction data")
	ErrMissingSignature    = newProgramError(10, "MissingSignature", "required signature missing")
	ErrUnknownOracleType   = newProgramError(11, "UnknownOracleType", "unknown oracle type")
)

// ErrSubmission marks a transaction the ledger rejected or did not confirm in time.
var ErrSubmission = errors.New("submission failed")

// ErrorFromCode returns the program error registered under code, or nil.
func ErrorFromCode(code uint32) *ProgramError {
	return programErrors[code]
}

// CodeOf extracts the program error code from err, if any.
func CodeOf(err error) (uint32, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}

// Errorf wraps a program error with context.
func Errorf(base *ProgramError, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
