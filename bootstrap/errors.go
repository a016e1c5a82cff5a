package bootstrap

import (
	"fmt"

	"github.com/moffa90/go-lpfota/partition"
)

// SwapError reports a failed image swap. The destination partition is left
// in an indeterminate state.
type SwapError struct {
	Source      partition.Role
	Destination partition.Role

	// Stage is "check", "erase", "copy", "verify" or "header"
	Stage string

	Err error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("swap %s -> %s failed during %s: %v", e.Source, e.Destination, e.Stage, e.Err)
}

func (e *SwapError) Unwrap() error {
	return e.Err
}

// VerificationError indicates that copied data does not read back as written.
type VerificationError struct {
	Addr uint32
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("read-back mismatch in chunk at 0x%08X", e.Addr)
}

// RecordError reports that the exchange record could not be published.
type RecordError struct {
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("publish exchange record: %v", e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
