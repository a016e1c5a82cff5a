package protocol

import (
	"errors"
	"fmt"
)

// ProtocolError represents an error returned by the device.
// Contains the status code from the device response.
type ProtocolError struct {
	// Operation is the command that failed
	Operation string

	// StatusCode is the error code from the device
	StatusCode byte
}

func (e *ProtocolError) Error() string {
	statusName := StatusName(e.StatusCode)
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, statusName, e.StatusCode)
}

// IsProtocolError returns true if the error is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

var statusNames = map[byte]string{
	StatusSuccess:     "success",
	ErrIllegalValue:   "illegal value",
	ErrFrameLength:    "invalid frame length",
	ErrVersionInitial: "initial version mismatch",
	ErrVersionTarget:  "target version mismatch",
	ErrHardware:       "hardware mismatch",
	ErrNetworkID:      "network id mismatch",
	ErrOutOfWindow:    "out of window",
	ErrSessionID:      "session id mismatch",
	ErrBlockID:        "block id out of range",
	ErrAuthentication: "authentication failed",
	ErrWrite:          "write failed",
	ErrCorrupted:      "image corrupted",
	ErrBlockCount:     "block count mismatch",
	ErrBusy:           "update pending",
	ErrUnknown:        "unknown error",
	ErrChecksum:       "checksum mismatch",
	ErrCommand:        "unrecognized command",
}

// StatusName returns a human-readable name for a status code.
func StatusName(code byte) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown status code 0x%02X", code)
}
