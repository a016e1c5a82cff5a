package session

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-lpfota/protocol"
	"github.com/moffa90/go-lpfota/secure"
	"github.com/moffa90/go-lpfota/updatearea"
)

var (
	// ErrBusy is returned by Open while another update is pending
	ErrBusy = errors.New("update already pending")

	// ErrForbidden is returned once a flash failure disabled updates
	ErrForbidden = errors.New("updates forbidden until restart")

	// ErrUnknownKind is returned for announces of an unknown update type
	ErrUnknownKind = errors.New("unknown update kind")

	// ErrDuplicateSession is returned when an announce reuses the last
	// session id
	ErrDuplicateSession = errors.New("duplicate session id")

	// ErrSessionMismatch is returned for blocks of another session
	ErrSessionMismatch = errors.New("session id mismatch")

	// ErrNotOpen is returned when no update is pending
	ErrNotOpen = errors.New("no update pending")

	// ErrWrongKind is returned when an operation does not apply to the
	// pending kind
	ErrWrongKind = errors.New("operation not valid for pending update")

	// ErrBlockOutOfRange is returned for block ids outside 1..BlockCount
	ErrBlockOutOfRange = errors.New("block id out of range")

	// ErrTimeout is returned when the worker does not acknowledge in time
	ErrTimeout = errors.New("worker acknowledgement timed out")

	// ErrClosed is returned when the session was closed while an operation
	// was in flight, or after Shutdown
	ErrClosed = errors.New("session closed")
)

// RejectError is returned when the validator refuses an announce.
type RejectError struct {
	// Code is the protocol status code of the rejection
	Code byte

	// Reason describes the rejection
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("announce rejected: %s (%s)", e.Reason, protocol.StatusName(e.Code))
}

// Code maps an error returned by this module to the protocol status code
// reported to the host.
func Code(err error) byte {
	if err == nil {
		return protocol.StatusSuccess
	}

	var reject *RejectError
	if errors.As(err, &reject) {
		return reject.Code
	}
	var image *updatearea.ImageError
	if errors.As(err, &image) {
		if image.Status == updatearea.StatusIncomplete {
			return protocol.ErrBlockCount
		}
		return protocol.ErrCorrupted
	}
	var blockRange *updatearea.BlockRangeError
	if errors.As(err, &blockRange) {
		return protocol.ErrBlockID
	}

	switch {
	case errors.Is(err, ErrBusy):
		return protocol.ErrBusy
	case errors.Is(err, ErrDuplicateSession), errors.Is(err, ErrSessionMismatch):
		return protocol.ErrSessionID
	case errors.Is(err, ErrBlockOutOfRange):
		return protocol.ErrBlockID
	case errors.Is(err, secure.ErrAuthentication):
		return protocol.ErrAuthentication
	case errors.Is(err, secure.ErrFrameLength):
		return protocol.ErrFrameLength
	case errors.Is(err, ErrForbidden), errors.Is(err, updatearea.ErrStoreFailed):
		return protocol.ErrWrite
	case errors.Is(err, ErrUnknownKind), errors.Is(err, ErrNotOpen), errors.Is(err, ErrWrongKind):
		return protocol.ErrIllegalValue
	}
	return protocol.ErrUnknown
}
