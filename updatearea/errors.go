package updatearea

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSetup is returned when the area is used before Setup succeeded
	ErrNotSetup = errors.New("update area not set up")

	// ErrStoreFailed is returned once a flash operation has failed. The
	// area stays unusable until the next Setup.
	ErrStoreFailed = errors.New("update area store failed")

	// ErrNotInProgress is returned when no image transfer is ongoing
	ErrNotInProgress = errors.New("no update in progress")

	// ErrKindMismatch is returned when blocks of another kind are stored
	// into an ongoing transfer
	ErrKindMismatch = errors.New("update kind mismatch")
)

// GeometryError indicates that the update area geometry does not fit the
// flash bank.
type GeometryError struct {
	Addr   uint32
	Size   uint32
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid update area 0x%08X+0x%X: %s", e.Addr, e.Size, e.Reason)
}

// CapacityError indicates that an image does not fit the update area.
type CapacityError struct {
	BlockCount int
	Needed     uint32
	Available  uint32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%d blocks need %d bytes, update area holds %d",
		e.BlockCount, e.Needed, e.Available)
}

// BlockRangeError indicates a block id outside 1..Count.
type BlockRangeError struct {
	BlockID uint16
	Count   int
}

func (e *BlockRangeError) Error() string {
	return fmt.Sprintf("block %d out of range 1..%d", e.BlockID, e.Count)
}

// ImageError reports a finalized image that is not usable yet.
type ImageError struct {
	Status   Status
	Missing  int
	Expected uint32
	Actual   uint32
}

func (e *ImageError) Error() string {
	if e.Status == StatusIncomplete {
		return fmt.Sprintf("image incomplete: %d blocks missing", e.Missing)
	}
	return fmt.Sprintf("image corrupted: hash 0x%08X, expected 0x%08X", e.Actual, e.Expected)
}

// RecordError indicates that the boot request could not be stored.
type RecordError struct {
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("store boot request: %v", e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
