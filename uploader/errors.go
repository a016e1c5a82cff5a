package uploader

import (
	"fmt"

	"github.com/moffa90/go-lpfota/protocol"
)

// ImageTooLargeError indicates an image that needs more blocks than an
// announce can carry.
type ImageTooLargeError struct {
	BlockCount int
	Max        int
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image too large: needs %d blocks, an announce carries at most %d",
		e.BlockCount, e.Max)
}

// RejectedBlockError indicates a block the device refused.
type RejectedBlockError struct {
	BlockID    uint16
	StatusCode byte
	Attempts   int
}

func (e *RejectedBlockError) Error() string {
	return fmt.Sprintf("block %d rejected after %d attempt(s): %s (0x%02X)",
		e.BlockID, e.Attempts, protocol.StatusName(e.StatusCode), e.StatusCode)
}
