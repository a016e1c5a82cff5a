package uploader

import "time"

// Upload phases reported through Progress.Phase.
const (
	PhaseAnnouncing = "announcing"
	PhaseSending    = "sending"
	PhaseFinalizing = "finalizing"
	PhaseComplete   = "complete"
)

// Progress contains information about the upload progress.
// Passed to ProgressCallback during Upload.
type Progress struct {
	// Phase is one of the Phase constants
	Phase string

	// CurrentBlock is the number of blocks accepted so far in this pass
	CurrentBlock int

	// TotalBlocks is the number of blocks in the image
	TotalBlocks int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesSent is the number of payload bytes accepted so far
	BytesSent int

	// Resends counts full passes repeated after the device reported
	// missing blocks
	Resends int

	// ElapsedTime is the time elapsed since the upload started
	ElapsedTime time.Duration
}

// ProgressCallback is called periodically during an upload to report
// progress. Implementations should return quickly.
type ProgressCallback func(Progress)
