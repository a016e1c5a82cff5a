package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/moffa90/go-lpfota/firmware"
	"github.com/moffa90/go-lpfota/protocol"
	"github.com/moffa90/go-lpfota/secure"
)

// Target describes the update offered to the device.
type Target struct {
	// SessionID must differ from the last session the device accepted
	SessionID uint32

	SWInitial       uint16
	SWTarget        uint16
	NetworkID       uint16
	HardwareVersion uint16

	// Schedule is the optional announce window
	Schedule protocol.Schedule

	// KeyID selects the key protecting the blocks, 0 sends them in clear
	KeyID uint8
}

// Uploader drives a local update over the command channel: announce, one
// block command per image block, finalize.
//
// Uploader is not safe for concurrent use; the channel carries one command
// at a time.
type Uploader struct {
	device io.ReadWriter
	codec  *secure.Codec
	config Config
}

// New creates an Uploader talking to device and protecting blocks with
// codec. The codec must hold the keys and device id the target expects.
//
// Example:
//
//	port, _ := serial.OpenPort(&serial.Config{Name: "/dev/ttyUSB0", Baud: 115200})
//	up := uploader.New(port, secure.NewCodec(keys, deviceID),
//	    uploader.WithRetries(5),
//	)
func New(device io.ReadWriter, codec *secure.Codec, opts ...Option) *Uploader {
	if device == nil {
		panic("device cannot be nil")
	}
	if codec == nil {
		panic("codec cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Uploader{
		device: device,
		codec:  codec,
		config: cfg,
	}
}

// Upload performs the complete local update sequence:
//  1. Announce the image (block count and content hash of the padded image)
//  2. Send every block, retrying blocks the device reports busy
//  3. Finalize, resending the image when the device reports missing blocks
//  4. Optionally query the device status
//
// Any failure after a successful announce sends an abort so the device
// releases the session. The operation can be cancelled via context.
func (u *Uploader) Upload(ctx context.Context, img *firmware.Image, t Target) (err error) {
	if img == nil {
		return fmt.Errorf("image cannot be nil")
	}
	if img.Size() == 0 {
		return fmt.Errorf("image is empty")
	}
	total := img.BlockCount(firmware.BlockSize)
	if total > math.MaxUint16 {
		return &ImageTooLargeError{BlockCount: total, Max: math.MaxUint16}
	}

	startTime := time.Now()
	blocks := img.Blocks(firmware.BlockSize)

	// Phase 1: Announce
	u.reportProgress(Progress{
		Phase:       PhaseAnnouncing,
		TotalBlocks: total,
	})

	ann := &protocol.Announce{
		SessionID:       t.SessionID,
		SWInitial:       t.SWInitial,
		SWTarget:        t.SWTarget,
		NetworkID:       t.NetworkID,
		HardwareVersion: t.HardwareVersion,
		BlockCount:      uint16(total),
		Schedule:        t.Schedule,
		Hash:            img.Hash(firmware.BlockSize),
	}
	if err := u.Announce(ctx, t.KeyID, ann); err != nil {
		return fmt.Errorf("announce: %w", err)
	}

	u.logDebug("session announced",
		"session_id", fmt.Sprintf("0x%08X", ann.SessionID),
		"blocks", total,
		"hash", fmt.Sprintf("0x%08X", ann.Hash),
	)

	defer func() {
		if err == nil {
			return
		}
		if abortErr := u.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			u.logError("abort failed", "error", abortErr)
		}
	}()

	// Phase 2 and 3: Send blocks, finalize, resend on missing blocks
	for resends := 0; ; resends++ {
		if err := u.sendBlocks(ctx, t, blocks, resends, startTime); err != nil {
			return err
		}

		u.reportProgress(Progress{
			Phase:        PhaseFinalizing,
			CurrentBlock: total,
			TotalBlocks:  total,
			Percentage:   95,
			BytesSent:    img.Size(),
			Resends:      resends,
			ElapsedTime:  time.Since(startTime),
		})

		err := u.Finalize(ctx)
		if err == nil {
			break
		}

		var pe *protocol.ProtocolError
		if errors.As(err, &pe) && pe.StatusCode == protocol.ErrBlockCount && resends < u.config.Retries {
			u.logInfo("device reports missing blocks, resending", "pass", resends+1)
			continue
		}
		return fmt.Errorf("finalize: %w", err)
	}

	// Phase 4: Status
	if u.config.StatusAfterUpload {
		report, err := u.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		u.logDebug("device status",
			"pending", report.Pending,
			"status", report.Status,
			"received", report.Received,
			"missed", report.Missed,
		)
	}

	u.reportProgress(Progress{
		Phase:        PhaseComplete,
		CurrentBlock: total,
		TotalBlocks:  total,
		Percentage:   100,
		BytesSent:    img.Size(),
		ElapsedTime:  time.Since(startTime),
	})

	u.logInfo("upload complete",
		"blocks", total,
		"bytes", img.Size(),
		"elapsed", time.Since(startTime).String(),
	)

	return nil
}

// sendBlocks sends one full pass of the image.
func (u *Uploader) sendBlocks(ctx context.Context, t Target, blocks [][]byte, resends int, startTime time.Time) error {
	bytesSent := 0
	for i, payload := range blocks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		blockID := uint16(i + 1)
		if err := u.SendBlock(ctx, t.SessionID, blockID, payload, t.KeyID); err != nil {
			return fmt.Errorf("send block %d: %w", blockID, err)
		}

		bytesSent += len(payload)

		// Report progress (2% to 90%)
		percentage := 2 + (float64(i+1)/float64(len(blocks)))*88
		u.reportProgress(Progress{
			Phase:        PhaseSending,
			CurrentBlock: i + 1,
			TotalBlocks:  len(blocks),
			Percentage:   percentage,
			BytesSent:    bytesSent,
			Resends:      resends,
			ElapsedTime:  time.Since(startTime),
		})
	}
	return nil
}

// Announce sends the Announce command.
func (u *Uploader) Announce(ctx context.Context, keyID uint8, a *protocol.Announce) error {
	cmd, err := protocol.BuildAnnounceCmd(keyID, a)
	if err != nil {
		return err
	}
	_, err = u.expectSuccess(ctx, "announce", cmd)
	return err
}

// SendBlock protects payload and sends it as block blockID. A busy device
// is retried up to Retries times.
func (u *Uploader) SendBlock(ctx context.Context, sessionID uint32, blockID uint16, payload []byte, keyID uint8) error {
	frame := make([]byte, secure.FrameSize)
	secure.PutHeader(frame, sessionID, blockID)
	if err := u.codec.Build(frame, payload, keyID); err != nil {
		return err
	}

	cmd, err := protocol.BuildBlockCmd(frame)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		statusCode, _, err := u.transact(ctx, cmd)
		if err != nil {
			return err
		}
		if statusCode == protocol.StatusSuccess {
			return nil
		}
		if statusCode != protocol.ErrBusy || attempt > u.config.Retries {
			return &RejectedBlockError{BlockID: blockID, StatusCode: statusCode, Attempts: attempt}
		}

		u.logDebug("device busy, retrying block", "block_id", blockID, "attempt", attempt)
		if err := u.sleep(ctx, u.config.RetryDelay); err != nil {
			return err
		}
	}
}

// Finalize sends the Finalize command. The device checks the image and
// requests the boot loader to run it.
func (u *Uploader) Finalize(ctx context.Context) error {
	_, err := u.expectSuccess(ctx, "finalize", protocol.BuildFinalizeCmd())
	return err
}

// Abort sends the Abort command.
func (u *Uploader) Abort(ctx context.Context) error {
	_, err := u.expectSuccess(ctx, "abort", protocol.BuildAbortCmd())
	return err
}

// Status queries the device session progress.
func (u *Uploader) Status(ctx context.Context) (*protocol.StatusReport, error) {
	data, err := u.expectSuccess(ctx, "status", protocol.BuildStatusCmd())
	if err != nil {
		return nil, err
	}
	return protocol.ParseStatusResponse(data)
}

// expectSuccess sends cmd and turns a non-success status into a
// ProtocolError.
func (u *Uploader) expectSuccess(ctx context.Context, operation string, cmd []byte) ([]byte, error) {
	statusCode, data, err := u.transact(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if statusCode != protocol.StatusSuccess {
		return nil, &protocol.ProtocolError{
			Operation:  operation,
			StatusCode: statusCode,
		}
	}
	return data, nil
}

// transact writes one command and reads one response frame. Bytes before
// the response start marker, such as report ids or line noise, are
// skipped.
func (u *Uploader) transact(ctx context.Context, cmd []byte) (byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, fmt.Errorf("cancelled: %w", err)
	}

	if _, err := u.device.Write(cmd); err != nil {
		return 0, nil, fmt.Errorf("write command: %w", err)
	}

	frame, err := protocol.ReadFrame(u.device)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return protocol.ParseResponse(frame)
}

func (u *Uploader) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// reportProgress calls the progress callback if configured.
func (u *Uploader) reportProgress(progress Progress) {
	if u.config.ProgressCallback != nil {
		u.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (u *Uploader) logDebug(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (u *Uploader) logInfo(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (u *Uploader) logError(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Error(msg, keysAndValues...)
	}
}
