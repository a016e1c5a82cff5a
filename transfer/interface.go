package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moffa90/go-lpfota/protocol"
	"github.com/moffa90/go-lpfota/secure"
	"github.com/moffa90/go-lpfota/session"
	"github.com/moffa90/go-lpfota/updatearea"
)

// Session is the part of the update session used by the local interface.
// *session.Session implements it.
type Session interface {
	Open(ctx context.Context, info session.AnnounceInfo) error
	Store(blockID uint16, data []byte) error
	Finalize(ctx context.Context) (updatearea.Status, error)
	Close(ctx context.Context) error
	Pending() session.Pending
	Status() updatearea.Status
	Progress() (received, total int)
}

// ErrDrainTimeout is returned when queued blocks are not stored in time.
var ErrDrainTimeout = errors.New("queued blocks not stored in time")

// Interface serves the local update command channel.
type Interface struct {
	session Session
	codec   *secure.Codec
	buffer  *Buffer
	config  Config

	mu       sync.Mutex
	open     bool
	keyID    uint8
	announce protocol.Announce

	// storing is raised by the consumer before it takes a block and lowered
	// once the block is stored.
	storing atomic.Bool
}

// New creates an Interface feeding sess with blocks decoded by codec.
func New(sess Session, codec *secure.Codec, opts ...Option) *Interface {
	if sess == nil || codec == nil {
		panic("session and codec cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Interface{
		session: sess,
		codec:   codec,
		buffer:  NewBuffer(cfg.LockTimeout),
		config:  cfg,
	}
}

// Buffer returns the block queue.
func (i *Interface) Buffer() *Buffer {
	return i.buffer
}

// Serve reads command frames from rw and writes one response per frame
// until rw reports io.EOF or ctx is done. A blocked read is not
// interrupted by ctx.
func (i *Interface) Serve(ctx context.Context, rw io.ReadWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := protocol.ReadFrame(rw)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			i.logError("read command failed", "error", err)
			if _, werr := rw.Write(protocol.BuildResponse(protocol.ErrFrameLength, nil)); werr != nil {
				return fmt.Errorf("write response: %w", werr)
			}
			continue
		}

		if _, err := rw.Write(i.HandleFrame(ctx, frame)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// HandleFrame executes one command frame and returns the response frame.
func (i *Interface) HandleFrame(ctx context.Context, frame []byte) []byte {
	cmd, data, err := protocol.ParseCommand(frame)
	if err != nil {
		var csErr *protocol.ChecksumError
		if errors.As(err, &csErr) {
			return protocol.BuildResponse(protocol.ErrChecksum, nil)
		}
		return protocol.BuildResponse(protocol.ErrFrameLength, nil)
	}

	switch cmd {
	case protocol.CmdAnnounce:
		return i.respond("announce", i.handleAnnounce(ctx, data))
	case protocol.CmdBlock:
		return i.respond("block", i.handleBlock(data))
	case protocol.CmdFinalize:
		return i.respond("finalize", i.handleFinalize(ctx))
	case protocol.CmdAbort:
		return i.respond("abort", i.handleAbort(ctx))
	case protocol.CmdStatus:
		return protocol.BuildResponse(protocol.StatusSuccess, protocol.EncodeStatusReport(i.Report()))
	default:
		i.logError("unknown command", "cmd", fmt.Sprintf("0x%02X", cmd))
		return protocol.BuildResponse(protocol.ErrCommand, nil)
	}
}

// Report returns the progress reported by the status command.
func (i *Interface) Report() *protocol.StatusReport {
	received, _ := i.session.Progress()
	return &protocol.StatusReport{
		Pending:  byte(i.session.Pending()),
		Status:   byte(i.session.Status()),
		Received: uint16(received),
		Missed:   uint16(i.buffer.Missed()),
	}
}

func (i *Interface) respond(op string, err error) []byte {
	code := session.Code(err)
	if err != nil {
		i.logError(op+" rejected", "code", protocol.StatusName(code), "error", err)
	}
	return protocol.BuildResponse(code, nil)
}

func (i *Interface) handleAnnounce(ctx context.Context, data []byte) error {
	keyID, a, err := protocol.ParseAnnounceCmd(data)
	if err != nil {
		return fmt.Errorf("%w: %v", secure.ErrFrameLength, err)
	}

	if err := i.session.Open(ctx, session.FromAnnounce(a, keyID)); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.open = true
	i.keyID = keyID
	i.announce = *a
	i.buffer.Reset()
	i.logInfo("local update announced", "session", a.SessionID, "blocks", a.BlockCount, "key", keyID)
	return nil
}

func (i *Interface) handleBlock(frame []byte) error {
	if len(frame) != secure.FrameSize {
		return fmt.Errorf("%w: %d bytes", secure.ErrFrameLength, len(frame))
	}

	i.mu.Lock()
	if !i.open || i.session.Pending() != session.PendingLocal {
		i.open = false
		i.mu.Unlock()
		return session.ErrNotOpen
	}
	keyID, announce := i.keyID, i.announce
	i.mu.Unlock()

	if id := secure.SessionID(frame); id != announce.SessionID {
		return fmt.Errorf("%w: block for 0x%08X, open 0x%08X", session.ErrSessionMismatch, id, announce.SessionID)
	}
	blockID := secure.BlockID(frame)
	if blockID == 0 || blockID > announce.BlockCount {
		return fmt.Errorf("%w: %d not in 1..%d", session.ErrBlockOutOfRange, blockID, announce.BlockCount)
	}

	var payload [secure.PayloadSize]byte
	if err := i.codec.Extract(payload[:], frame, keyID); err != nil {
		i.buffer.Miss()
		return err
	}

	if err := i.buffer.Put(blockID, payload[:]); err != nil {
		return fmt.Errorf("%w: %w", session.ErrBusy, err)
	}
	return nil
}

func (i *Interface) handleFinalize(ctx context.Context) error {
	if err := i.drain(ctx); err != nil {
		return err
	}

	if _, err := i.session.Finalize(ctx); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.open = false
	return nil
}

func (i *Interface) handleAbort(ctx context.Context) error {
	i.mu.Lock()
	i.open = false
	i.mu.Unlock()

	err := i.session.Close(ctx)
	i.buffer.Reset()
	return err
}

// idle reports whether every queued block has been stored. The buffer is
// checked before the consumer flag.
func (i *Interface) idle() bool {
	return i.buffer.Len() == 0 && !i.storing.Load()
}

// drain waits until the consumer stored every queued block.
func (i *Interface) drain(ctx context.Context) error {
	if i.idle() {
		return nil
	}

	deadline := time.NewTimer(i.config.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	for !i.idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrDrainTimeout
		case <-tick.C:
		}
	}
	return nil
}

// Run stores queued blocks into the session until ctx is done. It is the
// single consumer of the buffer.
func (i *Interface) Run(ctx context.Context) error {
	poll := time.NewTicker(i.config.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-i.buffer.Ready():
		case <-poll.C:
		}

		for {
			i.storing.Store(true)
			blk, ok := i.buffer.Get()
			if !ok {
				i.storing.Store(false)
				break
			}
			if err := i.session.Store(blk.ID, blk.Payload()); err != nil {
				i.buffer.Miss()
				i.logError("store block failed", "block", blk.ID, "error", err)
			} else {
				i.logDebug("block stored", "block", blk.ID)
			}
			i.storing.Store(false)
		}
	}
}

// logDebug logs a debug message if a logger is configured.
func (i *Interface) logDebug(msg string, keysAndValues ...interface{}) {
	if i.config.Logger != nil {
		i.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (i *Interface) logInfo(msg string, keysAndValues ...interface{}) {
	if i.config.Logger != nil {
		i.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (i *Interface) logError(msg string, keysAndValues ...interface{}) {
	if i.config.Logger != nil {
		i.config.Logger.Error(msg, keysAndValues...)
	}
}
