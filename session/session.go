package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/moffa90/go-lpfota/updatearea"
)

// Area is the update area used by the session. *updatearea.Manager
// implements it.
type Area interface {
	Setup() (updatearea.Status, error)
	Initialize(kind updatearea.Kind, blockCount int) error
	Proceed(kind updatearea.Kind, blockID uint16, data []byte) error
	Finalize(kind updatearea.Kind, expectedHash uint32, imageSize uint32) (updatearea.Status, error)
	Abort()
}

// FSM events.
const (
	eventOpenInternal = "open_internal"
	eventOpenExternal = "open_external"
	eventOpenLocal    = "open_local"
	eventRelease      = "release"
	eventForbid       = "forbid"
)

var openEvents = map[updatearea.Kind]string{
	updatearea.KindInternal: eventOpenInternal,
	updatearea.KindExternal: eventOpenExternal,
	updatearea.KindLocal:    eventOpenLocal,
}

// Session serializes firmware updates: it holds the pending update kind and
// drives the update area and the download collaborator for it.
type Session struct {
	area   Area
	config Config

	mu       sync.Mutex
	fsm      *fsm.FSM
	gen      uint64
	info     AnnounceInfo
	hasInfo  bool
	lastID   uint32
	hasLast  bool
	status   updatearea.Status
	ready    bool
	present  []bool
	received int
	idle     *time.Timer

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Session over the given update area and starts its worker.
// Call Shutdown to stop the worker.
func New(area Area, opts ...Option) *Session {
	if area == nil {
		panic("update area cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		area:   area,
		config: cfg,
		jobs:   make(chan job),
		ctx:    ctx,
		cancel: cancel,
	}

	s.fsm = fsm.NewFSM(
		stateNone,
		fsm.Events{
			{Name: eventOpenInternal, Src: []string{stateNone}, Dst: stateInternal},
			{Name: eventOpenExternal, Src: []string{stateNone}, Dst: stateExternal},
			{Name: eventOpenLocal, Src: []string{stateNone}, Dst: stateLocal},
			{Name: eventRelease, Src: []string{stateInternal, stateExternal, stateLocal}, Dst: stateNone},
			{Name: eventForbid, Src: []string{stateNone, stateInternal, stateExternal, stateLocal}, Dst: stateForbidden},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logInfo("pending update changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)

	s.wg.Add(1)
	go s.run()
	return s
}

// Init prepares the update area. When it cannot be set up, updates are
// forbidden until restart.
func (s *Session) Init() error {
	_, err := s.area.Setup()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.forbid(err)
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	return nil
}

// Open starts an update. It is rejected immediately when another update is
// pending, when the announce is refused, or when it repeats the session id
// of the last accepted announce. Open waits for the worker to start the
// update; on failure the session returns to none.
func (s *Session) Open(ctx context.Context, info AnnounceInfo) error {
	s.mu.Lock()

	switch {
	case s.fsm.Is(stateForbidden):
		s.mu.Unlock()
		return ErrForbidden
	case !s.fsm.Is(stateNone):
		s.mu.Unlock()
		return ErrBusy
	}

	event, ok := openEvents[info.Type]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(info.Type))
	}
	if s.hasLast && info.SessionID == s.lastID {
		s.mu.Unlock()
		return fmt.Errorf("%w: 0x%08X", ErrDuplicateSession, info.SessionID)
	}
	if s.config.Validator != nil {
		if err := s.config.Validator.Validate(info); err != nil {
			s.mu.Unlock()
			s.logError("announce rejected", "session", info.SessionID, "error", err)
			return err
		}
	}

	if err := s.fsm.Event(context.Background(), event); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("open %s update: %w", info.Type, err)
	}
	s.gen++
	gen := s.gen
	s.info = info
	s.hasInfo = true
	s.status = updatearea.StatusInProgress
	s.ready = false
	s.present = make([]bool, info.BlockCount)
	s.received = 0
	s.mu.Unlock()

	_, err := s.submit(ctx, opStart, info)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return ErrClosed
	}
	if err != nil {
		s.logError("update start failed", "kind", info.Type.String(), "error", err)
		if errors.Is(err, updatearea.ErrStoreFailed) {
			s.forbid(err)
			return err
		}
		s.status = updatearea.StatusSessionFailed
		s.release()
		return fmt.Errorf("start %s update: %w", info.Type, err)
	}

	s.lastID = info.SessionID
	s.hasLast = true
	if info.Type == updatearea.KindLocal {
		s.idle = time.AfterFunc(s.config.IdleTimeout, func() { s.idleExpired(gen) })
	}
	s.logInfo("update opened",
		"kind", info.Type.String(),
		"session", info.SessionID,
		"blocks", info.BlockCount,
	)
	return nil
}

// Store stores a block of the pending local update.
func (s *Session) Store(blockID uint16, data []byte) error {
	return s.store(PendingLocal, blockID, data)
}

// StoreRemote stores a block delivered by the download session of the
// pending internal update.
func (s *Session) StoreRemote(blockID uint16, data []byte) error {
	return s.store(PendingInternal, blockID, data)
}

func (s *Session) store(want Pending, blockID uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(want); err != nil {
		return err
	}
	if blockID == 0 || blockID > s.info.BlockCount {
		return fmt.Errorf("%w: %d not in 1..%d", ErrBlockOutOfRange, blockID, s.info.BlockCount)
	}

	if err := s.area.Proceed(s.info.Type, blockID, data); err != nil {
		if errors.Is(err, updatearea.ErrStoreFailed) {
			s.forbid(err)
		}
		return err
	}

	if !s.present[blockID-1] {
		s.present[blockID-1] = true
		s.received++
	}
	if s.idle != nil {
		s.idle.Reset(s.config.IdleTimeout)
	}
	return nil
}

// Finalize asks the worker to check and commit the pending image. Internal
// and local updates return to none once the image is ready; external
// updates stay pending until DownloadComplete. Incomplete and corrupted
// images leave the update open.
func (s *Session) Finalize(ctx context.Context) (updatearea.Status, error) {
	s.mu.Lock()
	if err := s.check(PendingNone); err != nil {
		s.mu.Unlock()
		return s.Status(), err
	}
	info, gen := s.info, s.gen
	s.mu.Unlock()

	status, err := s.submit(ctx, opFinalize, info)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return s.status, ErrClosed
	}
	if err != nil {
		if errors.Is(err, updatearea.ErrStoreFailed) {
			s.forbid(err)
			return s.status, err
		}
		if status != updatearea.StatusUnknown {
			s.status = status
		}
		s.logError("finalize failed", "kind", info.Type.String(), "error", err)
		return s.status, err
	}

	if info.Type == updatearea.KindExternal {
		return s.status, nil
	}

	s.status = updatearea.StatusReady
	s.ready = true
	s.release()
	s.logInfo("update ready", "kind", info.Type.String(), "session", info.SessionID)
	return s.status, nil
}

// Close abandons the pending update. The download is cancelled and the area
// transfer forgotten, both bounded by the acknowledgement timeout; the
// session returns to none in any case. A forbidden session stays forbidden.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.fsm.Is(stateForbidden):
		s.mu.Unlock()
		return ErrForbidden
	case s.fsm.Is(stateNone):
		s.mu.Unlock()
		return nil
	}
	info, gen := s.info, s.gen
	s.mu.Unlock()

	_, err := s.submit(ctx, opStop, info)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen == gen {
		if s.status != updatearea.StatusReady {
			s.status = updatearea.StatusUnknown
		}
		s.release()
	}
	if err != nil {
		s.logError("close incomplete", "kind", info.Type.String(), "error", err)
		return fmt.Errorf("close %s update: %w", info.Type, err)
	}
	return nil
}

// DownloadComplete reports the end of the download session of a remote
// update. A failed download releases the session. A successful internal
// download is finalized; a successful external one is ready.
func (s *Session) DownloadComplete(ctx context.Context, result error) error {
	s.mu.Lock()
	pending := pendingFromState(s.fsm.Current())
	if pending != PendingInternal && pending != PendingExternal {
		s.mu.Unlock()
		if pending == PendingForbidden {
			return ErrForbidden
		}
		if pending == PendingNone {
			return ErrNotOpen
		}
		return ErrWrongKind
	}

	if result != nil {
		defer s.mu.Unlock()
		s.logError("download failed", "kind", pending.String(), "error", result)
		if pending == PendingInternal {
			s.area.Abort()
		}
		s.status = updatearea.StatusSessionFailed
		s.release()
		return nil
	}

	if pending == PendingExternal {
		defer s.mu.Unlock()
		s.status = updatearea.StatusReady
		s.ready = true
		s.release()
		s.logInfo("external update ready", "session", s.info.SessionID)
		return nil
	}
	s.mu.Unlock()

	_, err := s.Finalize(ctx)
	return err
}

// Pending returns the kind of update currently pending.
func (s *Session) Pending() Pending {
	return pendingFromState(s.fsm.Current())
}

// IsReady reports whether an image was completed and awaits a reboot.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Status returns the status of the current or last update.
func (s *Session) Status() updatearea.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Announce returns the parameters of the current or last update.
func (s *Session) Announce() (AnnounceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.hasInfo
}

// Progress returns the number of distinct blocks stored and the number
// announced.
func (s *Session) Progress() (received, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, len(s.present)
}

// Shutdown stops the worker. Pending operations fail with ErrClosed.
func (s *Session) Shutdown() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopIdle()
}

// check verifies that an update of kind want is pending. PendingNone
// accepts any kind.
func (s *Session) check(want Pending) error {
	current := pendingFromState(s.fsm.Current())
	switch {
	case current == PendingForbidden:
		return ErrForbidden
	case current == PendingNone:
		return ErrNotOpen
	case want != PendingNone && current != want:
		return fmt.Errorf("%w: %s pending", ErrWrongKind, current)
	}
	return nil
}

// release returns to none. Called with mu held.
func (s *Session) release() {
	if err := s.fsm.Event(context.Background(), eventRelease); err != nil {
		s.logDebug("release ignored", "state", s.fsm.Current(), "error", err)
	}
	s.gen++
	s.stopIdle()
}

// forbid disables updates until restart. Called with mu held.
func (s *Session) forbid(cause error) {
	s.logError("updates forbidden", "error", cause)
	if err := s.fsm.Event(context.Background(), eventForbid); err != nil {
		s.logDebug("forbid ignored", "state", s.fsm.Current(), "error", err)
	}
	s.gen++
	s.status = updatearea.StatusStoreFailed
	s.stopIdle()
}

func (s *Session) stopIdle() {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}

func (s *Session) idleExpired(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || !s.fsm.Is(stateLocal) {
		return
	}
	s.logInfo("local update idle, releasing", "session", s.info.SessionID)
	s.area.Abort()
	s.status = updatearea.StatusSessionFailed
	s.release()
}

// logDebug logs a debug message if a logger is configured.
func (s *Session) logDebug(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (s *Session) logInfo(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (s *Session) logError(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, keysAndValues...)
	}
}
