package updatearea

import (
	"fmt"
	"sync"

	"github.com/moffa90/go-lpfota/exchange"
	"github.com/moffa90/go-lpfota/flash"
	"github.com/moffa90/go-lpfota/partition"
)

// Area is the update area geometry learned at Setup.
type Area struct {
	// Update is the partition receiving the new image
	Update partition.Partition

	// Running is the partition the application runs from
	Running partition.Partition

	// HeaderSize is the payload offset inside Update
	HeaderSize uint32

	// Magic is the header magic of the next image
	Magic uint32

	// FromRecord is false when the fallback geometry is in use
	FromRecord bool
}

// Manager stores an update image into the update area.
type Manager struct {
	flash  flash.Flash
	store  exchange.Store
	config Config

	mu     sync.Mutex
	ready  bool
	area   Area
	status Status

	kind     Kind
	present  []bool
	received int
	erased   map[int]bool
}

// New creates a Manager for the given flash bank and exchange record store.
func New(f flash.Flash, store exchange.Store, opts ...Option) *Manager {
	if f == nil || store == nil {
		panic("flash and record store cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Manager{
		flash:  f,
		store:  store,
		config: cfg,
	}
}

// Setup loads the update area geometry from the exchange record, or from the
// compiled-in fallback when the record is invalid, and checks it against the
// flash bank. It erases nothing and may be called any number of times.
//
// Setup returns StatusReady when the area is usable and StatusStoreFailed
// otherwise.
func (m *Manager) Setup() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	area, err := m.loadArea()
	if err == nil {
		err = m.checkArea(area)
	}
	if err != nil {
		m.ready = false
		m.status = StatusStoreFailed
		m.logError("update area setup failed", "error", err)
		return StatusStoreFailed, err
	}

	m.area = area
	m.ready = true
	if m.status == StatusStoreFailed {
		m.status = StatusUnknown
	}
	m.logInfo("update area ready",
		"update", area.Update.String(),
		"running", area.Running.String(),
		"from_record", area.FromRecord,
	)
	return StatusReady, nil
}

func (m *Manager) loadArea() (Area, error) {
	rec, ok, err := exchange.Read(m.store)
	if err != nil {
		m.logError("exchange record unreadable", "error", err)
	}
	if ok && rec.DestSize != 0 {
		update := partition.Partition{Role: partition.None, Addr: rec.DestAddr, Size: rec.DestSize}
		running := partition.Partition{Role: partition.None, Addr: rec.SrcAddr, Size: rec.SrcSize}
		// A pending swap names the staged image as source.
		if rec.Request == exchange.RequestSwap {
			update, running = running, update
		}
		return Area{
			Update:     update,
			Running:    running,
			HeaderSize: rec.HeaderSize,
			Magic:      rec.Magic,
			FromRecord: true,
		}, nil
	}

	layout := m.config.Layout
	if m.config.Fallback < 0 || int(m.config.Fallback) >= partition.Count {
		return Area{}, fmt.Errorf("fallback partition %s: %w", m.config.Fallback, ErrNotSetup)
	}
	area := Area{
		Update:     layout.Get(m.config.Fallback),
		Running:    layout.Get(partition.Active),
		HeaderSize: partition.HeaderSize,
		Magic:      partition.MagicA,
	}
	if h, err := partition.ReadHeader(m.flash, area.Running); err == nil && h.Valid() {
		area.Magic = partition.NextMagic(h.Magic)
	}
	return area, nil
}

func (m *Manager) checkArea(a Area) error {
	geo := m.flash.Geometry()
	p := a.Update

	fail := func(reason string) error {
		return &GeometryError{Addr: p.Addr, Size: p.Size, Reason: reason}
	}

	switch {
	case p.Size == 0:
		return fail("empty")
	case !geo.Contains(p.Addr, p.Size):
		return fail("outside " + geo.String())
	case !geo.IsPageAligned(p.Addr) || p.Size%geo.PageSize != 0:
		return fail("not page aligned")
	case a.HeaderSize < partition.EncodedHeaderSize || a.HeaderSize%geo.ProgramUnit != 0:
		return fail(fmt.Sprintf("bad header size %d", a.HeaderSize))
	case a.HeaderSize >= p.Size:
		return fail("header larger than the area")
	case a.Running.Size != 0 && a.Running.Addr < p.Addr+p.Size && p.Addr < a.Running.Addr+a.Running.Size:
		return fail("overlaps the running partition")
	case !partition.IsMagic(a.Magic):
		return fail(fmt.Sprintf("bad magic 0x%08X", a.Magic))
	}
	return nil
}

// Geometry returns the area learned by the last successful Setup.
func (m *Manager) Geometry() (Area, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.area, m.ready
}

// Status returns the progress of the image held by the area.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Capacity returns the number of blocks the update area can hold.
func (m *Manager) Capacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return 0
	}
	return int((m.area.Update.Size - m.area.HeaderSize) / uint32(m.config.BlockSize))
}

// Initialize prepares the area for an image of blockCount blocks. It erases
// the header page, so any previous image stops being bootable. External
// updates do not touch the area.
func (m *Manager) Initialize(kind Kind, blockCount int) error {
	if kind == KindExternal {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.usable(); err != nil {
		return err
	}

	needed := m.area.HeaderSize + uint32(blockCount)*uint32(m.config.BlockSize)
	if blockCount <= 0 || needed > m.area.Update.Size {
		return &CapacityError{BlockCount: blockCount, Needed: needed, Available: m.area.Update.Size}
	}

	m.erased = make(map[int]bool)
	if err := m.erase(m.area.Update.Addr, m.area.HeaderSize); err != nil {
		return m.storeFailed("erase header", err)
	}

	m.kind = kind
	m.present = make([]bool, blockCount)
	m.received = 0
	m.status = StatusInProgress
	m.logInfo("update area initialized", "kind", kind.String(), "blocks", blockCount)
	return nil
}

// Proceed stores block blockID (1-based) of the image. Storing the same block
// twice with the same content is harmless. Pages are erased once per
// Initialize, so a block stored again with different content is ANDed over
// the bytes already programmed.
func (m *Manager) Proceed(kind Kind, blockID uint16, data []byte) error {
	if kind == KindExternal {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transferring(kind); err != nil {
		return err
	}
	if blockID == 0 || int(blockID) > len(m.present) {
		return &BlockRangeError{BlockID: blockID, Count: len(m.present)}
	}
	if len(data) == 0 || len(data) > m.config.BlockSize {
		return fmt.Errorf("block %d holds %d bytes, want 1..%d", blockID, len(data), m.config.BlockSize)
	}

	addr := m.blockAddr(blockID)
	if err := m.erase(addr, uint32(len(data))); err != nil {
		return m.storeFailed("erase", err)
	}
	if err := m.program(addr, data); err != nil {
		return m.storeFailed("program", err)
	}

	if !m.present[blockID-1] {
		m.present[blockID-1] = true
		m.received++
	}
	m.status = StatusInProgress
	m.logDebug("block stored", "block", blockID, "received", m.received, "total", len(m.present))
	return nil
}

// Finalize checks the stored image and, when it is complete and matches
// expectedHash, writes its header and the boot request. imageSize is the
// number of meaningful payload bytes; zero means all blocks in full.
//
// The returned status is StatusReady on success. StatusIncomplete and
// StatusCorrupted come with an *ImageError and leave the transfer open so
// missing blocks can still be sent. Resending blocks does not repair a
// corrupted image; it needs a new Initialize.
func (m *Manager) Finalize(kind Kind, expectedHash uint32, imageSize uint32) (Status, error) {
	if kind == KindExternal {
		return m.Status(), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transferring(kind); err != nil {
		return m.status, err
	}

	if missing := len(m.present) - m.received; missing > 0 {
		m.status = StatusIncomplete
		return m.status, &ImageError{Status: StatusIncomplete, Missing: missing}
	}

	total := uint32(len(m.present)) * uint32(m.config.BlockSize)
	if imageSize == 0 {
		imageSize = total
	}
	if imageSize > total {
		return m.status, fmt.Errorf("image size %d exceeds %d received bytes", imageSize, total)
	}

	hash, err := m.hashPayload(imageSize)
	if err != nil {
		return m.status, m.storeFailed("read back", err)
	}
	if hash != expectedHash {
		m.status = StatusCorrupted
		m.logError("image hash mismatch", "hash", hash, "expected", expectedHash)
		return m.status, &ImageError{Status: StatusCorrupted, Expected: expectedHash, Actual: hash}
	}
	m.status = StatusValid

	geo := m.flash.Geometry()
	h := &partition.Header{
		Magic: m.area.Magic,
		Size:  geo.RoundUp(m.area.HeaderSize + imageSize),
		Hash:  hash,
		Epoch: uint32(m.config.Clock().Unix()),
	}
	if err := partition.WriteHeader(m.flash, m.area.Update, h); err != nil {
		return m.status, m.storeFailed("write header", err)
	}

	if err := m.requestBoot(kind); err != nil {
		m.logError("boot request not stored", "error", err)
		return m.status, &RecordError{Err: err}
	}

	m.status = StatusReady
	m.present = nil
	m.logInfo("update image ready", "kind", kind.String(), "header", h.String())
	return m.status, nil
}

// Abort forgets the ongoing transfer. Flash content is left as is; the
// header page stays erased so the partial image is never bootable.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.present = nil
	m.received = 0
	if m.status != StatusStoreFailed {
		m.status = StatusUnknown
	}
}

// Missing returns the ids of blocks not stored yet.
func (m *Manager) Missing() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uint16
	for i, ok := range m.present {
		if !ok {
			ids = append(ids, uint16(i+1))
		}
	}
	return ids
}

func (m *Manager) usable() error {
	if m.status == StatusStoreFailed {
		return ErrStoreFailed
	}
	if !m.ready {
		return ErrNotSetup
	}
	return nil
}

func (m *Manager) transferring(kind Kind) error {
	if err := m.usable(); err != nil {
		return err
	}
	if m.present == nil {
		return ErrNotInProgress
	}
	if kind != m.kind {
		return fmt.Errorf("%w: %s transfer, got %s", ErrKindMismatch, m.kind, kind)
	}
	return nil
}

func (m *Manager) blockAddr(blockID uint16) uint32 {
	return m.area.Update.Addr + m.area.HeaderSize + uint32(blockID-1)*uint32(m.config.BlockSize)
}

// erase erases the pages covering [addr, addr+size) that were not erased
// since Initialize.
func (m *Manager) erase(addr, size uint32) error {
	first := m.flash.Page(addr)
	last := m.flash.Page(addr + size - 1)
	for page := first; page <= last; page++ {
		if m.erased[page] {
			continue
		}
		if err := m.flash.Erase(page); err != nil {
			return err
		}
		m.erased[page] = true
	}
	return nil
}

// program writes data at an address that need not be aligned. Partial
// program units are padded with erased bytes, which leaves the neighbouring
// content unchanged.
func (m *Manager) program(addr uint32, data []byte) error {
	unit := m.flash.Geometry().ProgramUnit
	start := addr - addr%unit
	end := addr + uint32(len(data))
	if rem := end % unit; rem != 0 {
		end += unit - rem
	}

	buf := make([]byte, end-start)
	for i := range buf {
		buf[i] = flash.ErasedByte
	}
	copy(buf[addr-start:], data)
	return m.flash.Write(start, buf)
}

func (m *Manager) hashPayload(size uint32) (uint32, error) {
	h := partition.NewContentHasher()
	buf := make([]byte, m.flash.Geometry().PageSize)
	addr := m.area.Update.Addr + m.area.HeaderSize

	for remaining := size; remaining > 0; {
		n := uint32(len(buf))
		if remaining < n {
			n = remaining
		}
		if err := m.flash.Read(addr, buf[:n]); err != nil {
			return 0, err
		}
		h.Write(buf[:n])
		addr += n
		remaining -= n
	}
	return partition.SumContentHash(h), nil
}

// requestBoot stores the boot request for the finalized image.
func (m *Manager) requestBoot(kind Kind) error {
	rec, ok, err := exchange.Read(m.store)
	if err != nil || !ok {
		rec = &exchange.Record{Magic: m.area.Magic, HeaderSize: m.area.HeaderSize}
	}

	rec.SrcAddr, rec.SrcSize = m.area.Update.Addr, m.area.Update.Size
	if kind == KindLocal {
		rec.Request = exchange.RequestLocal
		if rec.DestSize == 0 {
			rec.DestAddr, rec.DestSize = m.area.Update.Addr, m.area.Update.Size
		}
	} else {
		active := m.config.Layout.Get(partition.Active)
		rec.Request = exchange.RequestSwap
		rec.DestAddr, rec.DestSize = active.Addr, active.Size
	}
	return exchange.Write(m.store, rec)
}

func (m *Manager) storeFailed(op string, err error) error {
	m.status = StatusStoreFailed
	m.present = nil
	m.logError("update area flash failure", "op", op, "error", err)
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailed, err)
}

// logDebug logs a debug message if a logger is configured.
func (m *Manager) logDebug(msg string, keysAndValues ...interface{}) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (m *Manager) logInfo(msg string, keysAndValues ...interface{}) {
	if m.config.Logger != nil {
		m.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (m *Manager) logError(msg string, keysAndValues ...interface{}) {
	if m.config.Logger != nil {
		m.config.Logger.Error(msg, keysAndValues...)
	}
}
