package flash

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrInjected is the cause reported by an operation failed through FailAfter.
var ErrInjected = errors.New("injected failure")

// Memory is a NOR flash simulator. Erased bytes read 0xFF and programming
// can only clear bits, so programming the same unit twice stores the AND of
// both values.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu   sync.Mutex
	geo  Geometry
	data []byte

	erases int
	writes int

	// failAt is the 1-based index of the next operation that fails; zero
	// disables injection
	failAt int
	ops    int
	sticky bool
}

// NewMemory returns a fully erased bank with the given geometry.
func NewMemory(geo Geometry) *Memory {
	if geo.PageSize == 0 || geo.ProgramUnit == 0 || geo.Size%geo.PageSize != 0 {
		panic(fmt.Sprintf("invalid flash geometry: %s", geo))
	}

	m := &Memory{
		geo:  geo,
		data: make([]byte, geo.Size),
	}
	for i := range m.data {
		m.data[i] = ErasedByte
	}
	return m
}

// Geometry implements Flash.
func (m *Memory) Geometry() Geometry {
	return m.geo
}

// Page implements Flash.
func (m *Memory) Page(addr uint32) int {
	return m.geo.Page(addr)
}

// IsAligned implements Flash.
func (m *Memory) IsAligned(addr uint32) bool {
	return m.geo.IsAligned(addr)
}

// Erase implements Flash.
func (m *Memory) Erase(page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := m.geo.PageAddr(page)
	if page < 0 || !m.geo.Contains(addr, m.geo.PageSize) {
		return &OpError{Op: "erase", Addr: addr, Err: ErrOutOfRange}
	}
	if m.inject() {
		return &OpError{Op: "erase", Addr: addr, Err: ErrInjected}
	}

	off := addr - m.geo.Base
	for i := off; i < off+m.geo.PageSize; i++ {
		m.data[i] = ErasedByte
	}
	m.erases++
	return nil
}

// Write implements Flash.
func (m *Memory) Write(addr uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.geo.Contains(addr, uint32(len(data))) {
		return &OpError{Op: "write", Addr: addr, Err: ErrOutOfRange}
	}
	if !m.geo.IsAligned(addr) || uint32(len(data))%m.geo.ProgramUnit != 0 {
		return &OpError{Op: "write", Addr: addr, Err: ErrUnaligned}
	}
	if m.inject() {
		return &OpError{Op: "write", Addr: addr, Err: ErrInjected}
	}

	off := addr - m.geo.Base
	for i, b := range data {
		m.data[off+uint32(i)] &= b
	}
	m.writes++
	return nil
}

// Read implements Flash.
func (m *Memory) Read(addr uint32, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.geo.Contains(addr, uint32(len(p))) {
		return ErrOutOfRange
	}
	off := addr - m.geo.Base
	copy(p, m.data[off:off+uint32(len(p))])
	return nil
}

// Load overwrites memory at addr with data, bypassing program semantics.
// It is meant for preparing fixtures.
func (m *Memory) Load(addr uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.geo.Contains(addr, uint32(len(data))) {
		return ErrOutOfRange
	}
	copy(m.data[addr-m.geo.Base:], data)
	return nil
}

// Bytes returns a copy of the region [addr, addr+size).
func (m *Memory) Bytes(addr, size uint32) []byte {
	p := make([]byte, size)
	if err := m.Read(addr, p); err != nil {
		return nil
	}
	return p
}

// FailAfter arms fault injection: the n-th erase or write from now fails
// (n = 1 fails the next one). When sticky is set every later operation fails
// too, which models a power cut. FailAfter(0, false) disarms injection.
func (m *Memory) FailAfter(n int, sticky bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = 0
	m.failAt = n
	m.sticky = sticky
}

// inject is called with mu held.
func (m *Memory) inject() bool {
	if m.failAt == 0 {
		return false
	}
	m.ops++
	if m.ops == m.failAt {
		if !m.sticky {
			m.failAt = 0
		}
		return true
	}
	return m.sticky && m.ops > m.failAt
}

// Counters returns the number of successful erase and write operations.
func (m *Memory) Counters() (erases, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.erases, m.writes
}

// ReadFrom replaces the bank content with a dump read from r. Short dumps
// leave the remainder erased.
func (m *Memory) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, m.geo.Size)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return int64(n), fmt.Errorf("read flash dump: %w", err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = ErasedByte
	}

	m.mu.Lock()
	copy(m.data, buf)
	m.mu.Unlock()
	return int64(n), nil
}

// WriteTo writes the whole bank content to w.
func (m *Memory) WriteTo(w io.Writer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := w.Write(m.data)
	return int64(n), err
}
