package updatearea

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/moffa90/go-lpfota/exchange"
	"github.com/moffa90/go-lpfota/flash"
	"github.com/moffa90/go-lpfota/partition"
)

// MockLogger records messages for assertions.
type MockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) { l.debugMsgs = append(l.debugMsgs, msg) }
func (l *MockLogger) Info(msg string, kv ...interface{})  { l.infoMsgs = append(l.infoMsgs, msg) }
func (l *MockLogger) Error(msg string, kv ...interface{}) { l.errorMsgs = append(l.errorMsgs, msg) }

var testEpoch = time.Unix(1700000000, 0)

func newManager(t *testing.T, opts ...Option) (*Manager, *flash.Memory, *exchange.MemoryStore) {
	t.Helper()

	mem := flash.NewMemory(flash.ReferenceGeometry())
	store := exchange.NewMemoryStore()
	opts = append([]Option{WithClock(func() time.Time { return testEpoch })}, opts...)
	return New(mem, store, opts...), mem, store
}

func setup(t *testing.T, m *Manager) {
	t.Helper()
	if status, err := m.Setup(); err != nil || status != StatusReady {
		t.Fatalf("Setup() = %v, %v", status, err)
	}
}

func image(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 3)
	}
	return p
}

// split cuts payload into blocks of BlockSize; the last one may be short.
func split(payload []byte) [][]byte {
	var blocks [][]byte
	for len(payload) > 0 {
		n := BlockSize
		if len(payload) < n {
			n = len(payload)
		}
		blocks = append(blocks, payload[:n])
		payload = payload[n:]
	}
	return blocks
}

func TestNewPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(nil, nil) did not panic")
		}
	}()
	New(nil, nil)
}

func TestSetupFallback(t *testing.T) {
	m, mem, _ := newManager(t)
	setup(t, m)

	area, ok := m.Geometry()
	if !ok {
		t.Fatal("Geometry() not ready after Setup")
	}
	want := partition.ReferenceLayout().Get(partition.Inactive1)
	if area.Update != want {
		t.Errorf("update area = %s, want %s", area.Update, want)
	}
	if area.FromRecord {
		t.Error("blank store reported record geometry")
	}
	if area.Magic != partition.MagicA {
		t.Errorf("magic = 0x%08X, want MagicA", area.Magic)
	}
	if erases, writes := mem.Counters(); erases != 0 || writes != 0 {
		t.Errorf("Setup touched flash: %d erases, %d writes", erases, writes)
	}
}

func TestSetupIdempotent(t *testing.T) {
	m, mem, store := newManager(t)
	layout := partition.ReferenceLayout()
	active, update := layout.Get(partition.Active), layout.Get(partition.Inactive0)

	if err := exchange.Write(store, &exchange.Record{
		Magic:      partition.MagicB,
		SrcAddr:    active.Addr,
		SrcSize:    active.Size,
		DestAddr:   update.Addr,
		DestSize:   update.Size,
		HeaderSize: partition.HeaderSize,
	}); err != nil {
		t.Fatal(err)
	}

	setup(t, m)
	first, _ := m.Geometry()
	setup(t, m)
	second, _ := m.Geometry()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second Setup changed geometry (-first +second):\n%s", diff)
	}
	if first.Update.Addr != update.Addr || !first.FromRecord || first.Magic != partition.MagicB {
		t.Errorf("geometry not taken from record: %+v", first)
	}
	if erases, writes := mem.Counters(); erases != 0 || writes != 0 {
		t.Errorf("Setup touched flash: %d erases, %d writes", erases, writes)
	}
}

func TestSetupGeometryMismatch(t *testing.T) {
	tests := []struct {
		name string
		rec  exchange.Record
	}{
		{
			name: "unaligned",
			rec:  exchange.Record{Magic: partition.MagicA, DestAddr: 0x08018010, DestSize: 0x14000, HeaderSize: 512},
		},
		{
			name: "outside bank",
			rec:  exchange.Record{Magic: partition.MagicA, DestAddr: 0x08040000, DestSize: 0x14000, HeaderSize: 512},
		},
		{
			name: "bad header size",
			rec:  exchange.Record{Magic: partition.MagicA, DestAddr: 0x08018000, DestSize: 0x14000, HeaderSize: 20},
		},
		{
			name: "overlapping running",
			rec: exchange.Record{Magic: partition.MagicA, SrcAddr: 0x08004000, SrcSize: 0x14000,
				DestAddr: 0x08010000, DestSize: 0x14000, HeaderSize: 512},
		},
		{
			name: "bad magic",
			rec:  exchange.Record{Magic: 0x12345678, DestAddr: 0x08018000, DestSize: 0x14000, HeaderSize: 512},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, store := newManager(t)
			rec := tt.rec
			if err := exchange.Write(store, &rec); err != nil {
				t.Fatal(err)
			}

			status, err := m.Setup()
			if status != StatusStoreFailed {
				t.Errorf("Setup() status = %v, want store-failed", status)
			}
			var geoErr *GeometryError
			if !errors.As(err, &geoErr) {
				t.Errorf("Setup() error = %v, want *GeometryError", err)
			}
			if err := m.Initialize(KindLocal, 1); !errors.Is(err, ErrStoreFailed) {
				t.Errorf("Initialize() after failed Setup = %v, want ErrStoreFailed", err)
			}
		})
	}
}

func TestInitializeBeforeSetup(t *testing.T) {
	m, _, _ := newManager(t)
	if err := m.Initialize(KindLocal, 1); !errors.Is(err, ErrNotSetup) {
		t.Errorf("Initialize() = %v, want ErrNotSetup", err)
	}
}

func TestInitializeCapacity(t *testing.T) {
	m, _, _ := newManager(t)
	setup(t, m)

	capacity := m.Capacity()
	if want := (0x14000 - 512) / BlockSize; capacity != want {
		t.Fatalf("Capacity() = %d, want %d", capacity, want)
	}

	var capErr *CapacityError
	if err := m.Initialize(KindLocal, capacity+1); !errors.As(err, &capErr) {
		t.Errorf("Initialize(capacity+1) = %v, want *CapacityError", err)
	}
	if err := m.Initialize(KindLocal, 0); !errors.As(err, &capErr) {
		t.Errorf("Initialize(0) = %v, want *CapacityError", err)
	}
	if err := m.Initialize(KindLocal, capacity); err != nil {
		t.Errorf("Initialize(capacity) = %v", err)
	}
}

func TestLocalUpdate(t *testing.T) {
	logger := &MockLogger{}
	m, mem, store := newManager(t, WithLogger(logger))
	setup(t, m)
	area, _ := m.Geometry()

	payload := image(600)
	blocks := split(payload)
	if err := m.Initialize(KindLocal, len(blocks)); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	// Out of order, with a duplicate.
	for _, id := range []int{3, 1, 2, 1} {
		if err := m.Proceed(KindLocal, uint16(id), blocks[id-1]); err != nil {
			t.Fatalf("Proceed(%d) error: %v", id, err)
		}
	}

	// Nothing may announce the image before Finalize.
	if _, ok, _ := exchange.Read(store); ok {
		t.Error("record written before Finalize")
	}
	if h, _ := partition.ReadHeader(mem, area.Update); h.Valid() {
		t.Error("header valid before Finalize")
	}

	status, err := m.Finalize(KindLocal, partition.ContentHash(payload), uint32(len(payload)))
	if err != nil || status != StatusReady {
		t.Fatalf("Finalize() = %v, %v", status, err)
	}
	if m.Status() != StatusReady {
		t.Errorf("Status() = %v, want ready", m.Status())
	}

	h, err := partition.ReadHeader(mem, area.Update)
	if err != nil {
		t.Fatal(err)
	}
	want := &partition.Header{
		Magic: partition.MagicA,
		Size:  1112,
		Hash:  partition.ContentHash(payload),
		Epoch: uint32(testEpoch.Unix()),
	}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if got := mem.Bytes(area.Update.PayloadAddr(), uint32(len(payload))); !bytes.Equal(got, payload) {
		t.Error("stored payload differs from image")
	}

	rec, ok, err := exchange.Read(store)
	if err != nil || !ok {
		t.Fatalf("record after Finalize: ok=%v err=%v", ok, err)
	}
	if rec.Request != exchange.RequestLocal || rec.SrcAddr != area.Update.Addr {
		t.Errorf("record = %+v, want local request from 0x%08X", rec, area.Update.Addr)
	}
	if len(logger.infoMsgs) == 0 {
		t.Error("no info messages logged")
	}
}

func TestRemoteUpdateRequestsSwap(t *testing.T) {
	m, _, store := newManager(t)
	setup(t, m)
	area, _ := m.Geometry()

	payload := image(BlockSize * 2)
	blocks := split(payload)
	if err := m.Initialize(KindInternal, len(blocks)); err != nil {
		t.Fatal(err)
	}
	for i, b := range blocks {
		if err := m.Proceed(KindInternal, uint16(i+1), b); err != nil {
			t.Fatal(err)
		}
	}
	if status, err := m.Finalize(KindInternal, partition.ContentHash(payload), 0); err != nil || status != StatusReady {
		t.Fatalf("Finalize() = %v, %v", status, err)
	}

	rec, ok, _ := exchange.Read(store)
	active := partition.ReferenceLayout().Get(partition.Active)
	if !ok || rec.Request != exchange.RequestSwap {
		t.Fatalf("record = %+v, want swap request", rec)
	}
	if rec.SrcAddr != area.Update.Addr || rec.DestAddr != active.Addr {
		t.Errorf("swap %08X -> %08X, want %08X -> %08X", rec.SrcAddr, rec.DestAddr, area.Update.Addr, active.Addr)
	}

	// A fresh manager still finds the staged image as update area.
	again := New(flash.NewMemory(flash.ReferenceGeometry()), store)
	setup(t, again)
	if got, _ := again.Geometry(); got.Update.Addr != area.Update.Addr {
		t.Errorf("update area after swap request = 0x%08X, want 0x%08X", got.Update.Addr, area.Update.Addr)
	}
}

func TestFinalizeIncomplete(t *testing.T) {
	m, _, store := newManager(t)
	setup(t, m)

	payload := image(BlockSize * 3)
	blocks := split(payload)
	if err := m.Initialize(KindLocal, 3); err != nil {
		t.Fatal(err)
	}
	m.Proceed(KindLocal, 1, blocks[0])
	m.Proceed(KindLocal, 3, blocks[2])

	status, err := m.Finalize(KindLocal, partition.ContentHash(payload), 0)
	var imgErr *ImageError
	if status != StatusIncomplete || !errors.As(err, &imgErr) || imgErr.Missing != 1 {
		t.Fatalf("Finalize() = %v, %v, want incomplete with 1 missing", status, err)
	}
	if diff := cmp.Diff([]uint16{2}, m.Missing()); diff != "" {
		t.Errorf("Missing() mismatch (-want +got):\n%s", diff)
	}
	if _, ok, _ := exchange.Read(store); ok {
		t.Error("record written for an incomplete image")
	}

	// The transfer stays open.
	if err := m.Proceed(KindLocal, 2, blocks[1]); err != nil {
		t.Fatalf("Proceed(2) after incomplete: %v", err)
	}
	if status, err := m.Finalize(KindLocal, partition.ContentHash(payload), 0); err != nil || status != StatusReady {
		t.Errorf("Finalize() = %v, %v, want ready", status, err)
	}
}

func TestFinalizeCorrupted(t *testing.T) {
	m, mem, store := newManager(t)
	setup(t, m)
	area, _ := m.Geometry()

	payload := image(BlockSize)
	m.Initialize(KindLocal, 1)
	m.Proceed(KindLocal, 1, payload)

	status, err := m.Finalize(KindLocal, partition.ContentHash(payload)^1, 0)
	var imgErr *ImageError
	if status != StatusCorrupted || !errors.As(err, &imgErr) {
		t.Fatalf("Finalize() = %v, %v, want corrupted", status, err)
	}
	if h, _ := partition.ReadHeader(mem, area.Update); h.Valid() {
		t.Error("header written for a corrupted image")
	}
	if _, ok, _ := exchange.Read(store); ok {
		t.Error("record written for a corrupted image")
	}
}

func TestCorruptedImageNeedsInitialize(t *testing.T) {
	m, _, _ := newManager(t)
	setup(t, m)

	payload := image(BlockSize)
	hash := partition.ContentHash(payload)
	if err := m.Initialize(KindLocal, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Proceed(KindLocal, 1, make([]byte, BlockSize)); err != nil {
		t.Fatal(err)
	}
	if status, _ := m.Finalize(KindLocal, hash, 0); status != StatusCorrupted {
		t.Fatalf("Finalize() = %v, want corrupted", status)
	}

	// The good block lands on programmed bytes and cannot clear them.
	if err := m.Proceed(KindLocal, 1, payload); err != nil {
		t.Fatal(err)
	}
	if status, _ := m.Finalize(KindLocal, hash, 0); status != StatusCorrupted {
		t.Errorf("Finalize() after resend = %v, want corrupted", status)
	}

	if err := m.Initialize(KindLocal, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Proceed(KindLocal, 1, payload); err != nil {
		t.Fatal(err)
	}
	if status, err := m.Finalize(KindLocal, hash, 0); err != nil || status != StatusReady {
		t.Errorf("Finalize() after Initialize = %v, %v, want ready", status, err)
	}
}

func TestProceedErrors(t *testing.T) {
	m, _, _ := newManager(t)
	setup(t, m)

	if err := m.Proceed(KindLocal, 1, image(10)); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("Proceed() before Initialize = %v, want ErrNotInProgress", err)
	}

	m.Initialize(KindLocal, 2)

	var rangeErr *BlockRangeError
	for _, id := range []uint16{0, 3} {
		if err := m.Proceed(KindLocal, id, image(10)); !errors.As(err, &rangeErr) {
			t.Errorf("Proceed(%d) = %v, want *BlockRangeError", id, err)
		}
	}
	if err := m.Proceed(KindLocal, 1, image(BlockSize+1)); err == nil {
		t.Error("Proceed() accepted an oversized block")
	}
	if err := m.Proceed(KindInternal, 1, image(10)); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Proceed(internal) = %v, want ErrKindMismatch", err)
	}
}

func TestExternalDoesNotTouchFlash(t *testing.T) {
	m, mem, store := newManager(t)
	setup(t, m)

	if err := m.Initialize(KindExternal, 10); err != nil {
		t.Errorf("Initialize(external) = %v", err)
	}
	if err := m.Proceed(KindExternal, 1, image(BlockSize)); err != nil {
		t.Errorf("Proceed(external) = %v", err)
	}
	if _, err := m.Finalize(KindExternal, 0, 0); err != nil {
		t.Errorf("Finalize(external) = %v", err)
	}
	if erases, writes := mem.Counters(); erases != 0 || writes != 0 {
		t.Errorf("external update touched flash: %d erases, %d writes", erases, writes)
	}
	if _, ok, _ := exchange.Read(store); ok {
		t.Error("external update wrote a record")
	}
}

func TestAbort(t *testing.T) {
	m, _, _ := newManager(t)
	setup(t, m)

	m.Initialize(KindLocal, 2)
	m.Proceed(KindLocal, 1, image(BlockSize))
	m.Abort()

	if m.Status() != StatusUnknown {
		t.Errorf("Status() after Abort = %v, want unknown", m.Status())
	}
	if err := m.Proceed(KindLocal, 2, image(BlockSize)); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("Proceed() after Abort = %v, want ErrNotInProgress", err)
	}
}

// TestPowerLossNeverLeavesBootableImage cuts power at every flash operation
// of a transfer and checks that neither a valid header nor a boot request
// exists unless Finalize reported ready.
func TestPowerLossNeverLeavesBootableImage(t *testing.T) {
	payload := image(BlockSize * 12)
	blocks := split(payload)

	for n := 1; ; n++ {
		m, mem, store := newManager(t)
		setup(t, m)
		area, _ := m.Geometry()
		mem.FailAfter(n, true)

		ready := false
		if err := m.Initialize(KindInternal, len(blocks)); err == nil {
			failed := false
			for i, b := range blocks {
				if err := m.Proceed(KindInternal, uint16(i+1), b); err != nil {
					if !errors.Is(err, ErrStoreFailed) || !errors.Is(err, flash.ErrInjected) {
						t.Fatalf("n=%d: Proceed() error = %v", n, err)
					}
					failed = true
					break
				}
			}
			if !failed {
				status, _ := m.Finalize(KindInternal, partition.ContentHash(payload), 0)
				ready = status == StatusReady
			}
		}

		h, _ := partition.ReadHeader(mem, area.Update)
		_, recOK, _ := exchange.Read(store)
		if !ready {
			if h.Valid() {
				t.Errorf("n=%d: valid header after power loss", n)
			}
			if recOK {
				t.Errorf("n=%d: boot request after power loss", n)
			}
			if m.Status() != StatusStoreFailed {
				t.Errorf("n=%d: status = %v, want store-failed", n, m.Status())
			}
			continue
		}

		if !h.Valid() || !recOK {
			t.Errorf("n=%d: ready without header or record", n)
		}
		if n < 4 {
			t.Errorf("transfer completed with only %d flash operations", n)
		}
		return
	}
}
