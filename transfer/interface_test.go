package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/moffa90/go-lpfota/exchange"
	"github.com/moffa90/go-lpfota/flash"
	"github.com/moffa90/go-lpfota/partition"
	"github.com/moffa90/go-lpfota/protocol"
	"github.com/moffa90/go-lpfota/secure"
	"github.com/moffa90/go-lpfota/session"
	"github.com/moffa90/go-lpfota/updatearea"
)

const testSession = 0x11223344

var testDevice = []byte{0x70, 0xB3, 0xD5, 0x7E, 0xD0, 0x00, 0x00, 0x01}

type fixture struct {
	iface   *Interface
	session *session.Session
	codec   *secure.Codec
	store   *exchange.MemoryStore
	blocks  [][]byte
}

func newFixture(t *testing.T, blockCount int) *fixture {
	t.Helper()

	mem := flash.NewMemory(flash.ReferenceGeometry())
	store := exchange.NewMemoryStore()
	sess := session.New(updatearea.New(mem, store))
	t.Cleanup(sess.Shutdown)
	if err := sess.Init(); err != nil {
		t.Fatal(err)
	}

	kr := secure.NewKeyring()
	if err := kr.Add(1, bytes.Repeat([]byte{0x5A}, 16)); err != nil {
		t.Fatal(err)
	}
	codec := secure.NewCodec(kr, testDevice)

	iface := New(sess, codec, WithDrainTimeout(2*time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go iface.Run(ctx)

	blocks := make([][]byte, blockCount)
	for i := range blocks {
		blocks[i] = make([]byte, secure.PayloadSize)
		for j := range blocks[i] {
			blocks[i][j] = byte(i*31 + j)
		}
	}

	return &fixture{iface: iface, session: sess, codec: codec, store: store, blocks: blocks}
}

func (f *fixture) announceCmd(t *testing.T, sessionID uint32, keyID byte) []byte {
	t.Helper()
	cmd, err := protocol.BuildAnnounceCmd(keyID, &protocol.Announce{
		SessionID:  sessionID,
		BlockCount: uint16(len(f.blocks)),
		Hash:       partition.ContentHash(bytes.Join(f.blocks, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return cmd
}

func (f *fixture) blockCmd(t *testing.T, sessionID uint32, blockID uint16, keyID byte) []byte {
	t.Helper()
	frame := make([]byte, secure.FrameSize)
	secure.PutHeader(frame, sessionID, blockID)

	payload := make([]byte, secure.PayloadSize)
	if int(blockID) >= 1 && int(blockID) <= len(f.blocks) {
		payload = f.blocks[blockID-1]
	}
	if err := f.codec.Build(frame, payload, keyID); err != nil {
		t.Fatal(err)
	}
	cmd, err := protocol.BuildBlockCmd(frame)
	if err != nil {
		t.Fatal(err)
	}
	return cmd
}

func status(t *testing.T, resp []byte) byte {
	t.Helper()
	code, _, err := protocol.ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse() error: %v", err)
	}
	return code
}

func TestLocalUpdateOverCommandChannel(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	if code := status(t, f.iface.HandleFrame(ctx, f.announceCmd(t, testSession, 1))); code != protocol.StatusSuccess {
		t.Fatalf("announce = %s", protocol.StatusName(code))
	}
	for _, id := range []uint16{2, 1, 3} {
		if code := status(t, f.iface.HandleFrame(ctx, f.blockCmd(t, testSession, id, 1))); code != protocol.StatusSuccess {
			t.Fatalf("block %d = %s", id, protocol.StatusName(code))
		}
	}
	if code := status(t, f.iface.HandleFrame(ctx, protocol.BuildFinalizeCmd())); code != protocol.StatusSuccess {
		t.Fatalf("finalize = %s", protocol.StatusName(code))
	}

	if !f.session.IsReady() || f.session.Pending() != session.PendingNone {
		t.Errorf("session ready %v, pending %v", f.session.IsReady(), f.session.Pending())
	}
	rec, ok, _ := exchange.Read(f.store)
	if !ok || rec.Request != exchange.RequestLocal {
		t.Errorf("record = %+v, want local request", rec)
	}
}

func TestBlockRejections(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	if code := status(t, f.iface.HandleFrame(ctx, f.blockCmd(t, testSession, 1, 1))); code != protocol.ErrIllegalValue {
		t.Errorf("block without session = %s", protocol.StatusName(code))
	}

	status(t, f.iface.HandleFrame(ctx, f.announceCmd(t, testSession, 1)))

	tests := []struct {
		name string
		cmd  []byte
		want byte
	}{
		{"wrong session", f.blockCmd(t, testSession+1, 1, 1), protocol.ErrSessionID},
		{"block zero", f.blockCmd(t, testSession, 0, 1), protocol.ErrBlockID},
		{"block past count", f.blockCmd(t, testSession, 3, 1), protocol.ErrBlockID},
		{"wrong key", f.blockCmd(t, testSession, 1, 0), protocol.ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := status(t, f.iface.HandleFrame(ctx, tt.cmd)); code != tt.want {
				t.Errorf("response = %s, want %s", protocol.StatusName(code), protocol.StatusName(tt.want))
			}
		})
	}

	if f.iface.Buffer().Missed() != 1 {
		t.Errorf("Missed() = %d, want 1 for the unauthenticated block", f.iface.Buffer().Missed())
	}
}

func TestTamperedBlockNeverStored(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	status(t, f.iface.HandleFrame(ctx, f.announceCmd(t, testSession, 1)))

	cmd := f.blockCmd(t, testSession, 1, 1)
	// Flip a tag bit and fix the frame checksum by rebuilding the command.
	_, data, _ := protocol.ParseCommand(cmd)
	tampered := append([]byte(nil), data...)
	tampered[secure.FrameSize-1] ^= 0x01
	cmd, _ = protocol.BuildBlockCmd(tampered)

	if code := status(t, f.iface.HandleFrame(ctx, cmd)); code != protocol.ErrAuthentication {
		t.Fatalf("tampered block = %s", protocol.StatusName(code))
	}
	if received, _ := f.session.Progress(); received != 0 {
		t.Errorf("tampered block stored: received %d", received)
	}
	if code := status(t, f.iface.HandleFrame(ctx, protocol.BuildFinalizeCmd())); code != protocol.ErrBlockCount {
		t.Errorf("finalize = %s, want block count mismatch", protocol.StatusName(code))
	}
}

func TestFrameErrors(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	bad := protocol.BuildStatusCmd()
	bad[len(bad)-2] ^= 0xFF
	if code := status(t, f.iface.HandleFrame(ctx, bad)); code != protocol.ErrChecksum {
		t.Errorf("bad checksum = %s", protocol.StatusName(code))
	}
	if code := status(t, f.iface.HandleFrame(ctx, []byte{protocol.StartOfPacket})); code != protocol.ErrFrameLength {
		t.Errorf("short frame = %s", protocol.StatusName(code))
	}
	if code := status(t, f.iface.HandleFrame(ctx, protocol.BuildResponse(0x7F, nil))); code != protocol.ErrCommand {
		t.Errorf("unknown command = %s", protocol.StatusName(code))
	}
}

func TestAnnounceRejectedWhileBusy(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	status(t, f.iface.HandleFrame(ctx, f.announceCmd(t, testSession, 1)))
	if code := status(t, f.iface.HandleFrame(ctx, f.announceCmd(t, testSession+1, 1))); code != protocol.ErrBusy {
		t.Errorf("second announce = %s, want busy", protocol.StatusName(code))
	}

	if code := status(t, f.iface.HandleFrame(ctx, protocol.BuildAbortCmd())); code != protocol.StatusSuccess {
		t.Fatalf("abort = %s", protocol.StatusName(code))
	}
	if code := status(t, f.iface.HandleFrame(ctx, f.announceCmd(t, testSession+1, 1))); code != protocol.StatusSuccess {
		t.Errorf("announce after abort = %s", protocol.StatusName(code))
	}
}

// pipe reads commands from in and collects responses in out.
type pipe struct {
	in  io.Reader
	out bytes.Buffer
}

func (p *pipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func TestServe(t *testing.T) {
	f := newFixture(t, 2)

	var in bytes.Buffer
	in.Write(f.announceCmd(t, testSession, 1))
	in.Write(f.blockCmd(t, testSession, 1, 1))
	in.Write(f.blockCmd(t, testSession, 2, 1))
	in.Write(protocol.BuildFinalizeCmd())
	in.Write(protocol.BuildStatusCmd())

	rw := &pipe{in: &in}
	if err := f.iface.Serve(context.Background(), rw); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}

	var last []byte
	for n := 0; n < 5; n++ {
		resp, err := protocol.ReadFrame(&rw.out)
		if err != nil {
			t.Fatalf("response %d: %v", n, err)
		}
		code, data, err := protocol.ParseResponse(resp)
		if err != nil || code != protocol.StatusSuccess {
			t.Fatalf("response %d = %s, %v", n, protocol.StatusName(code), err)
		}
		last = data
	}

	report, err := protocol.ParseStatusResponse(last)
	if err != nil {
		t.Fatal(err)
	}
	if report.Pending != byte(session.PendingNone) || report.Status != byte(updatearea.StatusReady) || report.Received != 2 {
		t.Errorf("status report = %+v", report)
	}
}

// gatedSession holds the first Store until gate is closed and remembers
// which announce each stored block belonged to.
type gatedSession struct {
	gate    chan struct{}
	entered chan uint16

	mu      sync.Mutex
	pending session.Pending
	gen     int
	stored  map[int]int
}

func newGatedSession() *gatedSession {
	return &gatedSession{
		gate:    make(chan struct{}),
		entered: make(chan uint16, 4),
		stored:  make(map[int]int),
	}
}

func (s *gatedSession) Open(ctx context.Context, info session.AnnounceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = session.PendingLocal
	s.gen++
	return nil
}

func (s *gatedSession) Store(blockID uint16, data []byte) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	s.entered <- blockID
	<-s.gate
	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored[gen]++
	return nil
}

func (s *gatedSession) Finalize(ctx context.Context) (updatearea.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored[s.gen] == 0 {
		return updatearea.StatusIncomplete, errors.New("no block stored for this announce")
	}
	s.pending = session.PendingNone
	return updatearea.StatusReady, nil
}

func (s *gatedSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = session.PendingNone
	return nil
}

func (s *gatedSession) Pending() session.Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *gatedSession) Status() updatearea.Status { return updatearea.StatusUnknown }

func (s *gatedSession) Progress() (int, int) { return 0, 0 }

func TestFinalizeWaitsAfterAbortDuringStore(t *testing.T) {
	sess := newGatedSession()
	codec := secure.NewCodec(secure.NewKeyring(), testDevice)
	iface := New(sess, codec, WithDrainTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go iface.Run(ctx)

	announce := func(id uint32) {
		t.Helper()
		cmd, err := protocol.BuildAnnounceCmd(0, &protocol.Announce{SessionID: id, BlockCount: 1})
		if err != nil {
			t.Fatal(err)
		}
		if code := status(t, iface.HandleFrame(ctx, cmd)); code != protocol.StatusSuccess {
			t.Fatalf("announce 0x%08X = %s", id, protocol.StatusName(code))
		}
	}
	block := func(id uint32) {
		t.Helper()
		frame := make([]byte, secure.FrameSize)
		secure.PutHeader(frame, id, 1)
		if err := codec.Build(frame, make([]byte, secure.PayloadSize), 0); err != nil {
			t.Fatal(err)
		}
		cmd, err := protocol.BuildBlockCmd(frame)
		if err != nil {
			t.Fatal(err)
		}
		if code := status(t, iface.HandleFrame(ctx, cmd)); code != protocol.StatusSuccess {
			t.Fatalf("block of 0x%08X = %s", id, protocol.StatusName(code))
		}
	}

	announce(1)
	block(1)
	select {
	case <-sess.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never picked up the block")
	}

	// Abort while the consumer is still storing the first block.
	if code := status(t, iface.HandleFrame(ctx, protocol.BuildAbortCmd())); code != protocol.StatusSuccess {
		t.Fatalf("abort = %s", protocol.StatusName(code))
	}

	announce(2)
	block(2)
	close(sess.gate)

	if code := status(t, iface.HandleFrame(ctx, protocol.BuildFinalizeCmd())); code != protocol.StatusSuccess {
		t.Errorf("finalize = %s, want success once the new block is stored", protocol.StatusName(code))
	}
}
