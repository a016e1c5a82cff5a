package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/moffa90/go-lpfota/firmware"
	"github.com/moffa90/go-lpfota/protocol"
	"github.com/moffa90/go-lpfota/secure"
)

var testDevice = []byte{0x70, 0xB3, 0xD5, 0x7E, 0xD0, 0x00, 0x00, 0x42}

// MockDevice replays queued responses and records every command written.
type MockDevice struct {
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	writeErr error
}

func NewMockDevice() *MockDevice {
	return &MockDevice{
		readBuf:  new(bytes.Buffer),
		writeBuf: new(bytes.Buffer),
	}
}

func (m *MockDevice) Read(p []byte) (int, error) {
	return m.readBuf.Read(p)
}

func (m *MockDevice) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.writeBuf.Write(p)
}

func (m *MockDevice) AddResponse(statusCode byte, data []byte) {
	m.readBuf.Write(protocol.BuildResponse(statusCode, data))
}

func (m *MockDevice) AddSuccess(n int) {
	for i := 0; i < n; i++ {
		m.AddResponse(protocol.StatusSuccess, nil)
	}
}

// Commands returns the command codes written so far, and the data of each.
func (m *MockDevice) Commands(t *testing.T) ([]byte, [][]byte) {
	t.Helper()
	r := bytes.NewReader(m.writeBuf.Bytes())
	var codes []byte
	var data [][]byte
	for {
		frame, err := protocol.ReadFrame(r)
		if err == io.EOF {
			return codes, data
		}
		if err != nil {
			t.Fatalf("ReadFrame() error: %v", err)
		}
		code, d, err := protocol.ParseCommand(frame)
		if err != nil {
			t.Fatalf("ParseCommand() error: %v", err)
		}
		codes = append(codes, code)
		data = append(data, d)
	}
}

// Mock logger for testing
type MockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...interface{}) {
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...interface{}) {
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...interface{}) {
	l.errorMsgs = append(l.errorMsgs, msg)
}

func testCodec(t *testing.T) *secure.Codec {
	t.Helper()
	kr := secure.NewKeyring()
	if err := kr.Add(1, bytes.Repeat([]byte{0x3C}, 16)); err != nil {
		t.Fatal(err)
	}
	return secure.NewCodec(kr, testDevice)
}

func testImage(size int) *firmware.Image {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return &firmware.Image{Data: data}
}

var testTarget = Target{SessionID: 0xCAFE0001, SWInitial: 0x0102, SWTarget: 0x0103, KeyID: 1}

func TestNew(t *testing.T) {
	device := NewMockDevice()
	codec := testCodec(t)

	up := New(device, codec,
		WithProgressCallback(func(p Progress) {}),
		WithLogger(&MockLogger{}),
		WithRetries(5),
		WithRetryDelay(0),
		WithStatusAfterUpload(false),
	)
	if up.config.Retries != 5 || up.config.StatusAfterUpload {
		t.Errorf("options not applied: %+v", up.config)
	}

	// Negative values keep the defaults.
	up = New(device, codec, WithRetries(-1))
	if up.config.Retries != 3 {
		t.Errorf("Retries = %d, want default 3", up.config.Retries)
	}

	for _, tc := range []struct {
		name   string
		device io.ReadWriter
		codec  *secure.Codec
	}{
		{"nil device", nil, codec},
		{"nil codec", device, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("New() did not panic")
				}
			}()
			New(tc.device, tc.codec)
		})
	}
}

func TestUpload(t *testing.T) {
	device := NewMockDevice()
	codec := testCodec(t)
	img := testImage(2*firmware.BlockSize + 10)

	device.AddSuccess(1 + 3 + 1) // announce, blocks, finalize
	device.AddResponse(protocol.StatusSuccess, protocol.EncodeStatusReport(&protocol.StatusReport{Status: 7, Received: 3}))

	up := New(device, codec)
	if err := up.Upload(context.Background(), img, testTarget); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	codes, data := device.Commands(t)
	want := []byte{protocol.CmdAnnounce, protocol.CmdBlock, protocol.CmdBlock, protocol.CmdBlock, protocol.CmdFinalize, protocol.CmdStatus}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Fatalf("command sequence mismatch (-want +got):\n%s", diff)
	}

	keyID, ann, err := protocol.ParseAnnounceCmd(data[0])
	if err != nil {
		t.Fatal(err)
	}
	wantAnn := &protocol.Announce{
		SessionID:  testTarget.SessionID,
		SWInitial:  testTarget.SWInitial,
		SWTarget:   testTarget.SWTarget,
		BlockCount: 3,
		Hash:       img.Hash(firmware.BlockSize),
	}
	if keyID != 1 {
		t.Errorf("announce key id = %d, want 1", keyID)
	}
	if diff := cmp.Diff(wantAnn, ann); diff != "" {
		t.Errorf("announce mismatch (-want +got):\n%s", diff)
	}

	blocks := img.Blocks(firmware.BlockSize)
	for i, frame := range data[1:4] {
		if secure.SessionID(frame) != testTarget.SessionID || secure.BlockID(frame) != uint16(i+1) {
			t.Errorf("block %d header: session %08X id %d", i+1, secure.SessionID(frame), secure.BlockID(frame))
		}
		payload := make([]byte, secure.PayloadSize)
		if err := codec.Extract(payload, frame, 1); err != nil {
			t.Fatalf("block %d Extract() error: %v", i+1, err)
		}
		if !bytes.Equal(payload, blocks[i]) {
			t.Errorf("block %d payload mismatch", i+1)
		}
	}
}

func TestBusyBlockRetried(t *testing.T) {
	device := NewMockDevice()
	device.AddSuccess(1)
	device.AddResponse(protocol.ErrBusy, nil)
	device.AddResponse(protocol.ErrBusy, nil)
	device.AddSuccess(2) // block, finalize

	logger := &MockLogger{}
	up := New(device, testCodec(t), WithRetryDelay(0), WithStatusAfterUpload(false), WithLogger(logger))
	if err := up.Upload(context.Background(), testImage(10), testTarget); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	codes, _ := device.Commands(t)
	want := []byte{protocol.CmdAnnounce, protocol.CmdBlock, protocol.CmdBlock, protocol.CmdBlock, protocol.CmdFinalize}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
	if len(logger.infoMsgs) == 0 || logger.infoMsgs[len(logger.infoMsgs)-1] != "upload complete" {
		t.Errorf("info messages = %v", logger.infoMsgs)
	}
}

func TestBusyRetriesExhausted(t *testing.T) {
	device := NewMockDevice()
	device.AddSuccess(1)
	for i := 0; i < 3; i++ {
		device.AddResponse(protocol.ErrBusy, nil)
	}
	device.AddSuccess(1) // abort

	up := New(device, testCodec(t), WithRetries(2), WithRetryDelay(0))
	err := up.Upload(context.Background(), testImage(10), testTarget)

	var rbe *RejectedBlockError
	if !errors.As(err, &rbe) {
		t.Fatalf("Upload() error = %v, want RejectedBlockError", err)
	}
	if rbe.BlockID != 1 || rbe.StatusCode != protocol.ErrBusy || rbe.Attempts != 3 {
		t.Errorf("RejectedBlockError = %+v", rbe)
	}
}

func TestRejectedBlockAborts(t *testing.T) {
	device := NewMockDevice()
	device.AddSuccess(1)
	device.AddResponse(protocol.ErrAuthentication, nil)
	device.AddSuccess(1) // abort

	logger := &MockLogger{}
	up := New(device, testCodec(t), WithLogger(logger))
	err := up.Upload(context.Background(), testImage(10), testTarget)
	if err == nil || !strings.Contains(err.Error(), "authentication") {
		t.Fatalf("Upload() error = %v, want authentication failure", err)
	}

	codes, _ := device.Commands(t)
	if codes[len(codes)-1] != protocol.CmdAbort {
		t.Errorf("last command = 0x%02X, want abort", codes[len(codes)-1])
	}
	if len(logger.errorMsgs) != 0 {
		t.Errorf("unexpected errors logged: %v", logger.errorMsgs)
	}
}

func TestFinalizeResendsMissingBlocks(t *testing.T) {
	device := NewMockDevice()
	device.AddSuccess(1 + 2)
	device.AddResponse(protocol.ErrBlockCount, nil)
	device.AddSuccess(2 + 1)

	var resends []int
	up := New(device, testCodec(t), WithStatusAfterUpload(false), WithProgressCallback(func(p Progress) {
		if p.Phase == PhaseFinalizing {
			resends = append(resends, p.Resends)
		}
	}))
	if err := up.Upload(context.Background(), testImage(firmware.BlockSize+1), testTarget); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}

	codes, _ := device.Commands(t)
	want := []byte{
		protocol.CmdAnnounce,
		protocol.CmdBlock, protocol.CmdBlock, protocol.CmdFinalize,
		protocol.CmdBlock, protocol.CmdBlock, protocol.CmdFinalize,
	}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1}, resends); diff != "" {
		t.Errorf("resend counts mismatch (-want +got):\n%s", diff)
	}
}

func TestFinalizeCorrupted(t *testing.T) {
	device := NewMockDevice()
	device.AddSuccess(2)
	device.AddResponse(protocol.ErrCorrupted, nil)
	device.AddSuccess(1) // abort

	up := New(device, testCodec(t))
	err := up.Upload(context.Background(), testImage(10), testTarget)

	var pe *protocol.ProtocolError
	if !errors.As(err, &pe) || pe.StatusCode != protocol.ErrCorrupted || pe.Operation != "finalize" {
		t.Errorf("Upload() error = %v, want corrupted finalize", err)
	}
}

func TestAnnounceRejected(t *testing.T) {
	device := NewMockDevice()
	device.AddResponse(protocol.ErrVersionInitial, nil)

	up := New(device, testCodec(t))
	err := up.Upload(context.Background(), testImage(10), testTarget)
	if !protocol.IsProtocolError(err) {
		t.Fatalf("Upload() error = %v, want ProtocolError", err)
	}

	codes, _ := device.Commands(t)
	if diff := cmp.Diff([]byte{protocol.CmdAnnounce}, codes); diff != "" {
		t.Errorf("a refused announce must not be aborted (-want +got):\n%s", diff)
	}
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name   string
		img    *firmware.Image
		errMsg string
	}{
		{"nil image", nil, "image cannot be nil"},
		{"empty image", &firmware.Image{}, "image is empty"},
		{"too many blocks", testImage(70000 * firmware.BlockSize), "image too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := New(NewMockDevice(), testCodec(t))
			err := up.Upload(context.Background(), tt.img, testTarget)
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Upload() error = %v, want substring %q", err, tt.errMsg)
			}
		})
	}
}

func TestTransportErrors(t *testing.T) {
	t.Run("write error", func(t *testing.T) {
		device := NewMockDevice()
		device.writeErr = errors.New("port closed")
		err := New(device, testCodec(t)).Abort(context.Background())
		if err == nil || !strings.Contains(err.Error(), "write command") {
			t.Errorf("Abort() error = %v", err)
		}
	})

	t.Run("no response", func(t *testing.T) {
		err := New(NewMockDevice(), testCodec(t)).Abort(context.Background())
		if err == nil || !strings.Contains(err.Error(), "read response") {
			t.Errorf("Abort() error = %v", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := New(NewMockDevice(), testCodec(t)).Abort(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Abort() error = %v, want context.Canceled", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		err := New(NewMockDevice(), testCodec(t)).SendBlock(context.Background(), 1, 1, make([]byte, secure.PayloadSize), 9)
		if !errors.Is(err, secure.ErrUnknownKey) {
			t.Errorf("SendBlock() error = %v, want ErrUnknownKey", err)
		}
	})
}

func TestResponseNoiseSkipped(t *testing.T) {
	device := NewMockDevice()
	// A report id byte and a stray byte ahead of the frame.
	device.readBuf.Write([]byte{0x00, 0x42})
	device.AddResponse(protocol.StatusSuccess, protocol.EncodeStatusReport(&protocol.StatusReport{Pending: 3, Received: 9, Missed: 1}))

	report, err := New(device, testCodec(t)).Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	want := &protocol.StatusReport{Pending: 3, Received: 9, Missed: 1}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("Status() mismatch (-want +got):\n%s", diff)
	}
}

func TestProgressPhases(t *testing.T) {
	device := NewMockDevice()
	device.AddSuccess(1 + 2 + 1)

	var phases []string
	var last Progress
	up := New(device, testCodec(t), WithStatusAfterUpload(false), WithProgressCallback(func(p Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
		last = p
	}))
	if err := up.Upload(context.Background(), testImage(firmware.BlockSize+5), testTarget); err != nil {
		t.Fatal(err)
	}

	want := []string{PhaseAnnouncing, PhaseSending, PhaseFinalizing, PhaseComplete}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}
	if last.Percentage != 100 || last.CurrentBlock != 2 || last.BytesSent != firmware.BlockSize+5 {
		t.Errorf("final progress = %+v", last)
	}
}
