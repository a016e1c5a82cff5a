package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadFrame reads one frame from r. Bytes before a start of packet marker
// are skipped. The returned frame is validated by ParseCommand or
// ParseResponse, not here.
func ReadFrame(r io.Reader) ([]byte, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] == StartOfPacket {
			break
		}
	}

	head := make([]byte, 4)
	head[0] = StartOfPacket
	if _, err := io.ReadFull(r, head[1:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	dataLen := int(binary.LittleEndian.Uint16(head[2:4]))
	if dataLen > MaxDataSize {
		return nil, fmt.Errorf("frame data length %d exceeds maximum %d bytes", dataLen, MaxDataSize)
	}

	frame := make([]byte, MinFrameSize+dataLen)
	copy(frame, head)
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return frame, nil
}
