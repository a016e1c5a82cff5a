package protocol

import (
	"encoding/binary"
	"fmt"
)

// parseFrame validates a frame and returns its code and data.
func parseFrame(frame []byte) (code byte, data []byte, err error) {
	if len(frame) < MinFrameSize {
		return 0, nil, fmt.Errorf("frame too short: got %d bytes, minimum is %d", len(frame), MinFrameSize)
	}

	if frame[0] != StartOfPacket {
		return 0, nil, fmt.Errorf("invalid start of packet: got 0x%02X, expected 0x%02X", frame[0], StartOfPacket)
	}

	if frame[len(frame)-1] != EndOfPacket {
		return 0, nil, fmt.Errorf("invalid end of packet: got 0x%02X, expected 0x%02X", frame[len(frame)-1], EndOfPacket)
	}

	code = frame[1]
	dataLen := binary.LittleEndian.Uint16(frame[2:4])

	expectedLen := MinFrameSize + int(dataLen)
	if len(frame) != expectedLen {
		return 0, nil, fmt.Errorf("frame length mismatch: got %d bytes, expected %d (MinFrameSize=%d + dataLen=%d)",
			len(frame), expectedLen, MinFrameSize, dataLen)
	}

	// Verify checksum
	checksumExpected := binary.LittleEndian.Uint16(frame[len(frame)-3 : len(frame)-1])
	checksumActual := calculatePacketChecksum(frame[1 : len(frame)-3])

	if checksumExpected != checksumActual {
		return 0, nil, &ChecksumError{Expected: checksumExpected, Actual: checksumActual}
	}

	// Extract data if present
	if dataLen > 0 {
		data = frame[4 : 4+dataLen]
	}

	return code, data, nil
}

// ChecksumError indicates a frame whose checksum does not match its content.
type ChecksumError struct {
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: got 0x%04X, expected 0x%04X", e.Actual, e.Expected)
}

// ParseResponse extracts status code and data from a response frame.
// Validates frame structure, length, and checksum.
//
// Response frame structure:
//
//	[SOP][STATUS][LEN_L][LEN_H][DATA...][CHECKSUM_L][CHECKSUM_H][EOP]
func ParseResponse(frame []byte) (statusCode byte, data []byte, err error) {
	return parseFrame(frame)
}

// BuildResponse constructs a response frame.
func BuildResponse(statusCode byte, data []byte) []byte {
	return buildFrame(statusCode, data)
}

// ParseStatusResponse parses the Status command response.
//
// Data format (6 bytes):
//
//	[PENDING][STATUS][RECEIVED_L][RECEIVED_H][MISSED_L][MISSED_H]
func ParseStatusResponse(data []byte) (*StatusReport, error) {
	if len(data) != StatusResponseSize {
		return nil, fmt.Errorf("invalid data length for Status response: got %d bytes, expected %d", len(data), StatusResponseSize)
	}

	return &StatusReport{
		Pending:  data[0],
		Status:   data[1],
		Received: binary.LittleEndian.Uint16(data[2:4]),
		Missed:   binary.LittleEndian.Uint16(data[4:6]),
	}, nil
}

// EncodeStatusReport returns the data of a Status response.
func EncodeStatusReport(r *StatusReport) []byte {
	data := make([]byte, StatusResponseSize)
	data[0] = r.Pending
	data[1] = r.Status
	binary.LittleEndian.PutUint16(data[2:4], r.Received)
	binary.LittleEndian.PutUint16(data[4:6], r.Missed)
	return data
}
