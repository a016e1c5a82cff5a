package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/moffa90/go-lpfota/secure"
)

// buildFrame wraps data into a frame with the given command or status code.
func buildFrame(code byte, data []byte) []byte {
	frame := make([]byte, 0, MinFrameSize+len(data))

	// Start of packet
	frame = append(frame, StartOfPacket)

	// Command or status
	frame = append(frame, code)

	// Data length (little-endian)
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(data)))
	frame = append(frame, lenBytes...)

	frame = append(frame, data...)

	// Checksum covers everything between SOP and the checksum itself
	checksum := calculatePacketChecksum(frame[1:])
	checksumBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(checksumBytes, checksum)
	frame = append(frame, checksumBytes...)

	// End of packet
	frame = append(frame, EndOfPacket)

	return frame
}

// BuildAnnounceCmd constructs an Announce command frame. keyID selects the
// key protecting the blocks of this session.
//
// Frame structure:
//
//	[SOP][CMD][LEN_L][LEN_H][KEY_ID][ANNOUNCE(24)][CHECKSUM_L][CHECKSUM_H][EOP]
func BuildAnnounceCmd(keyID byte, a *Announce) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("announce cannot be nil")
	}
	if a.BlockCount == 0 {
		return nil, fmt.Errorf("announce must carry at least one block")
	}

	data := make([]byte, 0, AnnounceCmdSize)
	data = append(data, keyID)
	data = append(data, EncodeAnnounce(a)...)
	return buildFrame(CmdAnnounce, data), nil
}

// BuildBlockCmd constructs a Block command frame around one secure block
// frame.
//
// Frame structure:
//
//	[SOP][CMD][LEN_L][LEN_H][BLOCK_FRAME(220)][CHECKSUM_L][CHECKSUM_H][EOP]
func BuildBlockCmd(blockFrame []byte) ([]byte, error) {
	if len(blockFrame) != secure.FrameSize {
		return nil, fmt.Errorf("block frame must be exactly %d bytes, got %d", secure.FrameSize, len(blockFrame))
	}
	return buildFrame(CmdBlock, blockFrame), nil
}

// BuildFinalizeCmd constructs a Finalize command frame.
//
// Frame structure:
//
//	[SOP][CMD][0x00][0x00][CHECKSUM_L][CHECKSUM_H][EOP]
func BuildFinalizeCmd() []byte {
	return buildFrame(CmdFinalize, nil)
}

// BuildAbortCmd constructs an Abort command frame.
func BuildAbortCmd() []byte {
	return buildFrame(CmdAbort, nil)
}

// BuildStatusCmd constructs a Status command frame.
func BuildStatusCmd() []byte {
	return buildFrame(CmdStatus, nil)
}

// ParseCommand extracts the command code and data from a command frame.
// Validates frame structure, length, and checksum.
func ParseCommand(frame []byte) (cmd byte, data []byte, err error) {
	return parseFrame(frame)
}

// ParseAnnounceCmd splits announce command data into key id and announce.
func ParseAnnounceCmd(data []byte) (byte, *Announce, error) {
	if len(data) != AnnounceCmdSize {
		return 0, nil, fmt.Errorf("invalid data length for Announce command: got %d bytes, expected %d", len(data), AnnounceCmdSize)
	}
	a, err := DecodeAnnounce(data[1:])
	if err != nil {
		return 0, nil, err
	}
	return data[0], a, nil
}
