// Package protocol implements the local update command channel.
//
// A host drives a local firmware update over a wired link (UART or USB CDC)
// with five commands: announce, block, finalize, abort and status. Commands
// and responses share one framing:
//
//	Command:  [SOP][CMD][LEN_L][LEN_H][DATA...][CHECKSUM_L][CHECKSUM_H][EOP]
//	Response: [SOP][STATUS][LEN_L][LEN_H][DATA...][CHECKSUM_L][CHECKSUM_H][EOP]
//
// Where:
//   - SOP = Start of Packet (0x01)
//   - EOP = End of Packet (0x17)
//   - LEN = 16-bit data length (little-endian)
//   - CHECKSUM = 16-bit checksum (little-endian, 2's complement)
//
// The announce and block payloads are radio wire formats and therefore
// big-endian; see Announce and the secure package.
//
// # Command Builders
//
//	frame, err := protocol.BuildAnnounceCmd(keyID, &announce)
//	frame, err := protocol.BuildBlockCmd(blockFrame)
//	frame := protocol.BuildFinalizeCmd()
//
// # Response Parsers
//
//	statusCode, data, err := protocol.ParseResponse(frame)
//	if statusCode != protocol.StatusSuccess {
//	    return &protocol.ProtocolError{Operation: "announce", StatusCode: statusCode}
//	}
//	report, err := protocol.ParseStatusResponse(data)
//
// The device side uses ParseCommand and BuildResponse, and ReadFrame to cut
// frames out of a byte stream.
package protocol
