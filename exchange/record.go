// Package exchange implements the record shared by the bootstrap program and
// the application across resets.
//
// # Layout
//
// The record is 68 bytes, little-endian:
//
//	[MAGIC(4)][REQUEST(4)][SRC_ADDR(4)][SRC_SIZE(4)][DEST_ADDR(4)][DEST_SIZE(4)]
//	[HEADER_SIZE(4)][RESERVED(36)][CRC32(4)]
//
// The CRC-32 (IEEE) covers the first 64 bytes. Encode and Decode are the only
// way in or out of that layout: a record whose CRC does not match decodes to
// nothing, and every encoded record carries a freshly computed CRC.
package exchange

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// RecordSize is the encoded size of a record in bytes.
	RecordSize = 68

	// ReservedWords is the number of reserved 32-bit words. They fill the
	// record up to the CRC.
	ReservedWords = 9

	// reservedOffset is the offset of the first reserved word.
	reservedOffset = 28

	// crcOffset is the offset of the trailing CRC.
	crcOffset = RecordSize - 4
)

// BootRequest is the intent the application leaves for the bootstrap.
type BootRequest uint32

const (
	// RequestNone asks the bootstrap to run the active image.
	RequestNone BootRequest = 0

	// RequestSwap asks the bootstrap to copy an inactive image into the
	// active partition before running it.
	RequestSwap BootRequest = 1

	// RequestLocal asks the bootstrap to take the local update path.
	RequestLocal BootRequest = 2
)

func (r BootRequest) String() string {
	switch r {
	case RequestNone:
		return "none"
	case RequestSwap:
		return "swap"
	case RequestLocal:
		return "local"
	default:
		return fmt.Sprintf("request(0x%08X)", uint32(r))
	}
}

// Record is the decoded exchange record.
type Record struct {
	// Magic is the header magic the next written image must carry
	Magic uint32

	// Request is the pending boot request
	Request BootRequest

	// SrcAddr and SrcSize locate the source partition
	SrcAddr uint32
	SrcSize uint32

	// DestAddr and DestSize locate the destination partition
	DestAddr uint32
	DestSize uint32

	// HeaderSize is the offset of the payload inside a partition
	HeaderSize uint32

	// Reserved words are carried through unchanged
	Reserved [ReservedWords]uint32
}

// Encode serializes r and appends its CRC.
func Encode(r *Record) []byte {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Request))
	binary.LittleEndian.PutUint32(buf[8:12], r.SrcAddr)
	binary.LittleEndian.PutUint32(buf[12:16], r.SrcSize)
	binary.LittleEndian.PutUint32(buf[16:20], r.DestAddr)
	binary.LittleEndian.PutUint32(buf[20:24], r.DestSize)
	binary.LittleEndian.PutUint32(buf[24:28], r.HeaderSize)
	for i, w := range r.Reserved {
		binary.LittleEndian.PutUint32(buf[reservedOffset+4*i:], w)
	}
	binary.LittleEndian.PutUint32(buf[crcOffset:], crc32.ChecksumIEEE(buf[:crcOffset]))
	return buf
}

// Decode parses buf. It reports false when buf has the wrong length or its
// CRC does not match, in which case no field may be trusted.
func Decode(buf []byte) (*Record, bool) {
	if len(buf) != RecordSize {
		return nil, false
	}
	if binary.LittleEndian.Uint32(buf[crcOffset:]) != crc32.ChecksumIEEE(buf[:crcOffset]) {
		return nil, false
	}

	r := &Record{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Request:    BootRequest(binary.LittleEndian.Uint32(buf[4:8])),
		SrcAddr:    binary.LittleEndian.Uint32(buf[8:12]),
		SrcSize:    binary.LittleEndian.Uint32(buf[12:16]),
		DestAddr:   binary.LittleEndian.Uint32(buf[16:20]),
		DestSize:   binary.LittleEndian.Uint32(buf[20:24]),
		HeaderSize: binary.LittleEndian.Uint32(buf[24:28]),
	}
	for i := range r.Reserved {
		r.Reserved[i] = binary.LittleEndian.Uint32(buf[reservedOffset+4*i:])
	}
	return r, true
}
