// Package partition describes the three firmware partitions of the module and
// the image header stored at the start of each of them.
package partition

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the offset of the payload inside a partition. The header
	// itself only uses the first EncodedHeaderSize bytes.
	HeaderSize = 512

	// EncodedHeaderSize is the size of an encoded header:
	//
	//	[MAGIC(4)][SIZE(4)][HASH(4)][EPOCH(4)][RESERVED(8)]
	EncodedHeaderSize = 24

	// MagicA and MagicB alternate between successive image generations.
	MagicA = 0x4C504641 // "LPFA"
	MagicB = 0x4C504642 // "LPFB"
)

// Header is the decoded partition image header.
type Header struct {
	// Magic is MagicA or MagicB for a valid image
	Magic uint32

	// Size is header plus payload, rounded up to the program unit
	Size uint32

	// Hash is the content hash of the payload
	Hash uint32

	// Epoch is the creation time in seconds since the Unix epoch
	Epoch uint32

	// Reserved words are carried through unchanged
	Reserved [2]uint32
}

// IsMagic reports whether m is one of the recognized magics.
func IsMagic(m uint32) bool {
	return m == MagicA || m == MagicB
}

// NextMagic returns the magic following m. Anything that is not a recognized
// magic is followed by MagicA.
func NextMagic(m uint32) uint32 {
	if m == MagicA {
		return MagicB
	}
	return MagicA
}

// Valid reports whether the header marks a usable image.
func (h *Header) Valid() bool {
	return h != nil && IsMagic(h.Magic)
}

// SameImage reports whether h and o describe the same image, that is one
// partition is a copy of the other. The magic is left out of the comparison
// so a copy is still recognized when one side's magic was damaged.
func (h *Header) SameImage(o *Header) bool {
	if h == nil || o == nil {
		return false
	}
	return h.Size == o.Size && h.Hash == o.Hash && h.Epoch == o.Epoch
}

// PayloadSize returns the number of payload bytes described by the header.
func (h *Header) PayloadSize() uint32 {
	if h.Size < HeaderSize {
		return 0
	}
	return h.Size - HeaderSize
}

func (h *Header) String() string {
	return fmt.Sprintf("magic=0x%08X size=%d hash=0x%08X epoch=%d", h.Magic, h.Size, h.Hash, h.Epoch)
}

// EncodeHeader serializes h (little-endian).
func EncodeHeader(h *Header) []byte {
	buf := make([]byte, EncodedHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Size)
	binary.LittleEndian.PutUint32(buf[8:12], h.Hash)
	binary.LittleEndian.PutUint32(buf[12:16], h.Epoch)
	binary.LittleEndian.PutUint32(buf[16:20], h.Reserved[0])
	binary.LittleEndian.PutUint32(buf[20:24], h.Reserved[1])
	return buf
}

// DecodeHeader parses buf. Any bit pattern decodes; use Valid to decide
// whether it describes an image.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < EncodedHeaderSize {
		return nil, fmt.Errorf("header too short: got %d bytes, need %d", len(buf), EncodedHeaderSize)
	}

	return &Header{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		Size:     binary.LittleEndian.Uint32(buf[4:8]),
		Hash:     binary.LittleEndian.Uint32(buf[8:12]),
		Epoch:    binary.LittleEndian.Uint32(buf[12:16]),
		Reserved: [2]uint32{binary.LittleEndian.Uint32(buf[16:20]), binary.LittleEndian.Uint32(buf[20:24])},
	}, nil
}
