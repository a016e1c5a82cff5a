package secure

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// CounterSize is the size of the per-block counter value
	CounterSize = 16

	// SessionSize is the size of the session id field
	SessionSize = 4

	// BlockIDSize is the size of the block id field
	BlockIDSize = 2

	// PayloadSize is the size of one block payload
	PayloadSize = 210

	// TagSize is the size of the truncated authentication tag
	TagSize = 4

	// FrameSize is the size of a complete block frame
	FrameSize = SessionSize + BlockIDSize + PayloadSize + TagSize

	payloadOffset = SessionSize + BlockIDSize
	tagOffset     = payloadOffset + PayloadSize
)

var (
	// ErrAuthentication is returned when a frame tag does not match
	ErrAuthentication = errors.New("block authentication failed")

	// ErrFrameLength is returned for frames or payloads of the wrong size
	ErrFrameLength = errors.New("invalid block frame length")

	// ErrUnknownKey is returned when no key is provisioned for a key id
	ErrUnknownKey = errors.New("unknown key id")
)

// Counter derives the counter value of a block: the device identifier,
// zero padded, with the last two bytes replaced by the block id.
func Counter(deviceID []byte, blockID uint16) [CounterSize]byte {
	var ctr [CounterSize]byte
	copy(ctr[:CounterSize-BlockIDSize], deviceID)
	binary.BigEndian.PutUint16(ctr[CounterSize-BlockIDSize:], blockID)
	return ctr
}

// Cipher provides the primitives used by the Codec. Keys are selected by id;
// implementations may keep them in a secure element.
type Cipher interface {
	// Encrypt writes the counter-mode encryption of src into dst
	Encrypt(dst, src []byte, counter [CounterSize]byte, keyID uint8) error

	// Decrypt writes the counter-mode decryption of src into dst
	Decrypt(dst, src []byte, counter [CounterSize]byte, keyID uint8) error

	// KeyedHash writes the keyed hash of counter and src into dst, truncated
	// to len(dst)
	KeyedHash(dst, src []byte, counter [CounterSize]byte, keyID uint8) error
}

// Codec builds and extracts block frames.
type Codec struct {
	cipher   Cipher
	deviceID []byte
}

// NewCodec creates a Codec for the device identified by deviceID.
func NewCodec(c Cipher, deviceID []byte) *Codec {
	if c == nil {
		panic("cipher cannot be nil")
	}
	id := make([]byte, len(deviceID))
	copy(id, deviceID)
	return &Codec{cipher: c, deviceID: id}
}

// Build fills the payload and tag of frame. The session id and block id
// fields must already be set; the block id selects the counter.
func (c *Codec) Build(frame, payload []byte, keyID uint8) error {
	if len(frame) != FrameSize || len(payload) != PayloadSize {
		return fmt.Errorf("%w: frame %d, payload %d", ErrFrameLength, len(frame), len(payload))
	}

	ct := frame[payloadOffset:tagOffset]
	tag := frame[tagOffset:]

	if keyID == 0 {
		copy(ct, payload)
		for i := range tag {
			tag[i] = 0
		}
		return nil
	}

	ctr := Counter(c.deviceID, frameBlockID(frame))
	if err := c.cipher.Encrypt(ct, payload, ctr, keyID); err != nil {
		return fmt.Errorf("encrypt block: %w", err)
	}
	if err := c.cipher.KeyedHash(tag, ct, ctr, keyID); err != nil {
		return fmt.Errorf("authenticate block: %w", err)
	}
	return nil
}

// Extract verifies frame and decrypts its payload into payload. On any
// failure payload is left untouched.
func (c *Codec) Extract(payload, frame []byte, keyID uint8) error {
	if len(frame) != FrameSize || len(payload) != PayloadSize {
		return fmt.Errorf("%w: frame %d, payload %d", ErrFrameLength, len(frame), len(payload))
	}

	ct := frame[payloadOffset:tagOffset]
	tag := frame[tagOffset:]

	if keyID == 0 {
		copy(payload, ct)
		return nil
	}

	ctr := Counter(c.deviceID, frameBlockID(frame))
	var want [TagSize]byte
	if err := c.cipher.KeyedHash(want[:], ct, ctr, keyID); err != nil {
		return fmt.Errorf("authenticate block: %w", err)
	}
	if subtle.ConstantTimeCompare(want[:], tag) != 1 {
		return ErrAuthentication
	}

	var clear [PayloadSize]byte
	if err := c.cipher.Decrypt(clear[:], ct, ctr, keyID); err != nil {
		return fmt.Errorf("decrypt block: %w", err)
	}
	copy(payload, clear[:])
	return nil
}

// SessionID returns the session id field of a frame.
func SessionID(frame []byte) uint32 {
	return binary.BigEndian.Uint32(frame[:SessionSize])
}

// BlockID returns the block id field of a frame.
func BlockID(frame []byte) uint16 {
	return frameBlockID(frame)
}

// PutHeader sets the session id and block id fields of a frame.
func PutHeader(frame []byte, sessionID uint32, blockID uint16) {
	binary.BigEndian.PutUint32(frame[:SessionSize], sessionID)
	binary.BigEndian.PutUint16(frame[SessionSize:payloadOffset], blockID)
}

func frameBlockID(frame []byte) uint16 {
	return binary.BigEndian.Uint16(frame[SessionSize:payloadOffset])
}
