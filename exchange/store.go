package exchange

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Store is the memory region holding the encoded record. It must keep its
// content across an application reset.
type Store interface {
	// Load returns the raw region content
	Load() ([]byte, error)

	// Save replaces the region content
	Save(buf []byte) error
}

// MemoryStore keeps the record in process memory. A fresh store holds
// zeroes, which never pass the CRC check.
type MemoryStore struct {
	mu  sync.Mutex
	buf [RecordSize]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, RecordSize)
	copy(out, s.buf[:])
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(buf []byte) error {
	if len(buf) != RecordSize {
		return fmt.Errorf("record must be %d bytes, got %d", RecordSize, len(buf))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.buf[:], buf)
	return nil
}

// FileStore keeps the record in a file, for host-side tools working on
// memory dumps. A missing file loads as an all-zero region.
type FileStore struct {
	Path string
}

// Load implements Store.
func (s *FileStore) Load() ([]byte, error) {
	buf, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return make([]byte, RecordSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	return buf, nil
}

// Save implements Store.
func (s *FileStore) Save(buf []byte) error {
	if err := os.WriteFile(s.Path, buf, 0o644); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Read loads and decodes the record held by s. It reports false when the
// region does not hold a valid record.
func Read(s Store) (*Record, bool, error) {
	buf, err := s.Load()
	if err != nil {
		return nil, false, err
	}
	r, ok := Decode(buf)
	return r, ok, nil
}

// Write encodes r into s.
func Write(s Store, r *Record) error {
	return s.Save(Encode(r))
}
