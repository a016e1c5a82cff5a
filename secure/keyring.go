package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2s"
)

// Keyring is the default Cipher: AES in counter mode for confidentiality and
// keyed BLAKE2s-256 over counter and ciphertext for authentication. Each key
// id maps to one AES key, which also keys the hash.
type Keyring struct {
	mu   sync.RWMutex
	keys map[uint8][]byte
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[uint8][]byte)}
}

// Add provisions key under id. Keys must be 16, 24 or 32 bytes long. Key id
// 0 is reserved for the unauthenticated path.
func (k *Keyring) Add(id uint8, key []byte) error {
	if id == 0 {
		return fmt.Errorf("key id 0 is reserved")
	}
	if _, err := aes.NewCipher(key); err != nil {
		return fmt.Errorf("key %d: %w", id, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[id] = append([]byte(nil), key...)
	return nil
}

// Has reports whether a key is provisioned under id.
func (k *Keyring) Has(id uint8) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[id]
	return ok
}

func (k *Keyring) key(id uint8) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKey, id)
	}
	return key, nil
}

// Encrypt implements Cipher.
func (k *Keyring) Encrypt(dst, src []byte, counter [CounterSize]byte, keyID uint8) error {
	return k.xorKeyStream(dst, src, counter, keyID)
}

// Decrypt implements Cipher.
func (k *Keyring) Decrypt(dst, src []byte, counter [CounterSize]byte, keyID uint8) error {
	return k.xorKeyStream(dst, src, counter, keyID)
}

func (k *Keyring) xorKeyStream(dst, src []byte, counter [CounterSize]byte, keyID uint8) error {
	key, err := k.key(keyID)
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	if len(dst) < len(src) {
		return fmt.Errorf("output buffer too small: %d < %d", len(dst), len(src))
	}
	cipher.NewCTR(block, counter[:]).XORKeyStream(dst, src)
	return nil
}

// KeyedHash implements Cipher.
func (k *Keyring) KeyedHash(dst, src []byte, counter [CounterSize]byte, keyID uint8) error {
	key, err := k.key(keyID)
	if err != nil {
		return err
	}
	h, err := blake2s.New256(key)
	if err != nil {
		return err
	}
	h.Write(counter[:])
	h.Write(src)
	copy(dst, h.Sum(nil))
	return nil
}
