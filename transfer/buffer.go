package transfer

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/moffa90/go-lpfota/secure"
)

// Capacity is the number of blocks the Buffer holds.
const Capacity = 4

var (
	// ErrFull is returned by Put when every slot is taken
	ErrFull = errors.New("transfer buffer full")

	// ErrLockTimeout is returned when the buffer lock is not acquired in
	// time
	ErrLockTimeout = errors.New("transfer buffer lock timeout")
)

// Block is one decrypted block waiting to be stored.
type Block struct {
	ID   uint16
	Data [secure.PayloadSize]byte
	Len  int
}

// Payload returns the meaningful bytes of the block.
func (b *Block) Payload() []byte {
	return b.Data[:b.Len]
}

// Buffer is a fixed ring of Capacity blocks shared by one producer and one
// consumer. Fullness is tracked with a count, so all slots are usable. A
// block that cannot be queued is counted as missed.
type Buffer struct {
	lock    chan struct{}
	timeout time.Duration
	ready   chan struct{}

	slots [Capacity]Block
	head  int
	count int

	missed atomic.Uint32
}

// NewBuffer returns an empty Buffer whose lock waits at most lockTimeout.
func NewBuffer(lockTimeout time.Duration) *Buffer {
	return &Buffer{
		lock:    make(chan struct{}, 1),
		timeout: lockTimeout,
		ready:   make(chan struct{}, 1),
	}
}

func (b *Buffer) acquire() bool {
	select {
	case b.lock <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case b.lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (b *Buffer) release() {
	<-b.lock
}

// Put queues a block. On ErrFull or ErrLockTimeout the block is dropped and
// counted as missed.
func (b *Buffer) Put(id uint16, data []byte) error {
	if len(data) > secure.PayloadSize {
		b.missed.Add(1)
		return secure.ErrFrameLength
	}
	if !b.acquire() {
		b.missed.Add(1)
		return ErrLockTimeout
	}

	if b.count == Capacity {
		b.release()
		b.missed.Add(1)
		return ErrFull
	}

	slot := &b.slots[(b.head+b.count)%Capacity]
	slot.ID = id
	slot.Len = copy(slot.Data[:], data)
	b.count++
	b.release()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return nil
}

// Get removes the oldest block. It reports false when the buffer is empty
// or the lock could not be acquired.
func (b *Buffer) Get() (Block, bool) {
	if !b.acquire() {
		return Block{}, false
	}
	defer b.release()

	if b.count == 0 {
		return Block{}, false
	}
	blk := b.slots[b.head]
	b.head = (b.head + 1) % Capacity
	b.count--
	return blk, true
}

// Len returns the number of queued blocks.
func (b *Buffer) Len() int {
	if !b.acquire() {
		return Capacity
	}
	defer b.release()
	return b.count
}

// Ready is signalled after a successful Put.
func (b *Buffer) Ready() <-chan struct{} {
	return b.ready
}

// Miss counts a block lost outside the buffer.
func (b *Buffer) Miss() {
	b.missed.Add(1)
}

// Missed returns the number of blocks dropped since the last Reset.
func (b *Buffer) Missed() uint32 {
	return b.missed.Load()
}

// Reset empties the buffer and clears the missed counter. It reports false
// when the lock could not be acquired.
func (b *Buffer) Reset() bool {
	if !b.acquire() {
		return false
	}
	defer b.release()

	b.head, b.count = 0, 0
	b.missed.Store(0)
	return true
}
