package partition

import (
	"fmt"

	"github.com/moffa90/go-lpfota/flash"
)

// Role names one of the three logical partitions.
type Role int

const (
	// Active is the partition the processor runs from after a normal boot.
	Active Role = iota

	// Inactive0 is the first spare partition.
	Inactive0

	// Inactive1 is the second spare partition.
	Inactive1

	// None marks an unused slot in a boot decision.
	None Role = -1
)

// Count is the number of partitions.
const Count = 3

func (r Role) String() string {
	switch r {
	case Active:
		return "active"
	case Inactive0:
		return "inactive-0"
	case Inactive1:
		return "inactive-1"
	case None:
		return "none"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Partition is a flash region holding one image.
type Partition struct {
	Role Role
	Addr uint32
	Size uint32
}

// PayloadAddr returns the address of the first payload byte.
func (p Partition) PayloadAddr() uint32 {
	return p.Addr + HeaderSize
}

// Contains reports whether [addr, addr+size) lies inside the partition.
func (p Partition) Contains(addr, size uint32) bool {
	return addr >= p.Addr && uint64(addr)+uint64(size) <= uint64(p.Addr)+uint64(p.Size)
}

func (p Partition) String() string {
	return fmt.Sprintf("%s@0x%08X+0x%X", p.Role, p.Addr, p.Size)
}

// Layout holds the three partitions, indexed by Role.
type Layout [Count]Partition

// Reference sizing: a 16 KiB bootstrap followed by three 80 KiB partitions.
const (
	BootstrapSize      = 16 * 1024
	ReferencePartition = 80 * 1024
)

// ReferenceLayout returns the partition layout of the reference module.
func ReferenceLayout() Layout {
	var l Layout
	addr := uint32(flash.ReferenceBase + BootstrapSize)
	for r := Active; r <= Inactive1; r++ {
		l[r] = Partition{Role: r, Addr: addr, Size: ReferencePartition}
		addr += ReferencePartition
	}
	return l
}

// Get returns the partition playing role r.
func (l Layout) Get(r Role) Partition {
	return l[r]
}

// Find returns the partition starting at addr.
func (l Layout) Find(addr uint32) (Partition, bool) {
	for _, p := range l {
		if p.Addr == addr {
			return p, true
		}
	}
	return Partition{Role: None}, false
}

// Validate checks that every partition fits the flash bank, starts on a page
// boundary and is large enough for a header.
func (l Layout) Validate(geo flash.Geometry) error {
	for _, p := range l {
		if !geo.Contains(p.Addr, p.Size) {
			return fmt.Errorf("partition %s outside flash (%s)", p, geo)
		}
		if !geo.IsPageAligned(p.Addr) || p.Size%geo.PageSize != 0 {
			return fmt.Errorf("partition %s not page aligned (page %d)", p, geo.PageSize)
		}
		if p.Size <= HeaderSize {
			return fmt.Errorf("partition %s too small for a header", p)
		}
	}
	return nil
}

// ReadHeader reads and decodes the header of p.
func ReadHeader(f flash.Flash, p Partition) (*Header, error) {
	buf := make([]byte, EncodedHeaderSize)
	if err := f.Read(p.Addr, buf); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", p, err)
	}
	return DecodeHeader(buf)
}

// ReadHeaders reads the headers of all three partitions. A partition whose
// header cannot be read is reported as nil.
func ReadHeaders(f flash.Flash, l Layout) [Count]*Header {
	var hs [Count]*Header
	for i, p := range l {
		h, err := ReadHeader(f, p)
		if err == nil {
			hs[i] = h
		}
	}
	return hs
}

// WriteHeader programs h at the start of p, padded to the program unit. The
// header area must be erased.
func WriteHeader(f flash.Flash, p Partition, h *Header) error {
	geo := f.Geometry()
	buf := make([]byte, geo.RoundUp(EncodedHeaderSize))
	for i := range buf {
		buf[i] = flash.ErasedByte
	}
	copy(buf, EncodeHeader(h))
	return f.Write(p.Addr, buf)
}
