// Package flash describes the flash primitive surface the update core runs
// against and provides Memory, an in-process NOR flash simulator used by
// tests, examples and the command line tool.
package flash

import (
	"errors"
	"fmt"
)

// Reference sizing of the module's internal flash bank.
const (
	// ReferenceBase is the address of the first byte of the bank.
	ReferenceBase = 0x08000000

	// ReferenceSize is the size of the bank (256 KiB).
	ReferenceSize = 256 * 1024

	// ReferencePageSize is the erase granularity (2 KiB).
	ReferencePageSize = 2048

	// ReferenceProgramUnit is the smallest programmable unit (double word).
	ReferenceProgramUnit = 8

	// ErasedByte is the value of every byte after an erase.
	ErasedByte = 0xFF
)

var (
	// ErrOutOfRange is returned when an access falls outside the bank.
	ErrOutOfRange = errors.New("flash: address out of range")

	// ErrUnaligned is returned when a write does not start on, or is not a
	// multiple of, the program unit.
	ErrUnaligned = errors.New("flash: unaligned program operation")
)

// Geometry describes a flash bank.
type Geometry struct {
	// Base is the address of the first byte
	Base uint32

	// Size is the bank size in bytes
	Size uint32

	// PageSize is the erase granularity in bytes
	PageSize uint32

	// ProgramUnit is the smallest atomic write in bytes
	ProgramUnit uint32
}

// ReferenceGeometry returns the geometry of the reference module.
func ReferenceGeometry() Geometry {
	return Geometry{
		Base:        ReferenceBase,
		Size:        ReferenceSize,
		PageSize:    ReferencePageSize,
		ProgramUnit: ReferenceProgramUnit,
	}
}

// Contains reports whether [addr, addr+size) lies inside the bank.
func (g Geometry) Contains(addr, size uint32) bool {
	if addr < g.Base {
		return false
	}
	end := uint64(addr) + uint64(size)
	return end <= uint64(g.Base)+uint64(g.Size)
}

// Page returns the index of the page holding addr.
func (g Geometry) Page(addr uint32) int {
	return int((addr - g.Base) / g.PageSize)
}

// PageAddr returns the first address of page.
func (g Geometry) PageAddr(page int) uint32 {
	return g.Base + uint32(page)*g.PageSize
}

// IsAligned reports whether addr is on a program unit boundary.
func (g Geometry) IsAligned(addr uint32) bool {
	return (addr-g.Base)%g.ProgramUnit == 0
}

// IsPageAligned reports whether addr is on a page boundary.
func (g Geometry) IsPageAligned(addr uint32) bool {
	return (addr-g.Base)%g.PageSize == 0
}

// RoundUp rounds n up to a multiple of the program unit.
func (g Geometry) RoundUp(n uint32) uint32 {
	return (n + g.ProgramUnit - 1) / g.ProgramUnit * g.ProgramUnit
}

func (g Geometry) String() string {
	return fmt.Sprintf("base=0x%08X size=%d page=%d unit=%d", g.Base, g.Size, g.PageSize, g.ProgramUnit)
}

// Flash is the hardware abstraction the core relies on.
//
// Implementations must report success or failure per call and guarantee that
// a failed Write leaves the prior content of the target readable. Operations
// are not reentrant: callers serialize access to a bank.
type Flash interface {
	// Erase erases one page, setting every byte to ErasedByte
	Erase(page int) error

	// Write programs data at addr. addr must be aligned and len(data) a
	// multiple of the program unit
	Write(addr uint32, data []byte) error

	// Read copies len(p) bytes starting at addr into p
	Read(addr uint32, p []byte) error

	// Page returns the page index holding addr
	Page(addr uint32) int

	// IsAligned reports whether addr is on a program unit boundary
	IsAligned(addr uint32) bool

	// Geometry describes the bank
	Geometry() Geometry
}

// OpError reports a failed erase or program operation.
type OpError struct {
	// Op is "erase" or "write"
	Op string

	// Addr is the first address of the failed operation
	Addr uint32

	// Err is the underlying cause
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("flash %s at 0x%08X: %v", e.Op, e.Addr, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
