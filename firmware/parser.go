package firmware

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/moffa90/go-lpfota/flash"
)

// MaxImageSize bounds the span of a HEX file, which protects against
// records scattered across the address space.
const MaxImageSize = 16 << 20

// Load reads an image from disk. Files ending in .hex or .ihex are parsed
// as Intel HEX, anything else as a raw binary.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return ParseHex(f)
	default:
		return ParseBinary(f)
	}
}

// ParseBinary reads a raw image.
func ParseBinary(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return &Image{Data: data}, nil
}

// ParseHex parses an Intel HEX stream into a contiguous image starting at
// the lowest data address. Gaps between records read as erased flash.
func ParseHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("failed to parse intel hex: %w", err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("no data records found in file")
	}

	lo, hi := segments[0].Address, uint32(0)
	for _, s := range segments {
		if s.Address < lo {
			lo = s.Address
		}
		if end := s.Address + uint32(len(s.Data)); end > hi {
			hi = end
		}
	}
	if hi-lo > MaxImageSize {
		return nil, fmt.Errorf("image spans %d bytes, maximum is %d", hi-lo, MaxImageSize)
	}

	return &Image{BaseAddr: lo, Data: mem.ToBinary(lo, hi-lo, flash.ErasedByte)}, nil
}
