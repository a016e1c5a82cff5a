package firmware

import (
	"bytes"

	"github.com/moffa90/go-lpfota/flash"
	"github.com/moffa90/go-lpfota/partition"
	"github.com/moffa90/go-lpfota/secure"
)

// BlockSize is the payload size of one block on the local channel.
const BlockSize = secure.PayloadSize

// Image is a contiguous firmware image.
type Image struct {
	// BaseAddr is the address of the first byte, as given by the source
	// file. It is informational; the device places the image itself.
	BaseAddr uint32

	// Data is the image content
	Data []byte
}

// Size returns the image length in bytes.
func (img *Image) Size() int {
	return len(img.Data)
}

// BlockCount returns the number of blocks of the given size needed to carry
// the image.
func (img *Image) BlockCount(blockSize int) int {
	if blockSize <= 0 {
		return 0
	}
	return (len(img.Data) + blockSize - 1) / blockSize
}

// Padded returns the image padded with erased bytes to a whole number of
// blocks.
func (img *Image) Padded(blockSize int) []byte {
	n := img.BlockCount(blockSize) * blockSize
	out := bytes.Repeat([]byte{flash.ErasedByte}, n)
	copy(out, img.Data)
	return out
}

// Blocks splits the padded image into blocks. Block i carries block id i+1.
func (img *Image) Blocks(blockSize int) [][]byte {
	padded := img.Padded(blockSize)
	blocks := make([][]byte, 0, img.BlockCount(blockSize))
	for off := 0; off < len(padded); off += blockSize {
		blocks = append(blocks, padded[off:off+blockSize])
	}
	return blocks
}

// Hash returns the content hash of the padded image.
func (img *Image) Hash(blockSize int) uint32 {
	return partition.ContentHash(img.Padded(blockSize))
}
