package bootstrap

import (
	"bytes"
	"context"
	"fmt"

	"github.com/moffa90/go-lpfota/flash"
	"github.com/moffa90/go-lpfota/partition"
)

// Swap erases dest and copies the image described by h from src into it.
//
// The payload is copied first and the header region last, so a power loss at
// any point leaves dest without a valid header. Errors are wrapped in a
// *SwapError and never retried.
func (b *Bootstrap) Swap(ctx context.Context, dest, src partition.Partition, h *partition.Header) error {
	fail := func(stage string, err error) error {
		return &SwapError{Source: src.Role, Destination: dest.Role, Stage: stage, Err: err}
	}

	geo := b.flash.Geometry()
	if !h.Valid() {
		return fail("check", fmt.Errorf("source header invalid: %s", h))
	}
	if h.Size < partition.HeaderSize || h.Size > src.Size || h.Size > dest.Size || h.Size%geo.ProgramUnit != 0 {
		return fail("check", fmt.Errorf("image size %d does not fit (src %d, dest %d)", h.Size, src.Size, dest.Size))
	}

	// Erase every page the image will occupy.
	for addr := dest.Addr; addr < dest.Addr+h.Size; addr += geo.PageSize {
		if err := ctx.Err(); err != nil {
			return fail("erase", err)
		}
		if err := b.flash.Erase(b.flash.Page(addr)); err != nil {
			return fail("erase", err)
		}
	}

	if err := b.copyRange(ctx, dest.Addr, src.Addr, partition.HeaderSize, h.Size); err != nil {
		return fail("copy", err)
	}
	if b.config.VerifyAfterSwap {
		if err := b.verifyRange(dest.Addr, src.Addr, partition.HeaderSize, h.Size); err != nil {
			return fail("verify", err)
		}
	}

	// Header last.
	if err := b.copyRange(ctx, dest.Addr, src.Addr, 0, partition.HeaderSize); err != nil {
		return fail("header", err)
	}

	b.logInfo("swap complete",
		"src", src.String(),
		"dest", dest.String(),
		"size", h.Size,
	)
	return nil
}

// copyRange copies [from, to) relative to each partition base, one page at a
// time.
func (b *Bootstrap) copyRange(ctx context.Context, dest, src, from, to uint32) error {
	chunk := b.flash.Geometry().PageSize
	buf := make([]byte, chunk)

	for off := from; off < to; off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := chunk
		if to-off < n {
			n = to - off
		}
		if err := b.flash.Read(src+off, buf[:n]); err != nil {
			return err
		}
		if isErased(buf[:n]) {
			// Nothing to program, the destination is already erased.
			continue
		}
		if err := b.flash.Write(dest+off, buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bootstrap) verifyRange(dest, src, from, to uint32) error {
	chunk := b.flash.Geometry().PageSize
	want := make([]byte, chunk)
	got := make([]byte, chunk)

	for off := from; off < to; off += chunk {
		n := chunk
		if to-off < n {
			n = to - off
		}
		if err := b.flash.Read(src+off, want[:n]); err != nil {
			return err
		}
		if err := b.flash.Read(dest+off, got[:n]); err != nil {
			return err
		}
		if !bytes.Equal(want[:n], got[:n]) {
			return &VerificationError{Addr: dest + off}
		}
	}
	return nil
}

func isErased(p []byte) bool {
	for _, c := range p {
		if c != flash.ErasedByte {
			return false
		}
	}
	return true
}
