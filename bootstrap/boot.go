package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/moffa90/go-lpfota/exchange"
	"github.com/moffa90/go-lpfota/flash"
	"github.com/moffa90/go-lpfota/partition"
)

// LocalLoader receives a firmware image over the local (wired) interface
// into the given partition, header included.
type LocalLoader interface {
	Receive(ctx context.Context, dest partition.Partition) error
}

// Result describes one boot cycle.
type Result struct {
	// Request is the boot request found in the exchange record
	Request exchange.BootRequest

	// RecordValid is false when the record failed its CRC check and safe
	// defaults were used
	RecordValid bool

	// Decision is the partition selection outcome
	Decision Decision

	// Swapped is true when an image was copied into the active partition
	Swapped bool

	// Run is the partition to start, partition.None when no runnable image
	// is left
	Run partition.Role

	// Update is the partition published to the application for updates
	Update partition.Role

	// Record is the record published for the application
	Record *exchange.Record
}

// Bootstrap runs the boot-time partition selection and swap.
type Bootstrap struct {
	flash  flash.Flash
	store  exchange.Store
	config Config
}

// New creates a Bootstrap working on the given flash bank and record store.
func New(f flash.Flash, store exchange.Store, opts ...Option) *Bootstrap {
	if f == nil || store == nil {
		panic("flash and record store cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Bootstrap{
		flash:  f,
		store:  store,
		config: cfg,
	}
}

// Boot performs one boot cycle:
//  1. Load the exchange record, falling back to safe defaults on CRC mismatch
//  2. Read the three partition headers and select the boot action
//  3. Swap, or hand off to the local update path, as decided
//  4. Publish the exchange record for the application
//
// Boot never gives up: the returned Result is always usable. A non-nil error
// is a trace of what failed along the way (*SwapError, *RecordError, loader
// failure).
func (b *Bootstrap) Boot(ctx context.Context) (*Result, error) {
	var trace []error
	layout := b.config.Layout

	res := &Result{Run: partition.None, Update: partition.None}

	rec, ok, err := exchange.Read(b.store)
	if err != nil {
		trace = append(trace, fmt.Errorf("load exchange record: %w", err))
	}
	if !ok {
		b.logInfo("exchange record invalid, using defaults")
		rec = &exchange.Record{Request: exchange.RequestNone}
	}
	res.Request = rec.Request
	res.RecordValid = ok

	hs := b.readHeaders()
	res.Decision = Select(rec.Request, hs)
	b.logInfo("partition selected",
		"request", rec.Request.String(),
		"decision", res.Decision.String(),
	)

	request := rec.Request
	switch res.Decision.Action {
	case ActionRun:
		res.Run = res.Decision.Source

	case ActionSwap:
		src := layout.Get(res.Decision.Source)
		dest := layout.Get(res.Decision.Destination)
		if err := b.Swap(ctx, dest, src, hs[src.Role]); err != nil {
			b.logError("swap failed", "error", err)
			trace = append(trace, err)
			hs = b.readHeaders()
			res.Run = b.fallback(ctx, hs, &trace)
		} else {
			res.Swapped = true
			request = exchange.RequestNone
			hs = b.readHeaders()
			res.Run = partition.Active
		}

	case ActionLocal:
		// An image delivered by the application's local session is started
		// in place, without a swap.
		if p, found := layout.Find(rec.SrcAddr); found && request == exchange.RequestLocal &&
			p.Role != partition.Active && hs[p.Role].Valid() {
			res.Run = p.Role
			break
		}
		res.Run = b.receiveLocal(ctx, res.Decision.Destination, &trace)
		hs = b.readHeaders()
		if res.Run == partition.None && hs[partition.Active].Valid() {
			res.Run = partition.Active
		}
	}

	res.Update = updateDestination(hs, res.Run)
	res.Record = b.record(rec, request, hs, res.Run, res.Update)
	if err := exchange.Write(b.store, res.Record); err != nil {
		b.logError("publish exchange record failed", "error", err)
		trace = append(trace, &RecordError{Err: err})
	}

	b.logInfo("boot complete",
		"run", res.Run.String(),
		"update", res.Update.String(),
		"swapped", res.Swapped,
	)
	return res, errors.Join(trace...)
}

// fallback picks what to run after a failed swap, without attempting another
// swap in this cycle.
func (b *Bootstrap) fallback(ctx context.Context, hs Headers, trace *[]error) partition.Role {
	if hs[partition.Active].Valid() {
		return partition.Active
	}
	return b.receiveLocal(ctx, localDestination(hs), trace)
}

// receiveLocal hands off to the local loader and returns the partition to
// run afterwards, partition.None when nothing was received.
func (b *Bootstrap) receiveLocal(ctx context.Context, dest partition.Role, trace *[]error) partition.Role {
	if b.config.LocalLoader == nil {
		b.logInfo("no local loader configured", "dest", dest.String())
		return partition.None
	}

	p := b.config.Layout.Get(dest)
	b.logInfo("waiting for local image", "dest", p.String())
	if err := b.config.LocalLoader.Receive(ctx, p); err != nil {
		b.logError("local update failed", "dest", p.String(), "error", err)
		*trace = append(*trace, fmt.Errorf("local update into %s: %w", p, err))
		return partition.None
	}

	h, err := partition.ReadHeader(b.flash, p)
	if err != nil || !h.Valid() {
		*trace = append(*trace, fmt.Errorf("local image in %s has no valid header", p))
		return partition.None
	}
	return dest
}

// record builds the exchange record published for the application.
func (b *Bootstrap) record(prev *exchange.Record, request exchange.BootRequest, hs Headers, run, update partition.Role) *exchange.Record {
	layout := b.config.Layout

	magic := uint32(partition.MagicA)
	if run != partition.None && hs[run].Valid() {
		magic = partition.NextMagic(hs[run].Magic)
	}

	r := &exchange.Record{
		Magic:      magic,
		Request:    request,
		HeaderSize: partition.HeaderSize,
		Reserved:   prev.Reserved,
	}
	if run != partition.None {
		p := layout.Get(run)
		r.SrcAddr, r.SrcSize = p.Addr, p.Size
	}
	if update != partition.None {
		p := layout.Get(update)
		r.DestAddr, r.DestSize = p.Addr, p.Size
	}
	return r
}

func (b *Bootstrap) readHeaders() Headers {
	return Headers(partition.ReadHeaders(b.flash, b.config.Layout))
}

// logInfo logs an info message if a logger is configured.
func (b *Bootstrap) logInfo(msg string, keysAndValues ...interface{}) {
	if b.config.Logger != nil {
		b.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (b *Bootstrap) logError(msg string, keysAndValues ...interface{}) {
	if b.config.Logger != nil {
		b.config.Logger.Error(msg, keysAndValues...)
	}
}
