package bootstrap

import (
	"fmt"

	"github.com/moffa90/go-lpfota/exchange"
	"github.com/moffa90/go-lpfota/partition"
)

// Action is what the bootstrap does with a boot decision.
type Action int

const (
	// ActionRun starts an image in place.
	ActionRun Action = iota

	// ActionSwap copies an inactive image into the active partition.
	ActionSwap

	// ActionLocal hands off to the local update path.
	ActionLocal
)

func (a Action) String() string {
	switch a {
	case ActionRun:
		return "run"
	case ActionSwap:
		return "swap"
	case ActionLocal:
		return "local"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the outcome of partition selection.
type Decision struct {
	Action Action

	// Source is the image to run (ActionRun) or copy (ActionSwap)
	Source partition.Role

	// Destination is the swap target (ActionSwap) or the partition that
	// receives a local update (ActionLocal)
	Destination partition.Role
}

func (d Decision) String() string {
	return fmt.Sprintf("%s src=%s dest=%s", d.Action, d.Source, d.Destination)
}

// Headers holds the header of each partition, indexed by partition.Role.
// A nil entry is treated as an invalid header.
type Headers [partition.Count]*partition.Header

// Select picks the boot action for the given request and partition headers.
//
// In priority order:
//  1. RequestNone runs the active image when its header is valid.
//  2. RequestSwap, or a fall-through from 1, copies the most recently written
//     valid inactive image into the active partition. With no valid inactive
//     image a valid active image is run instead.
//  3. Anything else takes the local update path.
//
// Unknown requests are handled as RequestNone.
func Select(req exchange.BootRequest, hs Headers) Decision {
	active := hs[partition.Active]

	switch req {
	case exchange.RequestSwap, exchange.RequestLocal:
	default:
		if active.Valid() {
			return run(partition.Active)
		}
		req = exchange.RequestSwap
	}

	if req == exchange.RequestSwap {
		if src, ok := swapSource(hs); ok {
			return Decision{Action: ActionSwap, Source: src, Destination: partition.Active}
		}
		if active.Valid() {
			return run(partition.Active)
		}
	}

	return Decision{Action: ActionLocal, Source: partition.None, Destination: localDestination(hs)}
}

func run(r partition.Role) Decision {
	return Decision{Action: ActionRun, Source: r, Destination: partition.None}
}

// swapSource returns the inactive partition to copy into the active one.
// When both inactive images are valid, an image that is a copy of the active
// one was already swapped in and loses; otherwise the newer epoch wins, and
// Inactive0 is the default.
func swapSource(hs Headers) (partition.Role, bool) {
	h0, h1 := hs[partition.Inactive0], hs[partition.Inactive1]
	v0, v1 := h0.Valid(), h1.Valid()

	switch {
	case v0 && v1:
		active := hs[partition.Active]
		c0, c1 := h0.SameImage(active), h1.SameImage(active)
		switch {
		case c0 && !c1:
			return partition.Inactive1, true
		case c1 && !c0:
			return partition.Inactive0, true
		case h1.Epoch > h0.Epoch:
			return partition.Inactive1, true
		default:
			return partition.Inactive0, true
		}
	case v0:
		return partition.Inactive0, true
	case v1:
		return partition.Inactive1, true
	}
	return partition.None, false
}

// localDestination picks the inactive partition that receives a local
// update. Inactive1 is preferred unless it holds the only fresh image, that
// is a valid image that is not a copy of the active one.
func localDestination(hs Headers) partition.Role {
	active := hs[partition.Active]
	fresh := func(h *partition.Header) bool {
		return h.Valid() && !h.SameImage(active)
	}

	if fresh(hs[partition.Inactive1]) && !fresh(hs[partition.Inactive0]) {
		return partition.Inactive0
	}
	return partition.Inactive1
}

// updateDestination picks the partition the application writes updates to:
// the local destination, unless that is the partition being run.
func updateDestination(hs Headers, running partition.Role) partition.Role {
	dest := localDestination(hs)
	if dest != running {
		return dest
	}
	if dest == partition.Inactive1 {
		return partition.Inactive0
	}
	return partition.Inactive1
}
