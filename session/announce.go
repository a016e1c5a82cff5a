package session

import (
	"fmt"

	"github.com/moffa90/go-lpfota/protocol"
	"github.com/moffa90/go-lpfota/updatearea"
)

// Pending is the kind of update currently pending.
type Pending int

const (
	PendingNone Pending = iota
	PendingInternal
	PendingExternal
	PendingLocal
	PendingForbidden
)

// FSM state names, one per Pending value.
const (
	stateNone      = "none"
	stateInternal  = "internal"
	stateExternal  = "external"
	stateLocal     = "local"
	stateForbidden = "forbidden"
)

var pendingStates = map[Pending]string{
	PendingNone:      stateNone,
	PendingInternal:  stateInternal,
	PendingExternal:  stateExternal,
	PendingLocal:     stateLocal,
	PendingForbidden: stateForbidden,
}

// String returns the pending kind name.
func (p Pending) String() string {
	if s, ok := pendingStates[p]; ok {
		return s
	}
	return fmt.Sprintf("pending(%d)", int(p))
}

func pendingFromState(state string) Pending {
	for p, s := range pendingStates {
		if s == state {
			return p
		}
	}
	return PendingNone
}

func pendingFromKind(k updatearea.Kind) Pending {
	switch k {
	case updatearea.KindInternal:
		return PendingInternal
	case updatearea.KindExternal:
		return PendingExternal
	case updatearea.KindLocal:
		return PendingLocal
	default:
		return PendingNone
	}
}

// AnnounceInfo holds the negotiated parameters of one update.
type AnnounceInfo struct {
	// SessionID identifies the session or download
	SessionID uint32

	// SWInitial is the version the update applies to (major<<8 | minor)
	SWInitial uint16

	// SWTarget is the version installed by the update
	SWTarget uint16

	// NetworkID is the radio network the update is meant for
	NetworkID uint16

	// HardwareVersion is the hardware the update is built for
	HardwareVersion uint16

	// BlockCount is the number of blocks of the image
	BlockCount uint16

	// Hash is the content hash of the image
	Hash uint32

	// ImageSize is the number of meaningful payload bytes; zero means
	// BlockCount full blocks
	ImageSize uint32

	// Schedule is the optional announce window
	Schedule protocol.Schedule

	// Type is the update kind
	Type updatearea.Kind

	// KeyID selects the key protecting local blocks
	KeyID uint8
}

// FromAnnounce builds the AnnounceInfo of a local announce.
func FromAnnounce(a *protocol.Announce, keyID uint8) AnnounceInfo {
	return AnnounceInfo{
		SessionID:       a.SessionID,
		SWInitial:       a.SWInitial,
		SWTarget:        a.SWTarget,
		NetworkID:       a.NetworkID,
		HardwareVersion: a.HardwareVersion,
		BlockCount:      a.BlockCount,
		Hash:            a.Hash,
		Schedule:        a.Schedule,
		Type:            updatearea.KindLocal,
		KeyID:           keyID,
	}
}
