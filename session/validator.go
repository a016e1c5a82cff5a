package session

import (
	"fmt"
	"time"

	"github.com/coreos/go-semver/semver"

	"github.com/moffa90/go-lpfota/protocol"
	"github.com/moffa90/go-lpfota/updatearea"
)

// Validator decides whether an announced update may proceed. A refusal
// should be a *RejectError carrying the protocol code reported to the host.
type Validator interface {
	Validate(info AnnounceInfo) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(info AnnounceInfo) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(info AnnounceInfo) error {
	return f(info)
}

// Version converts a packed firmware version (major in the high byte, minor
// in the low byte) to a semantic version.
func Version(v uint16) semver.Version {
	return semver.Version{Major: int64(v >> 8), Minor: int64(v & 0xFF)}
}

// PolicyValidator is the reference announce policy of a device.
type PolicyValidator struct {
	// Running is the packed version of the running firmware
	Running uint16

	// HardwareVersion is the hardware version of the device
	HardwareVersion uint16

	// NetworkID is the radio network the device belongs to
	NetworkID uint16

	// AllowDowngrade accepts target versions older than the running one
	AllowDowngrade bool

	// Clock is checked against announce windows. Nil means time.Now.
	Clock func() time.Time
}

// Validate implements Validator.
func (p *PolicyValidator) Validate(info AnnounceInfo) error {
	running := Version(p.Running)
	initial := Version(info.SWInitial)
	target := Version(info.SWTarget)

	if !initial.Equal(running) {
		return &RejectError{Code: protocol.ErrVersionInitial,
			Reason: fmt.Sprintf("update applies to %s, running %s", initial, running)}
	}
	if !p.AllowDowngrade && !running.LessThan(target) {
		return &RejectError{Code: protocol.ErrVersionTarget,
			Reason: fmt.Sprintf("target %s is not newer than %s", target, running)}
	}
	if info.HardwareVersion != p.HardwareVersion {
		return &RejectError{Code: protocol.ErrHardware,
			Reason: fmt.Sprintf("hardware %d, device is %d", info.HardwareVersion, p.HardwareVersion)}
	}
	if info.NetworkID != p.NetworkID {
		return &RejectError{Code: protocol.ErrNetworkID,
			Reason: fmt.Sprintf("network 0x%04X, device is on 0x%04X", info.NetworkID, p.NetworkID)}
	}

	now := time.Now
	if p.Clock != nil {
		now = p.Clock
	}
	if !info.Schedule.Contains(now()) {
		return &RejectError{Code: protocol.ErrOutOfWindow, Reason: "outside announce window"}
	}

	if info.BlockCount == 0 {
		return &RejectError{Code: protocol.ErrBlockCount, Reason: "no blocks announced"}
	}
	if info.Type == updatearea.KindLocal && info.KeyID == 0 {
		return &RejectError{Code: protocol.ErrIllegalValue, Reason: "key id 0 is not allowed for local updates"}
	}
	return nil
}
