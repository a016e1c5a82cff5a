package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Schedule is the optional time window of an announce. A zero Start means
// no window.
type Schedule struct {
	// Start is the window start, in Unix seconds
	Start uint32

	// Duration is the window length in minutes
	Duration uint16
}

// Contains reports whether t falls inside the window. A zero schedule
// contains every instant.
func (s Schedule) Contains(t time.Time) bool {
	if s.Start == 0 {
		return true
	}
	start := time.Unix(int64(s.Start), 0)
	end := start.Add(time.Duration(s.Duration) * time.Minute)
	return !t.Before(start) && t.Before(end)
}

// Announce describes an update offered to the device.
//
// Wire format (AnnounceSize bytes, big-endian):
//
//	[SESSION_ID(4)][SW_INITIAL(2)][SW_TARGET(2)][NETWORK_ID(2)]
//	[HW_VERSION(2)][BLOCK_COUNT(2)][WINDOW_START(4)][WINDOW_MIN(2)][HASH(4)]
type Announce struct {
	SessionID       uint32
	SWInitial       uint16
	SWTarget        uint16
	NetworkID       uint16
	HardwareVersion uint16
	BlockCount      uint16
	Schedule        Schedule
	Hash            uint32
}

// EncodeAnnounce returns the wire encoding of a.
func EncodeAnnounce(a *Announce) []byte {
	buf := make([]byte, AnnounceSize)
	binary.BigEndian.PutUint32(buf[0:4], a.SessionID)
	binary.BigEndian.PutUint16(buf[4:6], a.SWInitial)
	binary.BigEndian.PutUint16(buf[6:8], a.SWTarget)
	binary.BigEndian.PutUint16(buf[8:10], a.NetworkID)
	binary.BigEndian.PutUint16(buf[10:12], a.HardwareVersion)
	binary.BigEndian.PutUint16(buf[12:14], a.BlockCount)
	binary.BigEndian.PutUint32(buf[14:18], a.Schedule.Start)
	binary.BigEndian.PutUint16(buf[18:20], a.Schedule.Duration)
	binary.BigEndian.PutUint32(buf[20:24], a.Hash)
	return buf
}

// DecodeAnnounce parses the wire encoding of an announce.
func DecodeAnnounce(data []byte) (*Announce, error) {
	if len(data) != AnnounceSize {
		return nil, fmt.Errorf("invalid announce length: got %d bytes, expected %d", len(data), AnnounceSize)
	}

	return &Announce{
		SessionID:       binary.BigEndian.Uint32(data[0:4]),
		SWInitial:       binary.BigEndian.Uint16(data[4:6]),
		SWTarget:        binary.BigEndian.Uint16(data[6:8]),
		NetworkID:       binary.BigEndian.Uint16(data[8:10]),
		HardwareVersion: binary.BigEndian.Uint16(data[10:12]),
		BlockCount:      binary.BigEndian.Uint16(data[12:14]),
		Schedule: Schedule{
			Start:    binary.BigEndian.Uint32(data[14:18]),
			Duration: binary.BigEndian.Uint16(data[18:20]),
		},
		Hash: binary.BigEndian.Uint32(data[20:24]),
	}, nil
}

// StatusReport is the device answer to a status command.
type StatusReport struct {
	// Pending is the pending update kind (0 none, 1 internal, 2 external,
	// 3 local, 4 forbidden)
	Pending byte

	// Status is the update area status
	Status byte

	// Received is the number of blocks stored so far
	Received uint16

	// Missed is the number of blocks dropped by the device
	Missed uint16
}
