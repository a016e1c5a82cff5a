package updatearea

// Kind is the origin of an update.
type Kind int

const (
	// KindInternal is a remote update downloaded by the radio stack into
	// the update area
	KindInternal Kind = iota + 1

	// KindExternal is a remote update delivered to an external host. The
	// update area is not touched.
	KindExternal

	// KindLocal is an update received over the local wired interface
	KindLocal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindExternal:
		return "external"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Status is the progress of the image held by the update area.
type Status int

const (
	StatusUnknown Status = iota
	StatusSessionFailed
	StatusStoreFailed
	StatusInProgress
	StatusIncomplete
	StatusCorrupted
	StatusValid
	StatusReady
)

var statusNames = map[Status]string{
	StatusUnknown:       "unknown",
	StatusSessionFailed: "session-failed",
	StatusStoreFailed:   "store-failed",
	StatusInProgress:    "in-progress",
	StatusIncomplete:    "incomplete",
	StatusCorrupted:     "corrupted",
	StatusValid:         "valid",
	StatusReady:         "ready",
}

// String returns the status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}
