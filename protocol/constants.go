package protocol

// Frame structure constants.
const (
	// StartOfPacket is the frame start marker (0x01)
	StartOfPacket = 0x01

	// EndOfPacket is the frame end marker (0x17)
	EndOfPacket = 0x17

	// MinFrameSize is the minimum frame size in bytes:
	// SOP(1) + CMD/STATUS(1) + LEN(2) + CHECKSUM(2) + EOP(1)
	MinFrameSize = 7

	// MaxDataSize is the maximum data payload size per frame
	MaxDataSize = 256
)

// Command codes of the local update channel.
const (
	// CmdAnnounce opens a local update session
	CmdAnnounce = 0x50

	// CmdBlock carries one secure block frame
	CmdBlock = 0x51

	// CmdFinalize asks the device to check and commit the image
	CmdFinalize = 0x52

	// CmdAbort closes the session
	CmdAbort = 0x53

	// CmdStatus reports session progress
	CmdStatus = 0x54
)

// Status codes returned in responses. They follow the local download error
// taxonomy.
const (
	// StatusSuccess indicates the command was executed
	StatusSuccess = 0x00

	// ErrIllegalValue indicates a malformed or unexpected value
	ErrIllegalValue = 0x01

	// ErrFrameLength indicates data of the wrong size
	ErrFrameLength = 0x02

	// ErrVersionInitial indicates the running version is not the one the
	// update applies to
	ErrVersionInitial = 0x03

	// ErrVersionTarget indicates a target version the policy refuses
	ErrVersionTarget = 0x04

	// ErrHardware indicates a hardware version mismatch
	ErrHardware = 0x05

	// ErrNetworkID indicates a network id mismatch
	ErrNetworkID = 0x06

	// ErrOutOfWindow indicates an announce outside its schedule window
	ErrOutOfWindow = 0x07

	// ErrSessionID indicates a wrong or replayed session id
	ErrSessionID = 0x08

	// ErrBlockID indicates a block id outside the announced range
	ErrBlockID = 0x09

	// ErrAuthentication indicates a block that failed authentication
	ErrAuthentication = 0x0A

	// ErrWrite indicates a flash failure
	ErrWrite = 0x0B

	// ErrCorrupted indicates an image whose hash does not match
	ErrCorrupted = 0x0C

	// ErrBlockCount indicates missing blocks at finalize
	ErrBlockCount = 0x0D

	// ErrBusy indicates another update is pending
	ErrBusy = 0x0E

	// ErrUnknown indicates an unknown error occurred
	ErrUnknown = 0x0F

	// ErrChecksum indicates a frame whose checksum does not match
	ErrChecksum = 0x10

	// ErrCommand indicates an unrecognized command
	ErrCommand = 0x11
)

// Data sizes.
const (
	// AnnounceSize is the size of an encoded Announce (24 bytes)
	AnnounceSize = 24

	// AnnounceCmdSize is the data size of an announce command: key id and
	// announce
	AnnounceCmdSize = 1 + AnnounceSize

	// StatusResponseSize is the data size of a status response (6 bytes)
	StatusResponseSize = 6

	// DefaultResponseBufferSize is the default buffer size for reading
	// frames
	DefaultResponseBufferSize = MinFrameSize + MaxDataSize
)
