package merge

// RecordingID identifies an archived recording.
type RecordingID int64

// SessionID identifies one publisher's stream instance.
type SessionID int32

// Position is a byte offset into a session's stream. Replay and live views of
// the same session share the same positions.
type Position int64

// ReplaySessionID is the handle the archive returns for a started replay.
type ReplaySessionID int64

const (
	// NullRecordingID marks an unset recording.
	NullRecordingID RecordingID = -1

	// NullSessionID marks an unset session.
	NullSessionID SessionID = 0

	// NullReplaySessionID is reported until the archive confirms a replay.
	NullReplaySessionID ReplaySessionID = -1

	// NullLength requests a replay that follows the recording as it grows.
	NullLength int64 = -1
)

// DestinationRole tells which side of the merge a destination serves.
type DestinationRole int

const (
	RoleReplay DestinationRole = iota
	RoleLive
)

func (r DestinationRole) String() string {
	if r == RoleLive {
		return "live"
	}
	return "replay"
}

// Header describes a delivered frame.
type Header struct {
	SessionID SessionID
	// Position is the stream position just after this frame.
	Position Position
	// FrameLength is the aligned length of the frame on the stream, so the
	// frame begins at Position-FrameLength.
	FrameLength int32
}

// StartPosition returns the stream position at which the frame begins.
func (h Header) StartPosition() Position {
	return h.Position - Position(h.FrameLength)
}

// FragmentHandler receives the payload of each delivered frame.
type FragmentHandler func(payload []byte, hdr Header)
