package merge

// Result is an outstanding asynchronous control request. Poll never blocks:
// done is false while the request is in flight. Once done, the value and error
// are final and repeated calls return them again.
type Result[T any] interface {
	Poll() (value T, done bool, err error)
}

// Subscription is a multi-destination subscription scoped to one session.
// Frames from all active destinations are merged into a single stream by Poll.
// The subscription does not deduplicate by position.
type Subscription interface {
	// AddDestination attaches a network destination. The result resolves to the
	// stream position of the first frame the destination will carry, or 0 when
	// that is not known up front.
	AddDestination(uri string) Result[Position]
	RemoveDestination(uri string) Result[struct{}]
	// Poll delivers at most limit frames to handler and returns how many
	// frames it read.
	Poll(handler FragmentHandler, limit int) int
}

// ArchiveClient issues replay control requests against a recording archive.
type ArchiveClient interface {
	StartReplay(recordingID RecordingID, position Position, length int64, replayChannel string) Result[ReplaySessionID]
	StopReplay(replaySessionID ReplaySessionID) Result[struct{}]
}

// PositionOracle exposes the live recorded position of a session. A false ok
// after an earlier successful lookup means the recorded stream has ended.
type PositionOracle interface {
	FindLivePosition(sessionID SessionID) (pos Position, ok bool)
}
