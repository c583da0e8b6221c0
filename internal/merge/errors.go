package merge

import "errors"

var (
	// ErrInvalidConfig is returned by New when the configuration cannot
	// describe a merge. No request has been issued when it is returned.
	ErrInvalidConfig = errors.New("invalid merge configuration")

	// ErrStreamTerminated is recorded when the recorded live position
	// disappears before the merge completes.
	ErrStreamTerminated = errors.New("recorded stream terminated before merge")

	// ErrControlRejected wraps a rejected archive or destination request.
	ErrControlRejected = errors.New("control request rejected")

	// ErrReplayTooShort is recorded when a bounded replay ends before the
	// position at which the live destination joined.
	ErrReplayTooShort = errors.New("replay ends before live join position")
)
