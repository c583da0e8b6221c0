package merge

import (
	"fmt"
	"log/slog"

	"replay-merge/internal/platform/metrics"
)

// Config describes one replay-to-live merge.
type Config struct {
	// ReplayChannel is the channel the archive replays onto.
	ReplayChannel string
	// ReplayDestination is added to the subscription to receive the replay.
	ReplayDestination string
	// LiveDestination is added to the subscription to receive the live stream.
	LiveDestination string

	RecordingID   RecordingID
	StartPosition Position
	SessionID     SessionID

	// ReceiverWindow is how far, in bytes, the replay may trail the live
	// position before the merge moves to catch-up.
	ReceiverWindow int64

	// ReplayLength bounds the replay. NullLength follows the recording.
	// The zero value is treated as NullLength.
	ReplayLength int64

	// Logger receives transition and failure records. Nil discards them.
	Logger *slog.Logger
	// Metrics may be nil to disable metric recording.
	Metrics *metrics.Metrics
}

func (c Config) validate() error {
	switch {
	case c.RecordingID < 0:
		return fmt.Errorf("%w: recording id %d", ErrInvalidConfig, c.RecordingID)
	case c.SessionID == NullSessionID:
		return fmt.Errorf("%w: session id unset", ErrInvalidConfig)
	case c.StartPosition < 0:
		return fmt.Errorf("%w: start position %d", ErrInvalidConfig, c.StartPosition)
	case c.ReceiverWindow < 0:
		return fmt.Errorf("%w: receiver window %d", ErrInvalidConfig, c.ReceiverWindow)
	case c.ReplayLength < 0 && c.ReplayLength != NullLength:
		return fmt.Errorf("%w: replay length %d", ErrInvalidConfig, c.ReplayLength)
	case c.ReplayChannel == "":
		return fmt.Errorf("%w: replay channel empty", ErrInvalidConfig)
	case c.ReplayDestination == "":
		return fmt.Errorf("%w: replay destination empty", ErrInvalidConfig)
	case c.LiveDestination == "":
		return fmt.Errorf("%w: live destination empty", ErrInvalidConfig)
	}
	return nil
}

func (c Config) replayLength() int64 {
	if c.ReplayLength == 0 {
		return NullLength
	}
	return c.ReplayLength
}
