package merge

import (
	"fmt"
	"log/slog"

	"replay-merge/internal/platform/metrics"

	"github.com/google/uuid"
)

// Controller merges a replay of a recorded session into its live stream on a
// single subscription. It is driven by repeated calls to Poll from one
// goroutine and never blocks; async control requests are polled each cycle.
type Controller struct {
	id      string
	cfg     Config
	sub     Subscription
	archive ArchiveClient
	oracle  PositionOracle
	log     *slog.Logger
	metrics *metrics.Metrics

	state    State
	err      error
	caughtUp bool

	replayDestAdd     Result[Position]
	replayDestAdded   bool
	replayDestRemove  Result[struct{}]
	replayDestRemoved bool

	replayStart     Result[ReplaySessionID]
	replaySessionID ReplaySessionID
	replayStop      Result[struct{}]
	replayStopped   bool

	liveDestAdd      Result[Position]
	liveActive       bool
	liveJoinPosition Position
	liveJoinKnown    bool
	// liveOverlap is set once a frame that could only have come from the
	// live destination has been seen.
	liveOverlap bool

	// position is the end of the last delivered frame.
	position Position
	// aheadPosition is the furthest end of any frame discarded for starting
	// past position.
	aheadPosition Position
	livePosition  Position
	catchupTarget Position

	handler FragmentHandler
	filter  FragmentHandler
}

// New validates cfg, requests the replay destination and the replay, and
// returns a Controller in StateInit.
func New(cfg Config, sub Subscription, archive ArchiveClient, oracle PositionOracle) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sub == nil || archive == nil || oracle == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidConfig)
	}

	id := uuid.NewString()
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(
		slog.String("merge_id", id),
		slog.Int64("recording_id", int64(cfg.RecordingID)),
		slog.Int("session_id", int(cfg.SessionID)),
	)

	c := &Controller{
		id:              id,
		cfg:             cfg,
		sub:             sub,
		archive:         archive,
		oracle:          oracle,
		log:             log,
		metrics:         cfg.Metrics,
		state:           StateInit,
		replaySessionID: NullReplaySessionID,
		position:        cfg.StartPosition,
		aheadPosition:   cfg.StartPosition,
	}
	c.filter = c.onFragment

	c.replayDestAdd = sub.AddDestination(c.destination(RoleReplay))
	c.replayStart = archive.StartReplay(cfg.RecordingID, cfg.StartPosition, cfg.replayLength(), cfg.ReplayChannel)

	if c.metrics != nil {
		c.metrics.MergeStarted()
	}
	c.log.Info("merge started",
		slog.Int64("start_position", int64(cfg.StartPosition)),
		slog.Int64("receiver_window", cfg.ReceiverWindow))

	return c, nil
}

// ID returns the identifier used in this controller's log records.
func (c *Controller) ID() string { return c.id }

// State returns the current lifecycle stage.
func (c *Controller) State() State { return c.state }

// Err returns the cause of StateFailed, or nil.
func (c *Controller) Err() error { return c.err }

// IsCaughtUp reports whether the merge has reached the live stream. Once true
// it stays true, including after Close.
func (c *Controller) IsCaughtUp() bool { return c.caughtUp }

// Position returns the stream position delivered so far.
func (c *Controller) Position() Position { return c.position }

// LivePosition returns the last recorded live position observed.
func (c *Controller) LivePosition() Position { return c.livePosition }

// ReplaySessionID returns the archive's replay handle, or NullReplaySessionID
// before the replay is confirmed.
func (c *Controller) ReplaySessionID() ReplaySessionID { return c.replaySessionID }

// Poll advances the merge and delivers up to limit fragments to handler.
// It returns the amount of work done; zero means the caller should back off.
func (c *Controller) Poll(handler FragmentHandler, limit int) int {
	switch c.state {
	case StateInit:
		return c.awaitReplay()
	case StateAwaitRecordingPosition:
		return c.awaitRecordingPosition()
	case StateReplay:
		return c.replay(handler, limit)
	case StateCatchup:
		return c.catchup(handler, limit)
	case StateAttemptLiveJoin:
		return c.attemptLiveJoin(handler, limit)
	case StateMerged:
		return c.pollSubscription(handler, limit)
	}
	return 0
}

// Close releases the replay destination and the replay session if the merge
// still holds them. It is safe to call more than once and always returns nil.
func (c *Controller) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.releaseReplay()
	c.transition(StateClosed)
	return nil
}

func (c *Controller) awaitReplay() int {
	work := 0

	if !c.replayDestAdded {
		_, done, err := c.replayDestAdd.Poll()
		if err != nil {
			c.fail(fmt.Errorf("%w: add %s destination: %w", ErrControlRejected, RoleReplay, err))
			return 1
		}
		if done {
			c.replayDestAdded = true
			work++
		}
	}

	if c.replaySessionID == NullReplaySessionID {
		id, done, err := c.replayStart.Poll()
		if err != nil {
			c.fail(fmt.Errorf("%w: start replay: %w", ErrControlRejected, err))
			return 1
		}
		if done {
			c.replaySessionID = id
			work++
		}
	}

	if c.replayDestAdded && c.replaySessionID != NullReplaySessionID {
		c.transition(StateAwaitRecordingPosition)
		work++
	}
	return work
}

func (c *Controller) awaitRecordingPosition() int {
	pos, ok := c.oracle.FindLivePosition(c.cfg.SessionID)
	if !ok {
		return 0
	}
	c.livePosition = pos
	c.transition(StateReplay)
	return 1
}

func (c *Controller) replay(handler FragmentHandler, limit int) int {
	work := c.pollSubscription(handler, limit)
	if !c.refreshLivePosition() {
		return work + 1
	}
	threshold := c.livePosition - Position(c.cfg.ReceiverWindow)
	if !c.replayReaches(threshold) {
		return work + 1
	}
	if c.position >= threshold {
		c.catchupTarget = c.livePosition
		if !c.replayReaches(c.catchupTarget) {
			return work + 1
		}
		c.transition(StateCatchup)
		work++
	}
	return work
}

func (c *Controller) catchup(handler FragmentHandler, limit int) int {
	work := c.pollSubscription(handler, limit)
	if !c.refreshLivePosition() {
		return work + 1
	}
	if c.position >= c.catchupTarget {
		c.transition(StateAttemptLiveJoin)
		work++
	}
	return work
}

func (c *Controller) attemptLiveJoin(handler FragmentHandler, limit int) int {
	work := 0
	if c.liveDestAdd == nil {
		c.liveDestAdd = c.sub.AddDestination(c.destination(RoleLive))
		work++
	}

	work += c.pollSubscription(handler, limit)
	if !c.refreshLivePosition() {
		return work + 1
	}

	if !c.liveActive {
		join, done, err := c.liveDestAdd.Poll()
		if err != nil {
			c.fail(fmt.Errorf("%w: add %s destination: %w", ErrControlRejected, RoleLive, err))
			return work + 1
		}
		if !done {
			return work
		}
		c.liveActive = true
		c.liveJoinKnown = join > 0
		if !c.liveJoinKnown {
			// The live side starts somewhere at or before the recorded position.
			join = c.livePosition
		}
		c.liveJoinPosition = join
		work++
		c.log.Info("destination active",
			slog.String("role", RoleLive.String()),
			slog.Int64("join_position", int64(join)),
			slog.Bool("join_known", c.liveJoinKnown))

		if !c.replayReaches(join) {
			return work + 1
		}
	}

	if c.replayStop == nil {
		// Live frames from here on must line up with what has been delivered.
		if c.position < c.liveJoinPosition || c.position < c.aheadPosition {
			return work
		}
		if !c.liveJoinKnown && !c.liveOverlap {
			return work
		}
		c.replayStop = c.archive.StopReplay(c.replaySessionID)
		c.replayDestRemove = c.sub.RemoveDestination(c.destination(RoleReplay))
		work++
	}

	if !c.replayStopped {
		_, done, err := c.replayStop.Poll()
		if err != nil {
			c.fail(fmt.Errorf("%w: stop replay: %w", ErrControlRejected, err))
			return work + 1
		}
		c.replayStopped = done
	}
	if !c.replayDestRemoved {
		_, done, err := c.replayDestRemove.Poll()
		if err != nil {
			c.fail(fmt.Errorf("%w: remove %s destination: %w", ErrControlRejected, RoleReplay, err))
			return work + 1
		}
		c.replayDestRemoved = done
	}

	if c.replayStopped && c.replayDestRemoved {
		c.caughtUp = true
		c.transition(StateMerged)
		work++
	}
	return work
}

func (c *Controller) destination(role DestinationRole) string {
	if role == RoleLive {
		return c.cfg.LiveDestination
	}
	return c.cfg.ReplayDestination
}

// replayReaches fails the merge if a bounded replay ends before target.
func (c *Controller) replayReaches(target Position) bool {
	length := c.cfg.replayLength()
	if length == NullLength {
		return true
	}
	if target-c.cfg.StartPosition > Position(length) {
		c.fail(fmt.Errorf("%w: replay of %d from %d, target %d",
			ErrReplayTooShort, length, c.cfg.StartPosition, target))
		return false
	}
	return true
}

// refreshLivePosition re-reads the oracle and fails the merge if the recorded
// stream has gone away.
func (c *Controller) refreshLivePosition() bool {
	pos, ok := c.oracle.FindLivePosition(c.cfg.SessionID)
	if !ok {
		c.fail(ErrStreamTerminated)
		return false
	}
	if pos > c.livePosition {
		c.livePosition = pos
	}
	return true
}

func (c *Controller) pollSubscription(handler FragmentHandler, limit int) int {
	c.handler = handler
	n := c.sub.Poll(c.filter, limit)
	c.handler = nil
	return n
}

// onFragment delivers a frame only when it starts exactly at the delivered
// position, whichever destination it arrived on.
func (c *Controller) onFragment(payload []byte, hdr Header) {
	switch {
	case hdr.Position <= c.position || hdr.StartPosition() < c.position:
		c.liveOverlap = c.liveOverlap || c.liveDestAdd != nil
		c.discard(metrics.DiscardDuplicate)
	case hdr.StartPosition() > c.position:
		if hdr.Position > c.aheadPosition {
			c.aheadPosition = hdr.Position
		}
		c.liveOverlap = c.liveOverlap || c.liveDestAdd != nil
		c.discard(metrics.DiscardAhead)
	default:
		c.position = hdr.Position
		if c.metrics != nil {
			c.metrics.IncDelivered()
		}
		c.handler(payload, hdr)
	}
}

func (c *Controller) discard(reason string) {
	if c.metrics != nil {
		c.metrics.IncDiscarded(reason)
	}
}

// releaseReplay makes a single best-effort attempt to stop the replay and
// detach the replay destination. Errors are logged and dropped.
func (c *Controller) releaseReplay() {
	if c.replayStop == nil {
		id := c.replaySessionID
		if id == NullReplaySessionID && c.replayStart != nil {
			if v, done, err := c.replayStart.Poll(); done && err == nil {
				id = v
			}
		}
		if id != NullReplaySessionID {
			c.replayStop = c.archive.StopReplay(id)
		}
	}
	if c.replayStop != nil && !c.replayStopped {
		_, done, err := c.replayStop.Poll()
		if err != nil {
			c.log.Debug("stop replay on close", slog.String("error", err.Error()))
		}
		c.replayStopped = done && err == nil
	}

	if c.replayDestRemove == nil && c.replayDestAdd != nil {
		attached := c.replayDestAdded
		if !attached {
			// A pending add may still land, so only a rejected add is skipped.
			_, done, err := c.replayDestAdd.Poll()
			attached = !done || err == nil
		}
		if attached {
			c.replayDestRemove = c.sub.RemoveDestination(c.destination(RoleReplay))
		}
	}
	if c.replayDestRemove != nil && !c.replayDestRemoved {
		_, done, err := c.replayDestRemove.Poll()
		if err != nil {
			c.log.Debug("remove destination on close",
				slog.String("role", RoleReplay.String()),
				slog.String("error", err.Error()))
		}
		c.replayDestRemoved = done && err == nil
	}
}

func (c *Controller) fail(err error) {
	c.err = err
	c.log.Warn("merge failed",
		slog.String("state", c.state.String()),
		slog.Int64("position", int64(c.position)),
		slog.String("error", err.Error()))
	c.transition(StateFailed)
}

func (c *Controller) transition(next State) {
	prev := c.state
	c.state = next
	c.log.Info("merge state changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
		slog.Int64("position", int64(c.position)),
		slog.Int64("live_position", int64(c.livePosition)))

	if c.metrics == nil {
		return
	}
	c.metrics.IncTransition(next.String())
	switch next {
	case StateMerged:
		c.metrics.MergeCaughtUp()
	case StateFailed:
		c.metrics.MergeFailed()
	}
	if !prev.Terminal() && next.Terminal() {
		c.metrics.MergeFinished()
	}
}
