package loopback

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"replay-merge/internal/merge"
)

// NullPosition marks a recording that is still being written.
const NullPosition merge.Position = -1

// Recording describes a recorded session. Frames are shared with the
// publication that produced them.
type Recording struct {
	ID            merge.RecordingID
	SessionID     merge.SessionID
	StreamID      int32
	StartPosition merge.Position
	// StopPosition is NullPosition until the recording is stopped.
	StopPosition merge.Position

	log *termLog
	pub *Publication
}

// Active reports whether the recording is still following its publication.
func (r *Recording) Active() bool {
	return r.StopPosition == NullPosition && !r.pub.IsClosed()
}

// Position returns how far the session has been recorded.
func (r *Recording) Position() merge.Position {
	if r.StopPosition != NullPosition {
		return r.StopPosition
	}
	return r.log.currentPosition()
}

// Archive records publications and replays them onto endpoints. It also
// serves as the position oracle for recorded sessions.
type Archive struct {
	driver *Driver

	mu              sync.RWMutex
	store           RecordingStore
	nextRecordingID merge.RecordingID
	replays         map[merge.ReplaySessionID]*replaySession
	nextReplayID    merge.ReplaySessionID
	rejectReplay    error
}

// NewArchive returns an archive backed by an in-memory store.
func NewArchive(d *Driver) *Archive {
	return NewArchiveWithStore(d, NewInMemoryStore())
}

// NewArchiveWithStore returns an archive that keeps descriptors in store.
func NewArchiveWithStore(d *Driver, store RecordingStore) *Archive {
	return &Archive{
		driver:  d,
		store:   store,
		replays: make(map[merge.ReplaySessionID]*replaySession),
	}
}

// StartRecording begins recording the session's publication from its current
// position.
func (a *Archive) StartRecording(sessionID merge.SessionID) (merge.RecordingID, error) {
	pub := a.driver.publicationFor(sessionID)
	if pub == nil || pub.IsClosed() {
		return merge.NullRecordingID, fmt.Errorf("%w: %d", ErrUnknownSession, sessionID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.activeRecordingLocked(sessionID); ok {
		return merge.NullRecordingID, fmt.Errorf("%w: %d", ErrRecordingActive, sessionID)
	}

	rec := &Recording{
		ID:            a.nextRecordingID,
		SessionID:     sessionID,
		StreamID:      pub.streamID,
		StartPosition: pub.Position(),
		StopPosition:  NullPosition,
		log:           pub.log,
		pub:           pub,
	}
	if err := a.store.SetRecording(rec); err != nil {
		return merge.NullRecordingID, fmt.Errorf("store recording: %w", err)
	}
	a.nextRecordingID++

	a.driver.log.Debug("recording started",
		slog.Int64("recording_id", int64(rec.ID)),
		slog.Int("session_id", int(sessionID)),
		slog.Int64("start_position", int64(rec.StartPosition)))
	return rec.ID, nil
}

// StopRecording freezes the recording at its current position. Stopping a
// stopped recording is a no-op.
func (a *Archive) StopRecording(id merge.RecordingID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.store.GetRecording(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRecording, id)
	}
	if rec.StopPosition != NullPosition {
		return nil
	}
	stopped := *rec
	stopped.StopPosition = rec.log.currentPosition()
	if err := a.store.SetRecording(&stopped); err != nil {
		return fmt.Errorf("store recording: %w", err)
	}

	a.driver.log.Debug("recording stopped",
		slog.Int64("recording_id", int64(id)),
		slog.Int64("stop_position", int64(stopped.StopPosition)))
	return nil
}

// Recording returns a snapshot of the recording descriptor.
func (a *Archive) Recording(id merge.RecordingID) (Recording, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.store.GetRecording(id)
	if !ok {
		return Recording{}, false
	}
	return *rec, true
}

// FindRecording returns the active recording of a session.
func (a *Archive) FindRecording(sessionID merge.SessionID) (merge.RecordingID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.activeRecordingLocked(sessionID)
	if !ok {
		return merge.NullRecordingID, false
	}
	return rec.ID, true
}

// FindLivePosition implements merge.PositionOracle. It reports the recorded
// position of the session's active recording.
func (a *Archive) FindLivePosition(sessionID merge.SessionID) (merge.Position, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.activeRecordingLocked(sessionID)
	if !ok {
		return 0, false
	}
	return rec.log.currentPosition(), true
}

// ActiveReplayCount returns the number of replays that have not been stopped.
func (a *Archive) ActiveReplayCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.replays)
}

// RejectNextReplay makes the next StartReplay fail with err.
func (a *Archive) RejectNextReplay(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejectReplay = err
}

// Client returns a control client for this archive.
func (a *Archive) Client() *Client {
	return &Client{archive: a}
}

// activeRecordingLocked returns the newest active recording of a session.
// Caller must hold a.mu.
func (a *Archive) activeRecordingLocked(sessionID merge.SessionID) (*Recording, bool) {
	var found *Recording
	for _, id := range a.store.ListRecordingIDs() {
		rec, ok := a.store.GetRecording(id)
		if !ok || rec.SessionID != sessionID || !rec.Active() {
			continue
		}
		if found == nil || rec.ID > found.ID {
			found = rec
		}
	}
	return found, found != nil
}

func (a *Archive) recordedPosition(id merge.RecordingID) merge.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.store.GetRecording(id)
	if !ok {
		return 0
	}
	return rec.Position()
}

func (a *Archive) startReplay(recordingID merge.RecordingID, position merge.Position, length int64, replayChannel string) (merge.ReplaySessionID, error) {
	ch, err := parseEndpointChannel(replayChannel)
	if err != nil {
		return merge.NullReplaySessionID, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rejectReplay; err != nil {
		a.rejectReplay = nil
		return merge.NullReplaySessionID, err
	}

	rec, ok := a.store.GetRecording(recordingID)
	if !ok {
		return merge.NullReplaySessionID, fmt.Errorf("%w: %d", ErrUnknownRecording, recordingID)
	}
	if position < rec.StartPosition || position > rec.Position() || !rec.log.aligned(position) {
		return merge.NullReplaySessionID, fmt.Errorf("%w: %d not in [%d, %d]",
			ErrPositionOutOfRange, position, rec.StartPosition, rec.Position())
	}

	limit := NullPosition
	if length != merge.NullLength {
		limit = merge.Position(math.MaxInt64)
		if merge.Position(length) < limit-position {
			limit = position + merge.Position(length)
		}
	}
	rs := &replaySession{
		id:          a.nextReplayID,
		recordingID: recordingID,
		endpoint:    ch.Endpoint,
		log:         rec.log,
		recorded:    a.recordedPosition,
		position:    position,
		limit:       limit,
	}
	if err := a.driver.addReplay(rs); err != nil {
		return merge.NullReplaySessionID, err
	}
	a.nextReplayID++
	a.replays[rs.id] = rs

	a.driver.log.Debug("replay started",
		slog.Int64("replay_session_id", int64(rs.id)),
		slog.Int64("recording_id", int64(recordingID)),
		slog.String("endpoint", rs.endpoint),
		slog.Int64("position", int64(position)),
		slog.Int64("length", length))
	return rs.id, nil
}

func (a *Archive) stopReplay(id merge.ReplaySessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rs, ok := a.replays[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownReplaySession, id)
	}
	delete(a.replays, id)
	rs.stop()
	a.driver.removeReplay(rs)

	a.driver.log.Debug("replay stopped", slog.Int64("replay_session_id", int64(id)))
	return nil
}

// Client implements merge.ArchiveClient against an Archive.
type Client struct {
	archive *Archive
}

// StartReplay implements merge.ArchiveClient.StartReplay.
func (c *Client) StartReplay(recordingID merge.RecordingID, position merge.Position, length int64, replayChannel string) merge.Result[merge.ReplaySessionID] {
	id, err := c.archive.startReplay(recordingID, position, length, replayChannel)
	return newPending(c.archive.driver.responseDelay, id, err)
}

// StopReplay implements merge.ArchiveClient.StopReplay.
func (c *Client) StopReplay(id merge.ReplaySessionID) merge.Result[struct{}] {
	err := c.archive.stopReplay(id)
	return newPending(c.archive.driver.responseDelay, struct{}{}, err)
}

// replaySession streams a recording onto an endpoint from a start position,
// up to limit or, when limit is NullPosition, as far as the recording goes.
type replaySession struct {
	id          merge.ReplaySessionID
	recordingID merge.RecordingID
	endpoint    string
	log         *termLog
	recorded    func(merge.RecordingID) merge.Position

	mu       sync.Mutex
	position merge.Position
	limit    merge.Position
	stopped  bool
}

func (rs *replaySession) read(maxFrames int) []frame {
	limit := rs.recorded(rs.recordingID)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.stopped {
		return nil
	}
	if rs.limit != NullPosition && rs.limit < limit {
		limit = rs.limit
	}
	frames := rs.log.read(rs.position, limit, maxFrames)
	if n := len(frames); n > 0 {
		rs.position = frames[n-1].position
	}
	return frames
}

func (rs *replaySession) stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.stopped = true
}
