package loopback

import (
	"sort"
	"sync"

	"replay-merge/internal/merge"
)

const (
	// HeaderLength is the framing overhead of every frame.
	HeaderLength = 32
	// FrameAlignment is the boundary every frame is padded to.
	FrameAlignment = 32
	// MaxPayloadLength caps a single frame's payload.
	MaxPayloadLength = 64*1024 - HeaderLength
)

// AlignedLength returns the stream length of a frame carrying n payload bytes.
func AlignedLength(n int) int {
	return (HeaderLength + n + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

type frame struct {
	sessionID merge.SessionID
	payload   []byte
	position  merge.Position
	length    int32
}

func (f frame) start() merge.Position {
	return f.position - merge.Position(f.length)
}

func (f frame) header() merge.Header {
	return merge.Header{SessionID: f.sessionID, Position: f.position, FrameLength: f.length}
}

// termLog is the append-only frame log shared by a publication and the
// recording of it.
type termLog struct {
	mu        sync.RWMutex
	sessionID merge.SessionID
	frames    []frame
	position  merge.Position
}

func newTermLog(sessionID merge.SessionID) *termLog {
	return &termLog{sessionID: sessionID}
}

func (l *termLog) append(payload []byte) merge.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	length := int32(AlignedLength(len(payload)))
	l.position += merge.Position(length)
	l.frames = append(l.frames, frame{
		sessionID: l.sessionID,
		payload:   append([]byte(nil), payload...),
		position:  l.position,
		length:    length,
	})
	return l.position
}

func (l *termLog) currentPosition() merge.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.position
}

// aligned reports whether pos falls on a frame boundary of the log.
func (l *termLog) aligned(pos merge.Position) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if pos == 0 || pos == l.position {
		return true
	}
	i := sort.Search(len(l.frames), func(i int) bool { return l.frames[i].position >= pos })
	return i < len(l.frames) && l.frames[i].position == pos
}

// read returns up to maxFrames frames starting at from and ending at or before
// limit. A negative limit means no limit.
func (l *termLog) read(from, limit merge.Position, maxFrames int) []frame {
	if maxFrames <= 0 {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	i := sort.Search(len(l.frames), func(i int) bool { return l.frames[i].start() >= from })
	out := make([]frame, 0, maxFrames)
	for ; i < len(l.frames) && len(out) < maxFrames; i++ {
		if limit >= 0 && l.frames[i].position > limit {
			break
		}
		out = append(out, l.frames[i])
	}
	return out
}
