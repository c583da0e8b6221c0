package loopback

import (
	"fmt"
	"sync"

	"replay-merge/internal/merge"
)

// Publication appends frames for one session and serves them to live
// destinations attached at its endpoint.
type Publication struct {
	driver    *Driver
	channel   Channel
	streamID  int32
	sessionID merge.SessionID
	log       *termLog

	mu     sync.RWMutex
	closed bool
}

// SessionID returns the session this publication writes.
func (p *Publication) SessionID() merge.SessionID { return p.sessionID }

// StreamID returns the stream id given at creation.
func (p *Publication) StreamID() int32 { return p.streamID }

// Channel returns the channel the publication was added on.
func (p *Publication) Channel() Channel { return p.channel }

// Position returns the stream position after the last offered frame.
func (p *Publication) Position() merge.Position { return p.log.currentPosition() }

// Offer appends payload as one frame and returns the new stream position.
func (p *Publication) Offer(payload []byte) (merge.Position, error) {
	if len(payload) > MaxPayloadLength {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, ErrPublicationClosed
	}
	return p.log.append(payload), nil
}

// IsClosed reports whether Close has been called.
func (p *Publication) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close stops the publication and frees its endpoint. Closing twice is a
// no-op.
func (p *Publication) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.driver.removePublication(p)
	return nil
}
