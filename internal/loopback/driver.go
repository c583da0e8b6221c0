package loopback

import (
	"fmt"
	"log/slog"
	"sync"

	"replay-merge/internal/merge"
)

// Driver is an in-process stand-in for a media driver. It routes frames from
// publications and replay sessions to subscriptions by endpoint.
type Driver struct {
	mu            sync.RWMutex
	publications  map[string]*Publication
	sessions      map[merge.SessionID]*Publication
	replays       map[string]*replaySession
	nextSessionID merge.SessionID

	responseDelay int
	log           *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithResponseDelay makes every control response report done only after it
// has been polled n times.
func WithResponseDelay(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.responseDelay = n
		}
	}
}

// WithLogger sets the logger for driver events.
func WithLogger(log *slog.Logger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDriver returns an empty driver.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		publications:  make(map[string]*Publication),
		sessions:      make(map[merge.SessionID]*Publication),
		replays:       make(map[string]*replaySession),
		nextSessionID: 1,
		log:           slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddPublication creates a publication on the channel's endpoint. The session
// comes from the channel's session-id or is allocated by the driver.
func (d *Driver) AddPublication(channel string, streamID int32) (*Publication, error) {
	ch, err := parseEndpointChannel(channel)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.publications[ch.Endpoint]; ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointInUse, ch.Endpoint)
	}
	sessionID := ch.SessionID
	if sessionID == merge.NullSessionID {
		for d.sessions[d.nextSessionID] != nil || d.nextSessionID == merge.NullSessionID {
			d.nextSessionID++
		}
		sessionID = d.nextSessionID
		d.nextSessionID++
	} else if _, ok := d.sessions[sessionID]; ok {
		return nil, fmt.Errorf("%w: session %d", ErrEndpointInUse, sessionID)
	}

	pub := &Publication{
		driver:    d,
		channel:   ch,
		streamID:  streamID,
		sessionID: sessionID,
		log:       newTermLog(sessionID),
	}
	d.publications[ch.Endpoint] = pub
	d.sessions[sessionID] = pub

	d.log.Debug("publication added",
		slog.String("endpoint", ch.Endpoint),
		slog.Int("session_id", int(sessionID)),
		slog.Int("stream_id", int(streamID)))
	return pub, nil
}

// AddSubscription creates a multi-destination subscription. A session-id on
// the channel restricts it to that session.
func (d *Driver) AddSubscription(channel string) (*Subscription, error) {
	ch, err := ParseChannel(channel)
	if err != nil {
		return nil, err
	}
	return &Subscription{
		driver:       d,
		sessionID:    ch.SessionID,
		destinations: make(map[string]*destination),
	}, nil
}

func (d *Driver) publicationAt(endpoint string) *Publication {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.publications[endpoint]
}

func (d *Driver) publicationFor(sessionID merge.SessionID) *Publication {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[sessionID]
}

func (d *Driver) replayAt(endpoint string) *replaySession {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.replays[endpoint]
}

func (d *Driver) removePublication(pub *Publication) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.publications[pub.channel.Endpoint] == pub {
		delete(d.publications, pub.channel.Endpoint)
	}
	// The session stays resolvable so recordings can still be replayed.
	d.log.Debug("publication closed",
		slog.String("endpoint", pub.channel.Endpoint),
		slog.Int("session_id", int(pub.sessionID)))
}

func (d *Driver) addReplay(rs *replaySession) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.replays[rs.endpoint]; ok {
		return fmt.Errorf("%w: %s", ErrEndpointInUse, rs.endpoint)
	}
	if _, ok := d.publications[rs.endpoint]; ok {
		return fmt.Errorf("%w: %s", ErrEndpointInUse, rs.endpoint)
	}
	d.replays[rs.endpoint] = rs
	return nil
}

func (d *Driver) removeReplay(rs *replaySession) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.replays[rs.endpoint] == rs {
		delete(d.replays, rs.endpoint)
	}
}
