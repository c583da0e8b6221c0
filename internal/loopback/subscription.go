package loopback

import (
	"fmt"
	"log/slog"
	"sync"

	"replay-merge/internal/merge"
)

// Subscription implements merge.Subscription. Each destination is an
// endpoint; a publication's endpoint yields its live stream from the moment
// the destination is added, a replay endpoint yields whatever replay is
// currently streaming to it. Frames are not deduplicated.
type Subscription struct {
	driver    *Driver
	sessionID merge.SessionID

	mu           sync.Mutex
	destinations map[string]*destination
	order        []string
	next         int
	reject       error
}

type destination struct {
	uri      string
	endpoint string
	joined   bool
	cursor   merge.Position
}

// AddDestination implements merge.Subscription.AddDestination. The result
// carries the live join position, or 0 for an endpoint with no publication.
func (s *Subscription) AddDestination(uri string) merge.Result[merge.Position] {
	join, err := s.addDestination(uri)
	return newPending(s.driver.responseDelay, join, err)
}

// RemoveDestination implements merge.Subscription.RemoveDestination.
func (s *Subscription) RemoveDestination(uri string) merge.Result[struct{}] {
	err := s.removeDestination(uri)
	return newPending(s.driver.responseDelay, struct{}{}, err)
}

// RejectNext makes the next AddDestination or RemoveDestination fail with err.
func (s *Subscription) RejectNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = err
}

// Destinations returns the URIs currently attached, in the order added.
func (s *Subscription) Destinations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Poll implements merge.Subscription.Poll. Destinations take turns going
// first so none of them starves.
func (s *Subscription) Poll(handler merge.FragmentHandler, limit int) int {
	frames := s.collect(limit)
	for _, f := range frames {
		handler(f.payload, f.header())
	}
	return len(frames)
}

func (s *Subscription) collect(limit int) []frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	if n == 0 || limit <= 0 {
		return nil
	}
	var out []frame
	for i := 0; i < n && len(out) < limit; i++ {
		d := s.destinations[s.order[(s.next+i)%n]]
		out = append(out, s.readLocked(d, limit-len(out))...)
	}
	s.next = (s.next + 1) % n
	return out
}

func (s *Subscription) readLocked(d *destination, maxFrames int) []frame {
	var frames []frame
	if pub := s.driver.publicationAt(d.endpoint); pub != nil {
		if !d.joined {
			d.cursor = pub.Position()
			d.joined = true
		}
		frames = pub.log.read(d.cursor, NullPosition, maxFrames)
		if n := len(frames); n > 0 {
			d.cursor = frames[n-1].position
		}
	} else if rs := s.driver.replayAt(d.endpoint); rs != nil {
		frames = rs.read(maxFrames)
	}

	if s.sessionID == merge.NullSessionID {
		return frames
	}
	kept := frames[:0]
	for _, f := range frames {
		if f.sessionID == s.sessionID {
			kept = append(kept, f)
		}
	}
	return kept
}

func (s *Subscription) addDestination(uri string) (merge.Position, error) {
	ch, err := parseEndpointChannel(uri)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reject; err != nil {
		s.reject = nil
		return 0, err
	}
	if _, ok := s.destinations[uri]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDestinationExists, uri)
	}

	d := &destination{uri: uri, endpoint: ch.Endpoint}
	if pub := s.driver.publicationAt(ch.Endpoint); pub != nil {
		d.cursor = pub.Position()
		d.joined = true
	}
	s.destinations[uri] = d
	s.order = append(s.order, uri)

	s.driver.log.Debug("destination added",
		slog.String("uri", uri),
		slog.Bool("live", d.joined),
		slog.Int64("join_position", int64(d.cursor)))
	return d.cursor, nil
}

func (s *Subscription) removeDestination(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reject; err != nil {
		s.reject = nil
		return err
	}
	if _, ok := s.destinations[uri]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, uri)
	}
	delete(s.destinations, uri)
	for i, u := range s.order {
		if u == uri {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.next >= len(s.order) {
		s.next = 0
	}

	s.driver.log.Debug("destination removed", slog.String("uri", uri))
	return nil
}
