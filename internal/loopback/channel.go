package loopback

import (
	"fmt"
	"net/url"
	"strconv"

	"replay-merge/internal/merge"
)

const channelScheme = "loop"

// Channel is a parsed loopback channel URI of the form
// loop:udp?endpoint=host:port&session-id=N.
type Channel struct {
	Media     string
	Endpoint  string
	SessionID merge.SessionID
}

// ParseChannel parses a loopback channel URI. Both endpoint and session-id
// are optional; subscription channels carry no endpoint.
func ParseChannel(uri string) (Channel, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %q: %w", ErrInvalidChannel, uri, err)
	}
	if u.Scheme != channelScheme || u.Opaque == "" {
		return Channel{}, fmt.Errorf("%w: %q: want %s:<media>?...", ErrInvalidChannel, uri, channelScheme)
	}

	q := u.Query()
	ch := Channel{Media: u.Opaque, Endpoint: q.Get("endpoint")}
	if s := q.Get("session-id"); s != "" {
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Channel{}, fmt.Errorf("%w: %q: session-id: %w", ErrInvalidChannel, uri, err)
		}
		ch.SessionID = merge.SessionID(n)
	}
	return ch, nil
}

// parseEndpointChannel parses uri and requires an endpoint.
func parseEndpointChannel(uri string) (Channel, error) {
	ch, err := ParseChannel(uri)
	if err != nil {
		return Channel{}, err
	}
	if ch.Endpoint == "" {
		return Channel{}, fmt.Errorf("%w: %q: endpoint missing", ErrInvalidChannel, uri)
	}
	return ch, nil
}

// String renders the channel back to URI form.
func (c Channel) String() string {
	q := url.Values{}
	if c.Endpoint != "" {
		q.Set("endpoint", c.Endpoint)
	}
	if c.SessionID != merge.NullSessionID {
		q.Set("session-id", strconv.Itoa(int(c.SessionID)))
	}
	media := c.Media
	if media == "" {
		media = "udp"
	}
	return channelScheme + ":" + media + "?" + q.Encode()
}
