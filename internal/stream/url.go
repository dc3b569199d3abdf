package stream

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultEventsPath is where the upstream API serves the event stream.
const DefaultEventsPath = "/ws/events"

// EventsURL derives the streaming address from an HTTP(S) base address by
// swapping the scheme for its WebSocket equivalent and appending path.
func EventsURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}

	if path == "" {
		path = DefaultEventsPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}
