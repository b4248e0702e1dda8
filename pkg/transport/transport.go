// Package transport exposes a websocket with the event model a browser gives a page:
// a non-blocking open, and open/message/error/close callbacks delivered on the caller's
// execution context.
package transport

import (
	"fmt"
	"net/url"
)

// SyncPath is where the relay serves its websocket endpoint.
const SyncPath = "/ws"

type State int

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives socket events. Nil fields are skipped.
type Handler struct {
	OnOpen    func()
	OnMessage func(text string)
	OnError   func(err error)
	OnClose   func(err error)
}

// Socket is one transport attempt. State and Send must be called on the execution context
// the socket delivers its events on.
type Socket interface {
	State() State
	// Send queues text as a single text message.
	Send(text string) error
	Close() error
}

// Dialer starts connection attempts without blocking.
type Dialer interface {
	Open(address string, h Handler) Socket
}

// Address derives the websocket address from the base url the client was pointed at,
// upgrading to wss when the base is https.
func Address(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrUnsupportedURL, base)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: SyncPath}).String(), nil
}
