package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 5 * time.Second
	defaultSendQueue        = 64
)

// WebSocketDialer opens gorilla websockets and posts their events through Post.
type WebSocketDialer struct {
	Post      func(fn func())
	Dialer    *websocket.Dialer
	WriteWait time.Duration
	SendQueue int
}

func NewWebSocketDialer(post func(fn func())) *WebSocketDialer {
	return &WebSocketDialer{
		Post: post,
		Dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
}

func (d *WebSocketDialer) Open(address string, h Handler) Socket {
	queue := d.SendQueue
	if queue <= 0 {
		queue = defaultSendQueue
	}
	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		post:      d.Post,
		handler:   h,
		state:     Connecting,
		out:       make(chan string, queue),
		done:      make(chan struct{}),
		cancel:    cancel,
		writeWait: writeWait,
	}
	go s.run(ctx, d.Dialer, address)
	return s
}

type wsSocket struct {
	post      func(fn func())
	handler   Handler
	writeWait time.Duration

	// state is only touched on the event context.
	state State

	out       chan string
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSocket) State() State {
	return s.state
}

func (s *wsSocket) Send(text string) error {
	if s.state != Open {
		return ErrNotOpen
	}
	select {
	case s.out <- text:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (s *wsSocket) Close() error {
	s.state = Closed
	s.cancel()
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	s.stop()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.writeWait),
	)
	return conn.Close()
}

func (s *wsSocket) stop() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *wsSocket) run(ctx context.Context, dialer *websocket.Dialer, address string) {
	conn, _, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		if ctx.Err() != nil {
			err = nil
		} else {
			err = fmt.Errorf("failed to dial: %w", err)
		}
		s.post(func() {
			s.state = Closed
			if err != nil {
				s.emitError(err)
			}
			s.emitClose(err)
		})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		s.post(func() {
			s.state = Closed
			s.emitClose(nil)
		})
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.post(func() {
		if s.state == Connecting {
			s.state = Open
			if s.handler.OnOpen != nil {
				s.handler.OnOpen()
			}
		}
	})

	go s.writePump(conn)
	err = s.readPump(conn)
	s.stop()
	_ = conn.Close()
	s.post(func() {
		s.state = Closed
		if err != nil {
			s.emitError(err)
		}
		s.emitClose(err)
	})
}

// readPump returns nil when the connection ended cleanly.
func (s *wsSocket) readPump(conn *websocket.Conn) error {
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			slog.Debug("ignoring non-text message", "type", mt)
			continue
		}
		text := string(p)
		s.post(func() {
			if s.handler.OnMessage != nil {
				s.handler.OnMessage(text)
			}
		})
	}
}

func (s *wsSocket) writePump(conn *websocket.Conn) {
	for {
		select {
		case text := <-s.out:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				slog.Error("failed to write message", "err", err)
				// Closing the conn ends readPump, which reports the close.
				_ = conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSocket) emitError(err error) {
	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
}

func (s *wsSocket) emitClose(err error) {
	if s.handler.OnClose != nil {
		s.handler.OnClose(err)
	}
}
