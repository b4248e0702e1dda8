// Package relay is the server every client connects to. It keeps the latest shared text and
// rebroadcasts every update to all connected clients, the sender included.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultWriteWait = 5 * time.Second
	defaultPongWait  = time.Minute
	defaultPingEvery = 50 * time.Second
	defaultSendQueue = 16
)

type Options struct {
	// Rate limits how many updates per second one client may publish. Excess updates wait
	// rather than being dropped. 0 means unlimited.
	Rate float64
	// Burst defaults to 1 when Rate is set.
	Burst int
	// MaxMessageSize caps one update in bytes. 0 means no cap.
	MaxMessageSize int64
	// SendQueue is how many updates may wait for a slow client before it is disconnected.
	SendQueue int

	WriteWait time.Duration
	// PongWait should be larger than PingEvery.
	PongWait  time.Duration
	PingEvery time.Duration
}

func (opt *Options) WithDefault() {
	if opt.Rate > 0 && opt.Burst <= 0 {
		opt.Burst = 1
	}
	if opt.SendQueue <= 0 {
		opt.SendQueue = defaultSendQueue
	}
	if opt.WriteWait <= 0 {
		opt.WriteWait = defaultWriteWait
	}
	if opt.PongWait <= 0 {
		opt.PongWait = defaultPongWait
	}
	if opt.PingEvery <= 0 {
		opt.PingEvery = defaultPingEvery
	}
}

type Hub struct {
	broker   Broker
	opts     Options
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	done       chan struct{}
	ready      chan struct{}
	ctx        context.Context

	mu   sync.RWMutex
	text string

	connected atomic.Int64
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan string
	limiter *rate.Limiter
}

func NewHub(broker Broker, opts *Options) *Hub {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.WithDefault()
	return &Hub{
		broker: broker,
		opts:   o,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any page on the LAN may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

// Text returns the latest shared text.
func (h *Hub) Text() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.text
}

// Clients reports how many clients the hub is currently relaying to.
func (h *Hub) Clients() int {
	return int(h.connected.Load())
}

// Ready is closed once Run has subscribed to the broker.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run tracks clients and relays broker messages to them until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	updates, err := h.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	h.ctx = ctx
	close(h.ready)

	clients := make(map[*client]struct{})
	defer func() {
		for c := range clients {
			close(c.send)
		}
		h.connected.Store(0)
	}()
	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
			h.connected.Store(int64(len(clients)))
			// The new client starts from the current text.
			c.send <- h.Text()
			slog.Info("client registered", "client", c.id, "clients", len(clients))
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.connected.Store(int64(len(clients)))
				slog.Info("client unregistered", "client", c.id, "clients", len(clients))
			}
		case text, ok := <-updates:
			if !ok {
				// The broker closes subscriptions when ctx ends too.
				if ctx.Err() != nil {
					return nil
				}
				return ErrBrokerClosed
			}
			h.mu.Lock()
			h.text = text
			h.mu.Unlock()
			for c := range clients {
				select {
				case c.send <- text:
				default:
					slog.Info("client too slow, disconnecting", "client", c.id)
					delete(clients, c)
					close(c.send)
					h.connected.Store(int64(len(clients)))
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.ready:
	default:
		http.Error(w, "relay not ready", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan string, h.opts.SendQueue),
	}
	if h.opts.Rate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.Rate), h.opts.Burst)
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	if h.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(h.opts.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	for {
		mt, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("client read failed", "client", c.id, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(h.ctx); err != nil {
				return
			}
		}
		if err := h.broker.Publish(h.ctx, string(p)); err != nil {
			slog.Error("failed to publish", "client", c.id, "err", err)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.opts.PingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case text, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				slog.Error("failed to write to client", "client", c.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
