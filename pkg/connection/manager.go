// Package connection keeps one live transport to the relay and recovers it when it drops.
package connection

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/osdodo/lansync/pkg/eventloop"
	"github.com/osdodo/lansync/pkg/status"
	"github.com/osdodo/lansync/pkg/transport"
)

const DefaultRetryInterval = 3000 * time.Millisecond

type Notifier interface {
	Show(message string, category status.Category)
}

type Options struct {
	// WatchdogInterval is how often Start re-checks that a connection is open. Defaults to 3s.
	WatchdogInterval time.Duration
	// RetryInterval is the fixed pause between reconnection attempts after a close. Defaults to 3s.
	RetryInterval time.Duration
}

func (opt *Options) WithDefault() {
	if opt.WatchdogInterval <= 0 {
		opt.WatchdogInterval = DefaultRetryInterval
	}
	if opt.RetryInterval <= 0 {
		opt.RetryInterval = DefaultRetryInterval
	}
}

// Manager owns the current socket. All methods must run on the scheduler's execution context.
//
// Two independent mechanisms keep it connected. The watchdog started by Start retries until the
// first successful open, which also covers attempts that never produce a close. After a close,
// a reconnection timer retries until the next open.
type Manager struct {
	sched    eventloop.Scheduler
	dialer   transport.Dialer
	address  string
	notifier Notifier
	opts     Options

	socket    transport.Socket
	dialedAt  time.Time
	retry     backoff.BackOff
	reconnect eventloop.Timer
	watchdog  eventloop.Timer
	attempts  int
	onReceive func(text string)
}

func New(sched eventloop.Scheduler, dialer transport.Dialer, address string, notifier Notifier, opts *Options) *Manager {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.WithDefault()
	return &Manager{
		sched:    sched,
		dialer:   dialer,
		address:  address,
		notifier: notifier,
		opts:     o,
		retry:    backoff.NewConstantBackOff(o.RetryInterval),
	}
}

// OnReceive registers the handler every inbound payload is given to.
func (m *Manager) OnReceive(fn func(text string)) {
	m.onReceive = fn
}

func (m *Manager) State() transport.State {
	if m.socket == nil {
		return transport.Closed
	}
	return m.socket.State()
}

func (m *Manager) IsOpen() bool {
	return m.State() == transport.Open
}

// Attempts reports how many connection attempts have been started.
func (m *Manager) Attempts() int {
	return m.attempts
}

// Start connects immediately and keeps re-checking until a connection is open.
func (m *Manager) Start() {
	if m.watchdog != nil {
		m.watchdog.Stop()
	}
	m.Connect()
	m.watchdog = m.sched.AfterFunc(m.opts.WatchdogInterval, m.checkOpen)
}

func (m *Manager) checkOpen() {
	m.watchdog = nil
	if m.IsOpen() {
		return
	}
	slog.Debug("watchdog found no open connection")
	m.Start()
}

// Connect starts a new attempt. It does nothing while connected or while the current attempt
// is younger than the shortest retry interval; an older attempt still connecting is abandoned in
// favour of the new one.
func (m *Manager) Connect() {
	if prev := m.socket; prev != nil {
		switch prev.State() {
		case transport.Open:
			return
		case transport.Connecting:
			if m.sched.Now().Sub(m.dialedAt) < m.minInterval() {
				slog.Debug("connection attempt already in flight")
				return
			}
			slog.Debug("abandoning pending connection attempt")
			_ = prev.Close()
		}
	}
	m.attempts++
	slog.Info("connecting", "address", m.address, "attempt", m.attempts)

	var s transport.Socket
	s = m.dialer.Open(m.address, transport.Handler{
		OnOpen: func() {
			if s != m.socket {
				return
			}
			m.handleOpen()
		},
		OnMessage: func(text string) {
			if s != m.socket {
				return
			}
			if m.onReceive != nil {
				m.onReceive(text)
			}
		},
		OnError: func(err error) {
			if s != m.socket {
				return
			}
			slog.Error("connection error", "err", err)
			m.notifier.Show("Error", status.Error)
		},
		OnClose: func(err error) {
			if s != m.socket {
				return
			}
			m.handleClose(err)
		},
	})
	m.socket = s
	m.dialedAt = m.sched.Now()
}

func (m *Manager) minInterval() time.Duration {
	return min(m.opts.WatchdogInterval, m.opts.RetryInterval)
}

func (m *Manager) handleOpen() {
	slog.Info("connected", "address", m.address)
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.retry.Reset()
	m.notifier.Show("Connected", status.Success)
}

func (m *Manager) handleClose(err error) {
	slog.Info("disconnected", "address", m.address, "err", err)
	m.notifier.Show("Disconnected", status.Offline)
	if m.reconnect == nil {
		m.scheduleReconnect()
	}
}

func (m *Manager) scheduleReconnect() {
	delay := m.retry.NextBackOff()
	m.reconnect = m.sched.AfterFunc(delay, func() {
		m.Connect()
		// Keep ticking until an open clears the timer.
		if m.reconnect != nil {
			m.scheduleReconnect()
		}
	})
}

// Send transmits the full text. It reports false, without retrying, unless the socket is open.
func (m *Manager) Send(text string) bool {
	if !m.IsOpen() {
		return false
	}
	if err := m.socket.Send(text); err != nil {
		slog.Error("failed to send", "err", err)
		return false
	}
	return true
}

// Stop cancels every pending retry and closes the socket.
func (m *Manager) Stop() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if s := m.socket; s != nil {
		m.socket = nil
		_ = s.Close()
	}
}
