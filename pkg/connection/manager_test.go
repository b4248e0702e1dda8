package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osdodo/lansync/pkg/eventloop/looptest"
	"github.com/osdodo/lansync/pkg/status"
	"github.com/osdodo/lansync/pkg/transport"
)

type fakeSocket struct {
	address string
	h       transport.Handler
	state   transport.State
	sent    []string
	closed  bool
}

func (s *fakeSocket) State() transport.State { return s.state }

func (s *fakeSocket) Send(text string) error {
	if s.state != transport.Open {
		return transport.ErrNotOpen
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSocket) Close() error {
	s.closed = true
	s.state = transport.Closed
	return nil
}

func (s *fakeSocket) open() {
	s.state = transport.Open
	s.h.OnOpen()
}

func (s *fakeSocket) fail(err error) {
	s.state = transport.Closed
	s.h.OnError(err)
	s.h.OnClose(err)
}

func (s *fakeSocket) receive(text string) {
	s.h.OnMessage(text)
}

type fakeDialer struct {
	sockets []*fakeSocket
}

func (d *fakeDialer) Open(address string, h transport.Handler) transport.Socket {
	s := &fakeSocket{address: address, h: h, state: transport.Connecting}
	d.sockets = append(d.sockets, s)
	return s
}

func (d *fakeDialer) last() *fakeSocket {
	return d.sockets[len(d.sockets)-1]
}

type recordingNotifier struct {
	shown []status.Status
}

func (n *recordingNotifier) Show(message string, category status.Category) {
	n.shown = append(n.shown, status.Status{Message: message, Category: category})
}

func (n *recordingNotifier) last() status.Status {
	return n.shown[len(n.shown)-1]
}

func newManager() (*Manager, *looptest.Scheduler, *fakeDialer, *recordingNotifier) {
	s := looptest.New()
	d := &fakeDialer{}
	n := &recordingNotifier{}
	return New(s, d, "ws://relay/ws", n, nil), s, d, n
}

func TestStartConnectsImmediately(t *testing.T) {
	m, _, d, _ := newManager()
	m.Start()
	require.Len(t, d.sockets, 1)
	assert.Equal(t, "ws://relay/ws", d.sockets[0].address)
	assert.Equal(t, transport.Connecting, m.State())
}

func TestOpenReportsConnected(t *testing.T) {
	m, _, d, n := newManager()
	m.Start()
	d.last().open()
	assert.True(t, m.IsOpen())
	assert.Equal(t, status.Status{Message: "Connected", Category: status.Success}, n.last())
}

func TestWatchdogRetriesAttemptThatNeverCloses(t *testing.T) {
	m, s, d, _ := newManager()
	m.Start()
	// The first attempt hangs: no open, no close.
	s.Advance(2999 * time.Millisecond)
	assert.Len(t, d.sockets, 1)
	s.Advance(time.Millisecond)
	require.Len(t, d.sockets, 2)
	assert.True(t, d.sockets[0].closed, "superseded attempt is abandoned")

	for i := 0; i < 10; i++ {
		s.Advance(DefaultRetryInterval)
	}
	assert.Len(t, d.sockets, 12)
	assert.Equal(t, 12, m.Attempts())
}

func TestNoAutomaticAttemptsWhileOpen(t *testing.T) {
	m, s, d, _ := newManager()
	m.Start()
	s.Advance(DefaultRetryInterval)
	d.last().open()
	s.Advance(time.Hour)
	assert.Len(t, d.sockets, 2)
	assert.Zero(t, s.Pending())
}

func TestCloseSchedulesFixedIntervalReconnect(t *testing.T) {
	m, s, d, n := newManager()
	m.Start()
	d.last().open()
	s.Advance(10 * time.Second)

	d.last().fail(errors.New("network down"))
	assert.Equal(t, status.Status{Message: "Disconnected", Category: status.Offline}, n.last())
	assert.Equal(t, status.Error, n.shown[len(n.shown)-2].Category)
	assert.Len(t, d.sockets, 1)

	s.Advance(DefaultRetryInterval)
	require.Len(t, d.sockets, 2)
	s.Advance(DefaultRetryInterval)
	require.Len(t, d.sockets, 3)

	d.last().open()
	assert.True(t, m.IsOpen())
	s.Advance(time.Minute)
	assert.Len(t, d.sockets, 3)
	assert.Zero(t, s.Pending())
}

func TestRepeatedClosesKeepOneReconnectTimer(t *testing.T) {
	m, s, d, _ := newManager()
	m.Start()
	d.last().fail(errors.New("refused"))
	s.Advance(DefaultRetryInterval)
	// Watchdog and reconnect timer fire together; the second finds a fresh attempt and waits.
	require.Len(t, d.sockets, 2)
	assert.False(t, d.sockets[1].closed)
	d.last().fail(errors.New("refused"))
	assert.Equal(t, 2, s.Pending(), "one watchdog and one reconnect timer")

	s.Advance(DefaultRetryInterval)
	assert.Len(t, d.sockets, 3)
	assert.Equal(t, 3, m.Attempts())
}

func TestFreshAttemptIsNotDuplicated(t *testing.T) {
	m, s, d, _ := newManager()
	m.Start()
	m.Connect()
	s.Advance(DefaultRetryInterval - time.Millisecond)
	m.Connect()
	assert.Len(t, d.sockets, 1)
	assert.False(t, d.sockets[0].closed)
}

func TestRetryIntervalIsFixed(t *testing.T) {
	s := looptest.New()
	d := &fakeDialer{}
	m := New(s, d, "ws://relay/ws", &recordingNotifier{}, &Options{RetryInterval: time.Second})
	m.Start()
	d.last().open()
	s.Advance(10 * time.Second)
	d.last().fail(errors.New("reset"))

	for i := 0; i < 5; i++ {
		s.Advance(999 * time.Millisecond)
		assert.Len(t, d.sockets, 1+i)
		s.Advance(time.Millisecond)
		assert.Len(t, d.sockets, 2+i)
	}
}

func TestErrorDoesNotReconnectByItself(t *testing.T) {
	m, s, d, n := newManager()
	m.Start()
	d.last().open()
	d.last().h.OnError(errors.New("boom"))
	assert.Equal(t, status.Error, n.last().Category)
	s.Advance(time.Minute)
	assert.Len(t, d.sockets, 1)
}

func TestStaleSocketCallbacksIgnored(t *testing.T) {
	m, s, d, n := newManager()
	m.Start()
	stale := d.last()
	s.Advance(DefaultRetryInterval)
	current := d.last()
	require.NotSame(t, stale, current)

	var got []string
	m.OnReceive(func(text string) { got = append(got, text) })
	shown := len(n.shown)

	stale.h.OnOpen()
	stale.h.OnMessage("old")
	stale.h.OnClose(nil)
	assert.Len(t, n.shown, shown)
	assert.Empty(t, got)
	assert.False(t, m.IsOpen())

	current.open()
	current.receive("new")
	assert.Equal(t, []string{"new"}, got)
}

func TestConnectWhileOpenIsNoop(t *testing.T) {
	m, _, d, _ := newManager()
	m.Start()
	d.last().open()
	m.Connect()
	assert.Len(t, d.sockets, 1)
}

func TestReceiveIsUnfiltered(t *testing.T) {
	m, _, d, _ := newManager()
	var got []string
	m.OnReceive(func(text string) { got = append(got, text) })
	m.Start()
	d.last().open()
	d.last().receive("a")
	d.last().receive("a")
	d.last().receive("")
	assert.Equal(t, []string{"a", "a", ""}, got)
}

func TestSendOnlyWhenOpen(t *testing.T) {
	m, _, d, _ := newManager()
	assert.False(t, m.Send("nobody"))
	m.Start()
	assert.False(t, m.Send("connecting"))
	d.last().open()
	assert.True(t, m.Send("hello"))
	assert.Equal(t, []string{"hello"}, d.last().sent)
}

func TestStopCancelsEverything(t *testing.T) {
	m, s, d, _ := newManager()
	m.Start()
	d.last().fail(errors.New("refused"))
	m.Stop()
	assert.True(t, d.last().closed)
	s.Advance(time.Minute)
	assert.Len(t, d.sockets, 1)
}
