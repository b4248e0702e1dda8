// Package looptest provides a virtual-time eventloop.Scheduler for tests.
package looptest

import (
	"sort"
	"time"

	"github.com/osdodo/lansync/pkg/eventloop"
)

// Epoch is the virtual time a new Scheduler starts at.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Scheduler only moves time when Advance is called. Timers fire in deadline order,
// ties broken by the order they were scheduled.
type Scheduler struct {
	now     time.Time
	seq     int
	timers  []*timer
	pending []func()
}

type timer struct {
	at   time.Time
	seq  int
	fn   func()
	done bool
}

func New() *Scheduler {
	return &Scheduler{now: Epoch}
}

func (s *Scheduler) Now() time.Time {
	return s.now
}

// Post queues fn until the next RunPending or Advance.
func (s *Scheduler) Post(fn func()) {
	s.pending = append(s.pending, fn)
}

func (s *Scheduler) AfterFunc(d time.Duration, fn func()) eventloop.Timer {
	s.seq++
	t := &timer{at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (t *timer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}

// RunPending runs posted functions, including any they post.
func (s *Scheduler) RunPending() {
	for len(s.pending) > 0 {
		fn := s.pending[0]
		s.pending = s.pending[1:]
		fn()
	}
}

// Advance moves virtual time forward by d, firing every timer due on the way.
func (s *Scheduler) Advance(d time.Duration) {
	target := s.now.Add(d)
	s.RunPending()
	for {
		next := s.next(target)
		if next == nil {
			break
		}
		s.now = next.at
		next.done = true
		next.fn()
		s.RunPending()
	}
	s.now = target
}

// Pending reports how many timers are still waiting to fire.
func (s *Scheduler) Pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.done {
			n++
		}
	}
	return n
}

func (s *Scheduler) next(limit time.Time) *timer {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].at.Equal(s.timers[j].at) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].at.Before(s.timers[j].at)
	})
	if len(s.timers) == 0 || s.timers[0].at.After(limit) {
		return nil
	}
	return s.timers[0]
}
