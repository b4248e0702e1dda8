// Package status implements the connection/sync status indicator shown next to the shared text.
package status

import (
	"log/slog"
	"time"

	"github.com/osdodo/lansync/pkg/eventloop"
)

const DefaultClearAfter = 1500 * time.Millisecond

type Category int

const (
	Neutral Category = iota
	Success
	Error
	// Sync stays on screen until replaced.
	Sync
	// Offline is an error that stays on screen until replaced.
	Offline
)

func (c Category) Persistent() bool {
	return c == Sync || c == Offline
}

func (c Category) String() string {
	switch c {
	case Neutral:
		return "neutral"
	case Success:
		return "success"
	case Error:
		return "error"
	case Sync:
		return "sync"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

type Status struct {
	Message  string
	Category Category
}

// Notifier holds the current status. A transient status falls back to Neutral after ClearAfter,
// keeping its text, unless a newer Show replaced it in the meantime.
type Notifier struct {
	sched      eventloop.Scheduler
	clearAfter time.Duration
	current    Status
	generation uint64
	onChange   func(Status)
}

func NewNotifier(sched eventloop.Scheduler, clearAfter time.Duration) *Notifier {
	if clearAfter <= 0 {
		clearAfter = DefaultClearAfter
	}
	return &Notifier{sched: sched, clearAfter: clearAfter}
}

// OnChange registers fn to be called with every new status.
func (n *Notifier) OnChange(fn func(Status)) {
	n.onChange = fn
}

func (n *Notifier) Current() Status {
	return n.current
}

func (n *Notifier) Show(message string, category Category) {
	n.generation++
	n.set(Status{Message: message, Category: category})
	slog.Debug("status", "message", message, "category", category)
	if category.Persistent() || category == Neutral {
		return
	}
	gen := n.generation
	n.sched.AfterFunc(n.clearAfter, func() {
		if n.generation != gen {
			return
		}
		n.set(Status{Message: n.current.Message, Category: Neutral})
	})
}

func (n *Notifier) set(s Status) {
	n.current = s
	if n.onChange != nil {
		n.onChange(s)
	}
}
