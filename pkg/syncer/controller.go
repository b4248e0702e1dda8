// Package syncer decides when local edits to the shared text go out and when remote
// updates are allowed to replace it.
package syncer

import (
	"log/slog"
	"time"

	"github.com/osdodo/lansync/pkg/eventloop"
	"github.com/osdodo/lansync/pkg/status"
)

const (
	DefaultDebounce   = 300 * time.Millisecond
	DefaultPasteDelay = 100 * time.Millisecond
	DefaultSuppress   = 1000 * time.Millisecond
)

// Field is the editable text the controller mirrors the shared text into.
type Field interface {
	Value() string
	SetValue(text string)
}

type Sender interface {
	IsOpen() bool
	Send(text string) bool
}

type Notifier interface {
	Show(message string, category status.Category)
}

type Options struct {
	// Debounce is the quiet period after the last input before the text is sent.
	Debounce time.Duration
	// PasteDelay is how soon a paste is sent.
	PasteDelay time.Duration
	// Suppress is how long after a local send inbound updates are ignored.
	Suppress time.Duration
}

func (opt *Options) WithDefault() {
	if opt.Debounce <= 0 {
		opt.Debounce = DefaultDebounce
	}
	if opt.PasteDelay <= 0 {
		opt.PasteDelay = DefaultPasteDelay
	}
	if opt.Suppress <= 0 {
		opt.Suppress = DefaultSuppress
	}
}

// Controller must only be used from the scheduler's execution context.
type Controller struct {
	sched    eventloop.Scheduler
	field    Field
	sender   Sender
	notifier Notifier
	opts     Options

	composing bool
	lastSend  time.Time
	// At most one debounced send is ever pending.
	pending eventloop.Timer
	paste   eventloop.Timer
}

func New(sched eventloop.Scheduler, field Field, sender Sender, notifier Notifier, opts *Options) *Controller {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.WithDefault()
	return &Controller{
		sched:    sched,
		field:    field,
		sender:   sender,
		notifier: notifier,
		opts:     o,
	}
}

func (c *Controller) Composing() bool {
	return c.composing
}

// LastSend is when the text was last sent, or marked as sent by a paste.
func (c *Controller) LastSend() time.Time {
	return c.lastSend
}

func (c *Controller) Input() {
	if c.composing {
		return
	}
	c.scheduleSend()
}

// CompositionStart holds back every send until CompositionEnd.
func (c *Controller) CompositionStart() {
	c.composing = true
	c.cancelPending()
}

func (c *Controller) CompositionEnd() {
	c.composing = false
	c.scheduleSend()
}

// Paste marks the text as just sent, so an echo racing the paste is dropped, and sends shortly.
func (c *Controller) Paste() {
	c.lastSend = c.sched.Now()
	if c.paste != nil {
		c.paste.Stop()
	}
	c.paste = c.sched.AfterFunc(c.opts.PasteDelay, func() {
		c.paste = nil
		c.send()
	})
}

// Blur sends right away so nothing is lost when the user leaves the field.
func (c *Controller) Blur() {
	if c.composing {
		return
	}
	c.cancelPending()
	c.send()
}

// Receive applies a remote value unless it matches the field or a local send is too recent.
func (c *Controller) Receive(text string) {
	if text == c.field.Value() {
		return
	}
	if since := c.sched.Now().Sub(c.lastSend); since < c.opts.Suppress {
		slog.Debug("suppressed remote update", "since_send", since)
		return
	}
	c.field.SetValue(text)
}

// Stop drops any pending sends.
func (c *Controller) Stop() {
	c.cancelPending()
	if c.paste != nil {
		c.paste.Stop()
		c.paste = nil
	}
}

func (c *Controller) scheduleSend() {
	c.cancelPending()
	c.pending = c.sched.AfterFunc(c.opts.Debounce, func() {
		c.pending = nil
		c.send()
	})
}

func (c *Controller) cancelPending() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *Controller) send() {
	if c.composing {
		return
	}
	if !c.sender.IsOpen() {
		slog.Debug("not connected, dropping send")
		return
	}
	if !c.sender.Send(c.field.Value()) {
		return
	}
	c.lastSend = c.sched.Now()
	c.notifier.Show("Synced", status.Success)
}
