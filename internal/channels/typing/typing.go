// Package typing drives a channel's "typing..." indicator while a turn is
// in flight. Most chat platforms expire the indicator after a few seconds,
// so it must be re-sent on an interval for as long as the agent is working,
// and stopped either when the turn finishes or after a hard TTL so a stuck
// goroutine can't leave the indicator on forever.
package typing

import (
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration is the hard TTL after which the controller stops itself
	// even if Stop was never called.
	MaxDuration time.Duration
	// KeepaliveInterval is how often StartFn is re-invoked to refresh the
	// platform's typing indicator before it expires.
	KeepaliveInterval time.Duration
	// StartFn sends one typing-indicator event. Called immediately on
	// Start and then every KeepaliveInterval until Stop.
	StartFn func() error
}

// Controller drives a single typing-indicator session.
type Controller struct {
	opts Options

	once    sync.Once
	stopped chan struct{}
}

// New creates a Controller. Call Start to begin sending the indicator.
func New(opts Options) *Controller {
	return &Controller{opts: opts, stopped: make(chan struct{})}
}

// Start begins the keepalive loop in a background goroutine.
func (c *Controller) Start() {
	if c.opts.StartFn == nil {
		return
	}
	go c.run()
}

func (c *Controller) run() {
	_ = c.opts.StartFn()

	interval := c.opts.KeepaliveInterval
	if interval <= 0 {
		interval = 4 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if c.opts.MaxDuration > 0 {
		timer := time.NewTimer(c.opts.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-c.stopped:
			return
		case <-deadline:
			return
		case <-ticker.C:
			_ = c.opts.StartFn()
		}
	}
}

// Stop ends the keepalive loop. Safe to call multiple times or never.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stopped) })
}
