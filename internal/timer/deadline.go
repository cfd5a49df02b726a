package timer

import (
	"context"
	"sync"
	"time"
)

// DefaultTick is the countdown refresh interval.
const DefaultTick = time.Second

// Option configures a DeadlineTimer.
type Option func(*DeadlineTimer)

// WithTick overrides the countdown refresh interval.
func WithTick(d time.Duration) Option {
	return func(t *DeadlineTimer) {
		if d > 0 {
			t.tick = d
		}
	}
}

// WithOnTick registers the countdown callback. It runs on the timer's
// goroutine, so it must not block.
func WithOnTick(fn func(remaining, total time.Duration)) Option {
	return func(t *DeadlineTimer) {
		t.onTick = fn
	}
}

// DeadlineTimer counts a fixed duration down on its own goroutine and
// exposes a one-way expired signal. The expired flag is the only state it
// shares with the session loop.
type DeadlineTimer struct {
	total  time.Duration
	tick   time.Duration
	onTick func(remaining, total time.Duration)

	mu        sync.Mutex
	expired   bool
	started   bool
	startedAt time.Time

	expiredCh chan struct{}
	done      chan struct{}
}

// New creates a stopped timer for total.
func New(total time.Duration, opts ...Option) *DeadlineTimer {
	t := &DeadlineTimer{
		total:     total,
		tick:      DefaultTick,
		expiredCh: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins the countdown. Cancelling ctx expires the timer.
// Calling Start more than once has no effect.
func (t *DeadlineTimer) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.startedAt = time.Now()
	t.mu.Unlock()

	go t.run(ctx)
}

func (t *DeadlineTimer) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	deadline := time.NewTimer(t.total)
	defer deadline.Stop()

	for {
		select {
		case <-t.expiredCh:
			// Stopped from outside (submit or expiry already signalled).
			return
		case <-ctx.Done():
			t.SignalExpired()
			return
		case <-deadline.C:
			t.report(0)
			t.SignalExpired()
			return
		case <-ticker.C:
			t.report(t.Remaining())
		}
	}
}

func (t *DeadlineTimer) report(remaining time.Duration) {
	if t.onTick != nil {
		t.onTick(remaining, t.total)
	}
}

// SignalExpired marks the timer expired and stops its goroutine.
// It returns true only for the call that performed the transition.
func (t *DeadlineTimer) SignalExpired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expired {
		return false
	}
	t.expired = true
	close(t.expiredCh)
	return true
}

// IsExpired reports whether the timer has expired or been stopped.
func (t *DeadlineTimer) IsExpired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Expired returns a channel closed once the timer expires.
func (t *DeadlineTimer) Expired() <-chan struct{} {
	return t.expiredCh
}

// Remaining returns the time left, never negative. A timer that was never
// started reports its full duration.
func (t *DeadlineTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return t.total
	}
	if t.expired {
		return 0
	}
	left := t.total - time.Since(t.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Wait blocks until the timer goroutine has exited. It returns at once for
// a timer that was never started.
func (t *DeadlineTimer) Wait() {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return
	}
	<-t.done
}
