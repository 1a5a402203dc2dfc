package activity

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without trying it.
var ErrCircuitOpen = errors.New("activity: circuit breaker is open")

// breakerState is the operating mode of a [breaker].
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker is a three-state circuit breaker guarding store writes. After
// maxFailures consecutive failures it opens and rejects calls for cooldown;
// the first call after that is a single probe that closes or re-opens it.
type breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(name string, maxFailures int, cooldown time.Duration) *breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{name: name, maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// do runs fn unless the breaker is open.
func (b *breaker) do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = breakerHalfOpen
		b.probing = true
		slog.Info("activity: breaker half-open, probing", "store", b.name)
	case breakerHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil {
		if b.state != breakerClosed {
			slog.Info("activity: breaker closed", "store", b.name)
		}
		b.state = breakerClosed
		b.failures = 0
		return nil
	}

	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
		if b.state != breakerOpen {
			slog.Warn("activity: breaker opened", "store", b.name, "consecutive_failures", b.failures)
		}
		b.state = breakerOpen
		b.openedAt = b.now()
	}
	return err
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return breakerHalfOpen
	}
	return b.state
}
