package supervisor

import (
	"sync"
	"time"
)

// breakerState is the per-handler circuit state.
type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half-open"
)

// breaker trips after consecutive transport failures so a dead handler
// is not hammered on every request. While open, calls fail fast as
// unavailable until the cooldown elapses; the first call after that
// probes the handler and closes or re-opens the circuit.
type breaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration
	perHandler  map[string]*breakerEntry
}

type breakerEntry struct {
	state    breakerState
	failures int
	openedAt time.Time
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}
	return &breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		perHandler:  make(map[string]*breakerEntry),
	}
}

// allow reports whether a call to the handler may proceed.
func (b *breaker) allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.perHandler[name]
	if !ok {
		return true
	}

	switch e.state {
	case breakerOpen:
		if time.Since(e.openedAt) < b.cooldown {
			return false
		}
		e.state = breakerHalfOpen
		return true
	case breakerHalfOpen:
		// One probe at a time; further calls wait for its outcome.
		return false
	default:
		return true
	}
}

func (b *breaker) success(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.perHandler, name)
}

func (b *breaker) failure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.perHandler[name]
	if !ok {
		e = &breakerEntry{state: breakerClosed}
		b.perHandler[name] = e
	}

	if e.state == breakerHalfOpen {
		e.state = breakerOpen
		e.openedAt = time.Now()
		return
	}

	e.failures++
	if e.failures >= b.maxFailures {
		e.state = breakerOpen
		e.openedAt = time.Now()
	}
}
