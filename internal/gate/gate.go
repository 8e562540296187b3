// Package gate bounds how many jobs may execute stages at once. Slots
// are global across the process: a job holds one slot for its entire
// stage plan, not per stage.
package gate

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Limiter is a fixed-capacity admission limiter.
type Limiter struct {
	slots    chan struct{}
	capacity int
	inFlight atomic.Int64
}

// Token represents one held slot. It must be released exactly once.
type Token struct {
	limiter  *Limiter
	released atomic.Bool
}

// New creates a limiter admitting at most capacity concurrent holders.
func New(capacity int) (*Limiter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("limiter capacity must be positive, got %d", capacity)
	}
	return &Limiter{
		slots:    make(chan struct{}, capacity),
		capacity: capacity,
	}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) (*Token, error) {
	select {
	case l.slots <- struct{}{}:
		l.inFlight.Add(1)
		return &Token{limiter: l}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire execution slot: %w", ctx.Err())
	}
}

// TryAcquire takes a slot without blocking. The token is nil when the
// limiter is at capacity.
func (l *Limiter) TryAcquire() *Token {
	select {
	case l.slots <- struct{}{}:
		l.inFlight.Add(1)
		return &Token{limiter: l}
	default:
		return nil
	}
}

// Release returns the slot to the limiter. Releasing twice panics.
func (t *Token) Release() {
	if t.released.Swap(true) {
		panic("gate: token released twice")
	}
	<-t.limiter.slots
	t.limiter.inFlight.Add(-1)
}

// Capacity returns the configured slot count.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// InFlight returns the number of currently held slots.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}
