package pool

import (
	"sync"

	"github.com/steerworks/steer/internal/errors"
)

// Pool is the bounded concurrency gate. Available capacity is
// max - (globally observed claims) - (slots this process reserved in
// the current scheduling tick). The tick counter exists because claims
// only appear once a runner actually starts: between the scheduler's
// reservation and the runner's claim there is a window where the
// registry alone would hand the same slot out twice.
type Pool struct {
	mu       sync.Mutex
	max      int
	registry Registry

	startedThisTick int
}

// New creates a pool capped at max concurrent runners.
func New(max int, registry Registry) *Pool {
	return &Pool{max: max, registry: registry}
}

// Max returns the configured cap.
func (p *Pool) Max() int {
	return p.max
}

// ResetTick clears the per-tick reservation counter. Called once at
// the top of each scheduling tick, after which claims in the registry
// are the only source of truth again.
func (p *Pool) ResetTick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startedThisTick = 0
}

// ReserveSlot reserves a single slot. Returns false at capacity.
func (p *Pool) ReserveSlot() (bool, error) {
	n, err := p.ReserveSlots(1)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReserveSlots reserves up to n slots and returns how many were
// actually reserved, never exceeding remaining capacity.
func (p *Pool) ReserveSlots(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	available, err := p.availableLocked()
	if err != nil {
		return 0, err
	}
	if n > available {
		n = available
	}
	p.startedThisTick += n
	return n, nil
}

// AvailableSlots returns remaining capacity for this tick.
func (p *Pool) AvailableSlots() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked()
}

// AtLimit reports whether no capacity remains.
func (p *Pool) AtLimit() (bool, error) {
	available, err := p.AvailableSlots()
	if err != nil {
		return false, err
	}
	return available <= 0, nil
}

// AddStarted reconciles slots claimed outside the normal reservation
// path (e.g. a runner started directly rather than via the scheduler).
func (p *Pool) AddStarted(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startedThisTick += n
}

// StartedThisTick returns the slots reserved since the last ResetTick.
func (p *Pool) StartedThisTick() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedThisTick
}

func (p *Pool) availableLocked() (int, error) {
	observed, err := p.registry.Count()
	if err != nil {
		return 0, errors.Wrap(errors.CodePoolRegistry, "reading claim count", err)
	}
	available := p.max - observed - p.startedThisTick
	if available < 0 {
		available = 0
	}
	return available, nil
}
