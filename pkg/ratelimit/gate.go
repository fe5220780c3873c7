package ratelimit

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Gate is a counting admission control for concurrent in-flight work.
// Acquire never blocks: callers either get a held slot immediately or
// are shed. One Gate instance is built at process start and injected
// wherever admission is needed; tests construct their own small ones.
type Gate struct {
	name     string
	capacity int64
	inFlight int64
	rejected uint64
	logger   *zap.Logger
	mu       sync.Mutex
}

// Slot represents the result of one admission attempt. Releasing an
// unacquired slot is a no-op, and releasing twice returns only once.
type Slot struct {
	gate     *Gate
	acquired bool
	once     sync.Once
}

// NewGate builds a gate admitting at most capacity concurrent holders.
func NewGate(name string, capacity int, logger *zap.Logger) *Gate {
	if capacity <= 0 {
		capacity = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{name: name, capacity: int64(capacity), logger: logger}
}

// Acquire attempts to take a slot without waiting. The returned slot
// reports whether admission succeeded and must be released by the
// caller regardless of the outcome.
func (g *Gate) Acquire() *Slot {
	g.mu.Lock()
	if g.inFlight < g.capacity {
		g.inFlight++
		g.mu.Unlock()
		return &Slot{gate: g, acquired: true}
	}
	g.mu.Unlock()

	// Log every 100th rejection so sustained overload surfaces without
	// flooding the log.
	if n := atomic.AddUint64(&g.rejected, 1); n%100 == 1 {
		g.logger.Error("admission gate saturated",
			zap.String("gate", g.name),
			zap.Int64("capacity", g.capacity),
			zap.Uint64("rejected_total", n),
		)
	}
	return &Slot{gate: g}
}

// InFlight reports the number of currently held slots.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.inFlight)
}

// Rejected reports the total number of shed admissions.
func (g *Gate) Rejected() uint64 {
	return atomic.LoadUint64(&g.rejected)
}

// Held reports whether the slot was actually acquired.
func (s *Slot) Held() bool {
	return s != nil && s.acquired
}

// Release returns the slot to the gate. Safe on unacquired slots and
// idempotent on double release.
func (s *Slot) Release() {
	if s == nil || !s.acquired {
		return
	}
	s.once.Do(func() {
		s.gate.mu.Lock()
		if s.gate.inFlight > 0 {
			s.gate.inFlight--
		}
		s.gate.mu.Unlock()
	})
}
