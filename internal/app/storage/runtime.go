package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
)

const defaultMaxAttempts = 3

// Runtime carries the collaborators every ledger backend shares.
type Runtime struct {
	Clock       Clock
	IDs         IDGenerator
	Gate        Gate
	MaxAttempts int
	// OnConflict is called each time a commit loses an optimistic
	// concurrency race and the unit is re-executed.
	OnConflict func(attempt int)
}

// WithDefaults fills unset collaborators.
func (r Runtime) WithDefaults() Runtime {
	if r.Clock == nil {
		r.Clock = SystemClock{}
	}
	if r.IDs == nil {
		r.IDs = UUIDGenerator{}
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = defaultMaxAttempts
	}
	return r
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock for tests and simulations. It never moves
// backwards.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock fixed at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t if t is not before the current time.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t.UTC()
	}
}

// UUIDGenerator issues random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() (ledger.ID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return ledger.ID(id.String()), nil
}
