package admission

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/logging"
)

// Default controller values.
const (
	defaultMinCapacity = 1
	defaultStepSize    = 2
	defaultCoolDown    = 5 * time.Second
)

// Option configures a Controller.
type Option func(*Controller)

// WithMinCapacity sets the floor below which the ceiling never shrinks.
func WithMinCapacity(n int) Option {
	return func(c *Controller) { c.minCapacity = n }
}

// WithStepSize sets how many permits a single shrink event removes.
func WithStepSize(n int) Option {
	return func(c *Controller) { c.stepSize = n }
}

// WithCoolDown sets the pause an executor takes after a shrink before retrying.
func WithCoolDown(d time.Duration) Option {
	return func(c *Controller) { c.coolDown = d }
}

// WithLogger sets the logger used for shrink events and floor alerts.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns the concurrency ceiling for one protected resource.
//
// Permits live in a buffered channel sized to the initial ceiling. Channel
// capacity cannot change, so shrinking withdraws slots permanently: the
// controller takes them and never gives them back. A slot that is busy at
// shrink time is recorded as owed, and the next holder to release it forfeits
// it instead of returning it to the pool.
//
// It is safe for concurrent use.
type Controller struct {
	mu              sync.Mutex
	maxCapacity     int
	currentCapacity int
	minCapacity     int
	stepSize        int
	coolDown        time.Duration
	withdrawn       int
	owed            int
	shrinkEvents    int
	floorAlerts     int
	logger          *logging.Logger

	permits chan struct{}
}

// NewController creates a Controller with maxCapacity permits.
// Unset options use defaults. Out-of-range values are clamped so that
// 1 <= minCapacity <= maxCapacity and stepSize >= 1.
func NewController(maxCapacity int, opts ...Option) *Controller {
	if maxCapacity < 1 {
		maxCapacity = 1
	}
	c := &Controller{
		maxCapacity: maxCapacity,
		minCapacity: defaultMinCapacity,
		stepSize:    defaultStepSize,
		coolDown:    defaultCoolDown,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.minCapacity < 1 {
		c.minCapacity = 1
	}
	if c.minCapacity > c.maxCapacity {
		c.minCapacity = c.maxCapacity
	}
	if c.stepSize < 1 {
		c.stepSize = 1
	}
	if c.coolDown < 0 {
		c.coolDown = 0
	}
	if c.logger == nil {
		c.logger = logging.NopLogger()
	}
	c.currentCapacity = c.maxCapacity
	c.permits = make(chan struct{}, c.maxCapacity)
	return c
}

// Acquire blocks until a permit is available or ctx is done.
func (c *Controller) Acquire(ctx context.Context) error {
	select {
	case c.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit taken by Acquire. If a shrink left slots owed, the
// permit is withdrawn instead of being returned to the pool.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owed > 0 {
		c.owed--
		c.withdrawn++
		return
	}
	<-c.permits
}

// TryShrink lowers the ceiling by one step after a resource-exhaustion event.
// At the floor it logs an alert and leaves the ceiling unchanged. It never
// blocks and reports whether the ceiling moved.
func (c *Controller) TryShrink() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentCapacity <= c.minCapacity {
		c.floorAlerts++
		c.logger.Warn("capacity at minimum, retrying without shrinking",
			"min_capacity", c.minCapacity,
			"alerts", c.floorAlerts,
		)
		return false
	}

	newCapacity := max(c.minCapacity, c.currentCapacity-c.stepSize)
	delta := c.currentCapacity - newCapacity

	c.logger.Warn("resource exhausted, reducing concurrency",
		"from", c.currentCapacity,
		"to", newCapacity,
	)
	c.currentCapacity = newCapacity
	c.shrinkEvents++

	for range delta {
		select {
		case c.permits <- struct{}{}:
			c.withdrawn++
		default:
			// every slot is busy; the next release pays this one
			c.owed++
		}
	}
	return true
}

// CoolDown returns the configured pause after a shrink.
func (c *Controller) CoolDown() time.Duration {
	return c.coolDown
}

// Stats is a point-in-time snapshot of a Controller.
//
// Held + Available + Withdrawn == Max in every snapshot. Owed counts slots
// that a shrink has claimed but that are still held by in-flight operations.
type Stats struct {
	Max          int
	Current      int
	Min          int
	Held         int
	Available    int
	Withdrawn    int
	Owed         int
	ShrinkEvents int
	FloorAlerts  int
}

// Stats returns a snapshot of the capacity state and permit accounting.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Occupied slots are held or withdrawn. withdrawn only moves under mu, so
	// a single read of len gives a consistent split.
	occupied := len(c.permits)
	return Stats{
		Max:          c.maxCapacity,
		Current:      c.currentCapacity,
		Min:          c.minCapacity,
		Held:         occupied - c.withdrawn,
		Available:    cap(c.permits) - occupied,
		Withdrawn:    c.withdrawn,
		Owed:         c.owed,
		ShrinkEvents: c.shrinkEvents,
		FloorAlerts:  c.floorAlerts,
	}
}
