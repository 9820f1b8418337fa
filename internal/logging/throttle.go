package logging

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
)

// DefaultThrottleRates allows a burst of 5 messages per second and 30 per
// minute for each category.
var DefaultThrottleRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 30,
}

// Throttle rate limits repeated log messages per category. Categories are
// arbitrary comparable values, typically a short string naming the message.
//
// A nil *Throttle allows everything.
type Throttle struct {
	limiter *catrate.Limiter

	mu         sync.Mutex
	suppressed map[any]int
}

// NewThrottle creates a Throttle using the given sliding-window rates. A nil
// or empty rates map uses DefaultThrottleRates.
func NewThrottle(rates map[time.Duration]int) *Throttle {
	if len(rates) == 0 {
		rates = DefaultThrottleRates
	}
	return &Throttle{
		limiter:    catrate.NewLimiter(rates),
		suppressed: make(map[any]int),
	}
}

// Allow reports whether a message in the category may be logged now. When it
// returns true, suppressed is the number of messages in the category that were
// dropped since the last allowed one.
func (t *Throttle) Allow(category any) (suppressed int, ok bool) {
	if t == nil {
		return 0, true
	}

	_, ok = t.limiter.Allow(category)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !ok {
		t.suppressed[category]++
		return 0, false
	}
	suppressed = t.suppressed[category]
	delete(t.suppressed, category)
	return suppressed, true
}

// Warn logs msg at WARN level on l when the category is not rate limited,
// appending a "suppressed" count when earlier messages were dropped.
func (t *Throttle) Warn(l *Logger, category any, msg string, args ...any) {
	suppressed, ok := t.Allow(category)
	if !ok {
		return
	}
	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	l.Warn(msg, args...)
}
