package logging

import (
	"bytes"
	"testing"
	"time"
)

func TestThrottle_Allow(t *testing.T) {
	th := NewThrottle(map[time.Duration]int{time.Hour: 2})

	if _, ok := th.Allow("pad"); !ok {
		t.Fatal("first event should be allowed")
	}
	if _, ok := th.Allow("pad"); !ok {
		t.Fatal("second event should be allowed")
	}
	for i := 0; i < 3; i++ {
		if _, ok := th.Allow("pad"); ok {
			t.Fatalf("event %d should be throttled", i+3)
		}
	}

	// other categories are independent
	if _, ok := th.Allow("shrink"); !ok {
		t.Error("separate category should be allowed")
	}

	th.mu.Lock()
	got := th.suppressed["pad"]
	th.mu.Unlock()
	if got != 3 {
		t.Errorf("suppressed = %d, want 3", got)
	}
}

func TestThrottle_Nil(t *testing.T) {
	var th *Throttle
	for i := 0; i < 100; i++ {
		if _, ok := th.Allow("x"); !ok {
			t.Fatal("nil throttle must allow everything")
		}
	}
}

func TestThrottle_Warn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo)
	th := NewThrottle(map[time.Duration]int{time.Hour: 1})

	th.Warn(logger, "pad", "padded")
	th.Warn(logger, "pad", "padded")
	th.Warn(logger, "pad", "padded")

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}
