package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/errors"
)

// newTestExecutor returns an executor whose cool-down sleeps are recorded
// instead of slept.
func newTestExecutor(ctrl *Controller, opts ...ExecutorOption) (*Executor, *[]time.Duration) {
	e := NewExecutor(ctrl, opts...)
	var mu sync.Mutex
	slept := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return e, slept
}

func TestExecutor_Success(t *testing.T) {
	ctrl := NewController(2)
	e, _ := newTestExecutor(ctrl)

	got, err := Do(context.Background(), e, func(ctx context.Context) (string, error) {
		if s := ctrl.Stats(); s.Held != 1 {
			t.Errorf("Held during op = %d, want 1", s.Held)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want ok", got)
	}
	if s := ctrl.Stats(); s.Held != 0 || s.Available != 2 {
		t.Errorf("permit not released: %+v", s)
	}
}

func TestExecutor_RetriesOnExhaustion(t *testing.T) {
	ctrl := NewController(8, WithStepSize(2), WithMinCapacity(2), WithCoolDown(3*time.Second))
	var released int
	e, slept := newTestExecutor(ctrl, WithCacheRelease(func() { released++ }))

	var calls int
	err := e.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return fmt.Errorf("rerank: %w", errors.ErrResourceExhausted)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if released != 2 {
		t.Errorf("cache released %d times, want 2", released)
	}
	if len(*slept) != 2 || (*slept)[0] != 3*time.Second {
		t.Errorf("cool-down sleeps = %v, want two of 3s", *slept)
	}
	s := ctrl.Stats()
	if s.Current != 4 {
		t.Errorf("Current = %d, want 4", s.Current)
	}
	if s.Held != 0 {
		t.Errorf("Held = %d, want 0", s.Held)
	}
	checkAccounting(t, ctrl)
}

func TestExecutor_KeepsRetryingAtFloor(t *testing.T) {
	ctrl := NewController(2, WithStepSize(2), WithMinCapacity(2))
	e, _ := newTestExecutor(ctrl)

	var calls int
	err := e.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 25 {
			return errors.ErrResourceExhausted
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 25 {
		t.Errorf("calls = %d, want 25", calls)
	}
	if s := ctrl.Stats(); s.FloorAlerts != 24 || s.Current != 2 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestExecutor_OtherErrorPropagatesImmediately(t *testing.T) {
	ctrl := NewController(4)
	e, slept := newTestExecutor(ctrl)
	boom := errors.New("bad request")

	var calls int
	err := e.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("unexpected cool-down: %v", *slept)
	}
	if s := ctrl.Stats(); s.Current != 4 || s.Held != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestExecutor_ReleasesPermitOnPanic(t *testing.T) {
	ctrl := NewController(1)
	e, _ := newTestExecutor(ctrl)

	func() {
		defer func() { _ = recover() }()
		_ = e.Run(context.Background(), func(ctx context.Context) error {
			panic("op blew up")
		})
	}()

	if s := ctrl.Stats(); s.Held != 0 || s.Available != 1 {
		t.Errorf("permit leaked after panic: %+v", s)
	}
}

func TestExecutor_Disabled(t *testing.T) {
	tests := []struct {
		name string
		exec *Executor
	}{
		{"disabled flag", NewExecutor(NewController(1), WithEnabled(false))},
		{"no controller", NewExecutor(nil)},
		{"nil executor", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.exec.Protected() {
				t.Fatal("Protected() = true, want false")
			}
			var calls int
			err := tt.exec.Run(context.Background(), func(ctx context.Context) error {
				calls++
				return errors.ErrResourceExhausted
			})
			if !errors.IsResourceExhausted(err) {
				t.Errorf("Run() error = %v, want exhaustion passed through", err)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1 (no retry)", calls)
			}
		})
	}
}

func TestExecutor_MaxExhaustionRetries(t *testing.T) {
	ctrl := NewController(4, WithStepSize(1), WithMinCapacity(1))
	e, _ := newTestExecutor(ctrl, WithMaxExhaustionRetries(3))

	var calls int
	err := e.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.ErrResourceExhausted
	})
	if !errors.IsResourceExhausted(err) {
		t.Fatalf("Run() error = %v, want resource exhausted", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExecutor_CanceledDuringCoolDown(t *testing.T) {
	ctrl := NewController(2, WithCoolDown(time.Hour))
	e := NewExecutor(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	err := e.Run(ctx, func(ctx context.Context) error {
		cancel()
		return errors.ErrResourceExhausted
	})
	if !errors.Is(err, errors.ErrCanceled) {
		t.Fatalf("Run() error = %v, want canceled", err)
	}
	if s := ctrl.Stats(); s.Held != 0 {
		t.Errorf("Held = %d, want 0", s.Held)
	}
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	ctrl := NewController(3)
	e, _ := newTestExecutor(ctrl)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Run(context.Background(), func(ctx context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
}

func TestExecutor_ShrinkLowersConcurrency(t *testing.T) {
	ctrl := NewController(4, WithStepSize(3), WithMinCapacity(1))
	e, _ := newTestExecutor(ctrl)

	// one exhaustion event drops the ceiling to 1
	var first atomic.Bool
	_ = e.Run(context.Background(), func(ctx context.Context) error {
		if first.CompareAndSwap(false, true) {
			return errors.ErrResourceExhausted
		}
		return nil
	})

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Run(context.Background(), func(ctx context.Context) error {
				n := inFlight.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency after shrink = %d, want 1", p)
	}
}
