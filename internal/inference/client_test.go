package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/ragbatch/internal/errors"
)

func TestPostJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k" {
			t.Errorf("Authorization = %q", auth)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	c := NewClient(WithHeader("Authorization", "Bearer k"))
	var out struct{ Echo string }
	if err := c.PostJSON(context.Background(), srv.URL, map[string]string{"msg": "hi"}, &out); err != nil {
		t.Fatalf("PostJSON() error = %v", err)
	}
	if out.Echo != "hi" {
		t.Errorf("Echo = %q, want hi", out.Echo)
	}
}

func TestPostJSON_Classification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantExhausted bool
		wantTransport bool
		wantMalformed bool
	}{
		{"too many requests", http.StatusTooManyRequests, "slow down", true, false, false},
		{"unavailable", http.StatusServiceUnavailable, "", true, false, false},
		{"insufficient storage", http.StatusInsufficientStorage, "", true, false, false},
		{"oom body", http.StatusInternalServerError, "CUDA out of memory. Tried to allocate 2 GiB", true, false, false},
		{"server error", http.StatusBadGateway, "upstream died", false, true, false},
		{"client error", http.StatusBadRequest, "bad input", false, true, false},
		{"malformed body", http.StatusOK, "{not json", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			var out map[string]any
			err := NewClient().PostJSON(context.Background(), srv.URL, struct{}{}, &out)
			if err == nil {
				t.Fatal("PostJSON() error = nil")
			}
			if got := errors.IsResourceExhausted(err); got != tt.wantExhausted {
				t.Errorf("IsResourceExhausted = %v, want %v (err: %v)", got, tt.wantExhausted, err)
			}
			if got := errors.Is(err, errors.ErrTransport); got != tt.wantTransport {
				t.Errorf("Is(ErrTransport) = %v, want %v", got, tt.wantTransport)
			}
			if got := errors.Is(err, errors.ErrMalformedResponse); got != tt.wantMalformed {
				t.Errorf("Is(ErrMalformedResponse) = %v, want %v", got, tt.wantMalformed)
			}
			if tt.wantTransport {
				var te *errors.TransportError
				if !errors.As(err, &te) {
					t.Fatal("expected *TransportError")
				}
				if te.StatusCode != tt.status || te.Endpoint != srv.URL {
					t.Errorf("TransportError = %+v", te)
				}
			}
		})
	}
}

func TestPostJSON_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(20 * time.Millisecond))
	err := c.PostJSON(context.Background(), srv.URL, struct{}{}, nil)
	if !errors.Is(err, errors.ErrTransport) {
		t.Fatalf("PostJSON() error = %v, want transport error", err)
	}
}

func TestPostJSON_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewClient().PostJSON(ctx, srv.URL, struct{}{}, nil)
	if !errors.Is(err, errors.ErrCanceled) {
		t.Fatalf("PostJSON() error = %v, want ErrCanceled", err)
	}
}

func TestPostJSON_RateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(WithRateLimit(20, 1))
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.PostJSON(context.Background(), srv.URL, struct{}{}, nil); err != nil {
			t.Fatalf("PostJSON() error = %v", err)
		}
	}
	// burst 1 at 20/s: the second and third calls wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 calls took %v, want rate limiting", elapsed)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestPostStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		_, _ = io.WriteString(w, "data: one\n\ndata: two\n\n")
	}))
	defer srv.Close()

	body, err := NewClient().PostStream(context.Background(), srv.URL, struct{}{})
	if err != nil {
		t.Fatalf("PostStream() error = %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "data: two") {
		t.Errorf("stream = %q", data)
	}
}

func TestIsExhaustionStatus(t *testing.T) {
	for code, want := range map[int]bool{200: false, 400: false, 429: true, 500: false, 503: true, 507: true} {
		if got := IsExhaustionStatus(code); got != want {
			t.Errorf("IsExhaustionStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(WithTimeout(0), WithRateLimit(0, 0))
	if c.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", c.Timeout(), DefaultTimeout)
	}
	if c.limiter != nil {
		t.Error("rate limiter should be disabled for rps <= 0")
	}
}
