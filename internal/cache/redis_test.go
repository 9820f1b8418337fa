package cache

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"
)

// Set RAGBATCH_TEST_REDIS_ADDR (e.g. localhost:6379) to run against a live server.
func dialTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("RAGBATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RAGBATCH_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r, err := DialRedis(ctx, addr, "", 0, WithPrefix("ragbatch:test:"+t.Name()), WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("DialRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedis_GetSet(t *testing.T) {
	r := dialTestRedis(t)
	ctx := context.Background()

	keys := Keys("m", []string{"x", "y", "z"})
	if err := r.SetMany(ctx, keys[:2], [][]float32{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	got, err := r.GetMany(ctx, keys)
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	want := [][]float32{{1, 2}, {3, 4}, nil}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetMany() = %v, want %v", got, want)
	}
}

func TestRedis_Options(t *testing.T) {
	r := NewRedis(nil, WithPrefix(":custom:"), WithTTL(0))
	if r.prefix != "custom" {
		t.Errorf("prefix = %q, want custom", r.prefix)
	}
	if r.ttl != 0 {
		t.Errorf("ttl = %v, want 0", r.ttl)
	}
	if got := r.key("abc"); got != "custom:abc" {
		t.Errorf("key() = %q", got)
	}
	if got, err := r.GetMany(context.Background(), nil); err != nil || len(got) != 0 {
		t.Errorf("GetMany(nil) = %v, %v", got, err)
	}
}
