// Package cache stores embedding vectors keyed by model and text so that
// re-indexing an unchanged corpus does not call the embedding endpoint again.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Store is a vector cache. Implementations are safe for concurrent use.
type Store interface {
	// GetMany returns one entry per key, in key order. Misses are nil.
	GetMany(ctx context.Context, keys []string) ([][]float32, error)
	// SetMany stores vectors[i] under keys[i].
	SetMany(ctx context.Context, keys []string, vectors [][]float32) error
	Close() error
}

// Key derives the cache key for text embedded by model.
func Key(model, text string) string {
	d := xxhash.New()
	_, _ = d.WriteString(model)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(text)
	return strconv.FormatUint(d.Sum64(), 16)
}

// Keys derives the cache keys for texts embedded by model.
func Keys(model string, texts []string) []string {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(model, t)
	}
	return keys
}

// Encode packs a vector as little-endian float32.
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// Decode unpacks a vector written by Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("encoded vector has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func checkLengths(keys []string, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return fmt.Errorf("cache: %d keys for %d vectors", len(keys), len(vectors))
	}
	return nil
}
