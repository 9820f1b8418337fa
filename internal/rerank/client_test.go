package rerank

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/inference"
)

func serve(t *testing.T, body string, status int) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "bge-reranker" || req.Query != "q" {
			t.Errorf("request = %+v", req)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewClient(inference.NewClient(), srv.URL, "bge-reranker")
}

func TestScore_AlignsByIndex(t *testing.T) {
	c := serve(t, `{"results":[{"index":2,"relevance_score":0.9},{"index":0,"relevance_score":0.1},{"index":1,"relevance_score":0.5}]}`, 200)

	got, err := c.Score(context.Background(), "q", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if !reflect.DeepEqual(got, []float64{0.1, 0.5, 0.9}) {
		t.Errorf("Score() = %v", got)
	}
}

func TestScore_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing document", `{"results":[{"index":0,"relevance_score":0.1}]}`},
		{"index out of range", `{"results":[{"index":0,"relevance_score":0.1},{"index":5,"relevance_score":0.2}]}`},
		{"missing score", `{"results":[{"index":0},{"index":1,"relevance_score":0.2}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := serve(t, tt.body, 200).Score(context.Background(), "q", []string{"a", "b"})
			if !errors.Is(err, errors.ErrMalformedResponse) {
				t.Errorf("Score() error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestScore_ExhaustionSurfaces(t *testing.T) {
	_, err := serve(t, "CUDA out of memory", 500).Score(context.Background(), "q", []string{"a"})
	if !errors.IsResourceExhausted(err) {
		t.Errorf("Score() error = %v, want resource exhausted", err)
	}
}

func TestScore_NoDocuments(t *testing.T) {
	c := NewClient(inference.NewClient(), "http://127.0.0.1:0", "m")
	got, err := c.Score(context.Background(), "q", nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Score(nil) = %v, %v", got, err)
	}
}
