// Package rerank scores (query, document) pairs with a cross-encoder served
// over HTTP.
package rerank

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/inference"
)

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int      `json:"index"`
		RelevanceScore *float64 `json:"relevance_score"`
	} `json:"results"`
}

// Client calls a rerank endpoint.
type Client struct {
	transport *inference.Client
	url       string
	model     string
}

// NewClient creates a Client for the endpoint at url serving model.
func NewClient(transport *inference.Client, url, model string) *Client {
	return &Client{transport: transport, url: url, model: model}
}

// Score returns one relevance score per document, aligned with documents.
func (c *Client) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return []float64{}, nil
	}

	var resp rerankResponse
	req := rerankRequest{Model: c.model, Query: query, Documents: documents}
	if err := c.transport.PostJSON(ctx, c.url, req, &resp); err != nil {
		return nil, err
	}

	scores := make([]float64, len(documents))
	seen := make([]bool, len(documents))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(documents) || r.RelevanceScore == nil {
			return nil, fmt.Errorf("rerank result index %d out of range for %d documents: %w",
				r.Index, len(documents), errors.ErrMalformedResponse)
		}
		scores[r.Index] = *r.RelevanceScore
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing document %d: %w", i, errors.ErrMalformedResponse)
		}
	}
	return scores, nil
}
