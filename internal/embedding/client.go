package embedding

import (
	"context"
	"fmt"
	"sort"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/inference"
)

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data *[]embedData `json:"data"`
}

type embedData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	transport *inference.Client
	url       string
	model     string
}

// NewClient creates a Client for the endpoint at url serving model.
func NewClient(transport *inference.Client, url, model string) *Client {
	return &Client{transport: transport, url: url, model: model}
}

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

// Embed returns one vector per text, ordered by the index field of the
// response. The response may hold fewer vectors than texts; callers that
// need exact alignment pad the result.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp embedResponse
	if err := c.transport.PostJSON(ctx, c.url, embedRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("embedding response from %s has no data field: %w", c.url, errors.ErrMalformedResponse)
	}

	data := *resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}
