package llm

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/inference"
)

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type externalGenerator struct {
	settings  Settings
	transport *inference.Client
	url       string
}

func (g *externalGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	prompt, err := g.settings.Prompt.Render(question, contexts)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	var resp completionResponse
	err = g.transport.PostJSON(ctx, g.url, chatRequest{
		Model:       g.settings.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.settings.Temperature,
		MaxTokens:   g.settings.MaxTokens,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion from %s has no choices: %w", g.url, errors.ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
