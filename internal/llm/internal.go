package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/inference"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"
	maxEventSize  = 1 << 20
)

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type internalGenerator struct {
	settings  Settings
	transport *inference.Client
}

func (g *internalGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	prompt, err := g.settings.Prompt.Render(question, contexts)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	body, err := g.transport.PostStream(ctx, g.settings.URL, chatRequest{
		Model: g.settings.Model,
		Messages: []chatMessage{
			{Role: "system", Content: g.settings.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: g.settings.Temperature,
		MaxTokens:   g.settings.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	defer body.Close()

	return readStream(body)
}

// readStream concatenates the content deltas of a chat completion event
// stream. Lines that are not data events or do not decode are skipped.
func readStream(r io.Reader) (string, error) {
	var answer strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if payload == sseDone {
			return answer.String(), nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			answer.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.NewTransportError("read event stream", err)
	}
	return answer.String(), nil
}
