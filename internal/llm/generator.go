// Package llm generates answers from a question and its retrieved context
// using a chat-completion endpoint.
//
// Two modes are supported:
//   - internal: a streaming endpoint on the private network, read as
//     server-sent events until the [DONE] marker
//   - external: a standard OpenAI-compatible endpoint, non-streaming, with
//     a bearer API key
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/inference"
	"github.com/Iron-Ham/ragbatch/internal/logging"
)

// Modes
const (
	ModeInternal = "internal"
	ModeExternal = "external"
)

// Defaults for generation parameters.
const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2048
)

// Generator produces an answer for a question given context fragments.
type Generator interface {
	Generate(ctx context.Context, question string, contexts []string) (string, error)
}

// Settings selects and configures a generator. Credentials such as an API
// key travel as headers on the transport.
type Settings struct {
	Mode         string
	URL          string // full chat completions URL (internal) or API base (external)
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Prompt       *Prompt
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// New returns the Generator for s.Mode. An unknown mode fails with
// errors.ErrUnknownMode.
func New(s Settings, transport *inference.Client, logger *logging.Logger) (Generator, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if s.Prompt == nil {
		p, err := NewPrompt("")
		if err != nil {
			return nil, err
		}
		s.Prompt = p
	}
	if s.Temperature < 0 {
		s.Temperature = DefaultTemperature
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = DefaultMaxTokens
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}

	switch strings.ToLower(s.Mode) {
	case ModeInternal:
		logger.Info("generator ready", "mode", ModeInternal, "model", s.Model)
		return &internalGenerator{settings: s, transport: transport}, nil
	case ModeExternal:
		logger.Info("generator ready", "mode", ModeExternal, "model", s.Model)
		return &externalGenerator{
			settings:  s,
			transport: transport,
			url:       strings.TrimRight(s.URL, "/") + "/chat/completions",
		}, nil
	default:
		return nil, fmt.Errorf("llm mode %q (want %s or %s): %w", s.Mode, ModeInternal, ModeExternal, errors.ErrUnknownMode)
	}
}
