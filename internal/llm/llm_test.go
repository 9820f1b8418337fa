package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Iron-Ham/ragbatch/internal/errors"
	"github.com/Iron-Ham/ragbatch/internal/inference"
)

func TestPrompt_Default(t *testing.T) {
	p, err := NewPrompt("")
	if err != nil {
		t.Fatalf("NewPrompt() error = %v", err)
	}
	got, err := p.Render("What is X?", []string{"X is a letter.", "Y follows X."})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "Reference material:\nFragment 1: X is a letter.\n\nFragment 2: Y follows X.\n\nQuestion: What is X?\n\nAnswer:"
	if !strings.HasSuffix(got, want) {
		t.Errorf("Render() = %q, want suffix %q", got, want)
	}
}

func TestPrompt_Custom(t *testing.T) {
	p, err := NewPrompt("{{.Question}}|{{len .Contexts}}|{{range .Contexts}}[{{.}}]{{end}}")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := p.Render("q", []string{"a", "b"})
	if got != "q|2|[a][b]" {
		t.Errorf("Render() = %q", got)
	}

	if _, err := NewPrompt("{{.Question"); err == nil {
		t.Error("NewPrompt() with a broken template should fail")
	}
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := New(Settings{Mode: "hybrid"}, inference.NewClient(), nil)
	if !errors.Is(err, errors.ErrUnknownMode) {
		t.Fatalf("New() error = %v, want ErrUnknownMode", err)
	}
}

func TestReadStream(t *testing.T) {
	stream := strings.Join([]string{
		`: keep-alive`,
		``,
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: not json`,
		`data:{"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":" ignored"}}]}`,
	}, "\n")

	got, err := readStream(strings.NewReader(stream))
	if err != nil {
		t.Fatalf("readStream() error = %v", err)
	}
	if got != "Hello" {
		t.Errorf("readStream() = %q, want Hello", got)
	}
}

func TestReadStream_WithoutDone(t *testing.T) {
	got, err := readStream(strings.NewReader(`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n"))
	if err != nil || got != "partial" {
		t.Errorf("readStream() = %q, %v", got, err)
	}
}

func TestInternalGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !req.Stream || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("request = %+v", req)
		}
		if !strings.Contains(req.Messages[1].Content, "Fragment 1: ctx") {
			t.Errorf("user message missing context: %q", req.Messages[1].Content)
		}
		if req.Temperature != DefaultTemperature || req.MaxTokens != DefaultMaxTokens {
			t.Errorf("temperature/max_tokens = %v/%d", req.Temperature, req.MaxTokens)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"42\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	g, err := New(Settings{Mode: "internal", URL: srv.URL, Model: "qwen", Temperature: DefaultTemperature}, inference.NewClient(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(context.Background(), "answer?", []string{"ctx"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "42" {
		t.Errorf("Generate() = %q, want 42", got)
	}
}

func TestExternalGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("request = %+v", req)
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"external answer"}}]}`)
	}))
	defer srv.Close()

	transport := inference.NewClient(inference.WithHeader("Authorization", "Bearer sk-test"))
	g, err := New(Settings{Mode: "EXTERNAL", URL: srv.URL + "/v1/", Model: "gpt"}, transport, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "external answer" {
		t.Errorf("Generate() = %q", got)
	}
}

func TestExternalGenerator_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	g, _ := New(Settings{Mode: "external", URL: srv.URL}, inference.NewClient(), nil)
	if _, err := g.Generate(context.Background(), "q", nil); !errors.Is(err, errors.ErrMalformedResponse) {
		t.Errorf("Generate() error = %v, want ErrMalformedResponse", err)
	}
}

func TestGenerate_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "context length exceeded")
	}))
	defer srv.Close()

	g, _ := New(Settings{Mode: "internal", URL: srv.URL}, inference.NewClient(), nil)
	_, err := g.Generate(context.Background(), "q", nil)
	if !errors.Is(err, errors.ErrTransport) || !strings.Contains(err.Error(), "context length exceeded") {
		t.Errorf("Generate() error = %v", err)
	}
}
