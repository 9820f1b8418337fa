package llm

import (
	"strings"
	"text/template"
)

// DefaultPromptTemplate asks for an answer grounded in the numbered context
// fragments.
const DefaultPromptTemplate = `You are a professional assistant. Answer the question using the reference material below. If the material does not contain the answer, say that the question cannot be answered.

Reference material:
{{range $i, $c := .Contexts}}{{if $i}}

{{end}}Fragment {{inc $i}}: {{$c}}{{end}}

Question: {{.Question}}

Answer:`

// DefaultSystemPrompt is sent as the system message in internal mode.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// Prompt renders the user message for a question and its context.
type Prompt struct {
	tmpl *template.Template
}

type promptData struct {
	Question string
	Contexts []string
}

// NewPrompt parses text as a text/template. The template sees .Question and
// .Contexts, and the function inc. An empty text uses DefaultPromptTemplate.
func NewPrompt(text string) (*Prompt, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPromptTemplate
	}
	tmpl, err := template.New("prompt").
		Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, err
	}
	return &Prompt{tmpl: tmpl}, nil
}

// Render returns the prompt text.
func (p *Prompt) Render(question string, contexts []string) (string, error) {
	var b strings.Builder
	if err := p.tmpl.Execute(&b, promptData{Question: question, Contexts: contexts}); err != nil {
		return "", err
	}
	return b.String(), nil
}
