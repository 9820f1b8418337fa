package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	barPadding  = 2
	barMaxWidth = 60
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	countStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
)

// Messages

type incrementMsg struct{}
type finishMsg struct{}

// barModel is the bubbletea model behind Terminal.
type barModel struct {
	label     string
	total     int
	completed int
	done      bool
	bar       progress.Model
}

func newBarModel(label string, total int) barModel {
	return barModel{
		label: label,
		total: total,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m barModel) Init() tea.Cmd { return nil }

func (m barModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-barPadding*2-lipgloss.Width(m.label)-16, barMaxWidth)
		if m.bar.Width < 10 {
			m.bar.Width = 10
		}
		return m, nil
	case incrementMsg:
		if m.completed < m.total {
			m.completed++
		}
		return m, nil
	case finishMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m barModel) View() string {
	count := countStyle.Render(fmt.Sprintf("%d/%d", m.completed, m.total))
	if m.done {
		count = doneStyle.Render(fmt.Sprintf("%d/%d done", m.completed, m.total))
	}
	pad := lipgloss.NewStyle().PaddingLeft(barPadding).Render
	return pad(labelStyle.Render(m.label)+" "+m.bar.ViewAs(percent(m.completed, m.total))+" "+count) + "\n"
}

// Terminal renders a progress bar on an interactive terminal.
type Terminal struct {
	out   io.Writer
	label string

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// NewTerminal creates a Terminal reporter writing to out.
func NewTerminal(out io.Writer, label string) *Terminal {
	return &Terminal{out: out, label: label}
}

// Start launches the bubbletea program. Keyboard input is not read so that
// interrupts reach the process signal handler.
func (t *Terminal) Start(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.program = tea.NewProgram(
		newBarModel(t.label, total),
		tea.WithOutput(t.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	t.done = make(chan struct{})
	go func(p *tea.Program, done chan struct{}) {
		defer close(done)
		_, _ = p.Run()
	}(t.program, t.done)
}

// Increment advances the bar by one item.
func (t *Terminal) Increment() {
	t.mu.Lock()
	p := t.program
	t.mu.Unlock()
	if p != nil {
		p.Send(incrementMsg{})
	}
}

// Finish renders the final state and waits for the program to exit.
func (t *Terminal) Finish() {
	t.mu.Lock()
	p, done := t.program, t.done
	t.program = nil
	t.mu.Unlock()
	if p == nil {
		return
	}
	p.Send(finishMsg{})
	<-done
}
