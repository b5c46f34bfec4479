// Package terminal renders research sessions on a text terminal.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/nstogner/agency/pkg/domain"
)

// Printer writes session progress to a terminal. It implements session.UI.
type Printer struct {
	out   io.Writer
	debug bool

	agentStyle  lipgloss.Style
	asideStyle  lipgloss.Style
	toolStyle   lipgloss.Style
	infoStyle   lipgloss.Style
	errorStyle  lipgloss.Style
	promptStyle lipgloss.Style
	debugStyle  lipgloss.Style

	mu      sync.Mutex
	seen    map[domain.EventType]bool
	midLine bool
}

// NewPrinter creates a printer. With debug set, the first event of each type
// in a query is announced.
func NewPrinter(out io.Writer, debug bool) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:         out,
		debug:       debug,
		agentStyle:  r.NewStyle().Foreground(lipgloss.Color("5")).Bold(true),
		asideStyle:  r.NewStyle().Foreground(lipgloss.Color("240")),
		toolStyle:   r.NewStyle().Foreground(lipgloss.Color("6")),
		infoStyle:   r.NewStyle().Foreground(lipgloss.Color("2")),
		errorStyle:  r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		promptStyle: r.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		debugStyle:  r.NewStyle().Foreground(lipgloss.Color("3")),
		seen:        map[domain.EventType]bool{},
	}
}

func (p *Printer) Event(e domain.Event) {
	if !p.debug {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[e.Type] {
		return
	}
	p.seen[e.Type] = true
	p.line(p.debugStyle.Render("[debug] event type: " + string(e.Type)))
}

func (p *Printer) AgentSwitched(agent string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line("")
	p.line(p.agentStyle.Render("» " + agent))
}

// Text prints text as it streams. Clarifier text is left to the answer
// prompts, which show the parsed questions.
func (p *Printer) Text(agent string, kind domain.RoleKind, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch kind {
	case domain.RoleKindClarifier:
		return
	case domain.RoleKindPassThrough:
		text = p.asideStyle.Render(text)
	}
	fmt.Fprint(p.out, text)
	p.midLine = !strings.HasSuffix(text, "\n")
}

func (p *Printer) ToolAction(agent string, action domain.ToolAction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := "⚙ " + action.Kind
	if action.Query != "" {
		msg += ": " + action.Query
	}
	p.line(p.toolStyle.Render(msg))
}

// Prompt asks for the next query. Debug event types are announced again for
// each query.
func (p *Printer) Prompt(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.seen)
	if p.midLine {
		fmt.Fprintln(p.out)
	}
	fmt.Fprint(p.out, "\n"+p.promptStyle.Render(text))
	p.midLine = false
}

func (p *Printer) Info(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line(p.infoStyle.Render(msg))
}

func (p *Printer) Error(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.line(p.errorStyle.Render("Error: " + msg))
}

// line prints s on a line of its own.
func (p *Printer) line(s string) {
	if p.midLine {
		fmt.Fprintln(p.out)
	}
	fmt.Fprintln(p.out, s)
	p.midLine = false
}
