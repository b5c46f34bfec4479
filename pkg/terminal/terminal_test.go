package terminal

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/agency/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.AgentSwitched("Triage Agent")
	p.Text("Triage Agent", domain.RoleKindPassThrough, "routing")
	p.Text("Clarifier", domain.RoleKindClarifier, `{"questions":["q"]}`)
	p.ToolAction("Research Agent", domain.ToolAction{Kind: "web_search", Query: "solar"})
	p.Text("Research Agent", domain.RoleKindResearcher, "Solar is ")
	p.Text("Research Agent", domain.RoleKindResearcher, "cheap.")
	p.Info("Research complete")
	p.Error("boom")
	p.Prompt("Research Query: ")

	out := buf.String()
	assert.Contains(t, out, "» Triage Agent\n")
	assert.Contains(t, out, "routing\n⚙ web_search: solar\n")
	assert.Contains(t, out, "Solar is cheap.\nResearch complete\n")
	assert.Contains(t, out, "Error: boom\n")
	assert.True(t, strings.HasSuffix(out, "\nResearch Query: "))
	assert.NotContains(t, out, "questions")
}

func TestPrinterDebugOncePerType(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)
	p.Event(domain.NewTextDelta("a"))
	p.Event(domain.NewTextDelta("b"))
	p.Event(domain.NewAgentSwitched("x"))

	assert.Equal(t, 1, strings.Count(buf.String(), "event type: text_delta"))
	assert.Equal(t, 1, strings.Count(buf.String(), "event type: agent_switched"))

	buf.Reset()
	quiet := NewPrinter(&buf, false)
	quiet.Event(domain.NewTextDelta("a"))
	assert.Empty(t, buf.String())
}

func TestPrinterDebugResetsPerQuery(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Prompt("Research Query: ")
	p.Event(domain.NewTextDelta("a"))
	p.Prompt("Research Query: ")
	p.Event(domain.NewTextDelta("b"))
	p.Event(domain.NewTextDelta("c"))

	assert.Equal(t, 2, strings.Count(buf.String(), "event type: text_delta"))
}

func TestLineReader(t *testing.T) {
	r := NewLineReader(strings.NewReader("first\r\nsecond\nlast"))
	ctx := context.Background()

	for _, want := range []string{"first", "second", "last"} {
		line, err := r.ReadLine(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := r.ReadLine(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineReaderCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewLineReader(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ReadLine(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
