// Package stream demultiplexes an agency's interleaved event stream into
// per-role buffers.
package stream

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/nstogner/agency/pkg/domain"
)

// Observer receives side-effect notifications while a stream is consumed.
// Implementations must not block for long; they run on the consuming goroutine.
type Observer interface {
	// Event is called for every event before it is interpreted.
	Event(e domain.Event)
	// AgentSwitched is called when a different agent becomes active.
	AgentSwitched(agent string)
	// Text is called for every text delta with the agent it is attributed to.
	Text(agent string, kind domain.RoleKind, text string)
	// ToolAction is called for tool invocation notices.
	ToolAction(agent string, action domain.ToolAction)
}

// NopObserver ignores all notifications. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) Event(domain.Event)                   {}
func (NopObserver) AgentSwitched(string)                 {}
func (NopObserver) Text(string, domain.RoleKind, string) {}
func (NopObserver) ToolAction(string, domain.ToolAction) {}

// Outcome is what one stream leaves behind for the clarification step.
type Outcome struct {
	// Clarifier is the concatenated text attributed to the clarifier role.
	Clarifier string
	// Questions is set when the questions arrived as structured output.
	Questions    []string
	HasQuestions bool
	// StreamError is the message of an inline error event that ended the stream.
	StreamError string
}

// Demux attributes text deltas to the active agent. A Demux is not safe for
// concurrent use; each research session owns its own.
type Demux struct {
	roles    domain.Roles
	observer Observer
}

// New creates a Demux for the given role configuration. A nil observer is
// replaced with NopObserver.
func New(roles domain.Roles, observer Observer) *Demux {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Demux{roles: roles, observer: observer}
}

// Consume drains one event sequence. Researcher text is appended to result,
// which the caller keeps across the initial and continuation streams.
//
// An inline error event stops consumption and is reported in the Outcome,
// not as an error. Errors yielded by the sequence itself, and context
// cancellation, are returned.
func (d *Demux) Consume(ctx context.Context, events iter.Seq2[domain.Event, error], result *domain.Result) (Outcome, error) {
	var (
		out       Outcome
		clarifier strings.Builder
		terminal  strings.Builder
		current   = d.roles.Entry
	)
	terminal.WriteString(result.FullText)

	// Flush on every exit so text seen before an error or cancellation is kept.
	defer func() {
		out.Clarifier = clarifier.String()
		result.FullText = terminal.String()
	}()

	for ev, err := range events {
		if err != nil {
			return out, err
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		d.observer.Event(ev)

		switch ev.Type {
		case domain.EventAgentSwitched:
			if ev.AgentSwitch == nil {
				continue
			}
			current = ev.AgentSwitch.Agent
			slog.Debug("Agent switched", "agent", current)
			d.observer.AgentSwitched(current)

		case domain.EventTextDelta:
			if ev.TextDelta == nil {
				continue
			}
			kind := d.roles.Kind(current)
			d.observer.Text(current, kind, ev.TextDelta.Text)
			switch kind {
			case domain.RoleKindClarifier:
				clarifier.WriteString(ev.TextDelta.Text)
			case domain.RoleKindResearcher:
				terminal.WriteString(ev.TextDelta.Text)
				result.Completed = true
			}

		case domain.EventToolAction:
			if ev.ToolAction != nil {
				d.observer.ToolAction(current, *ev.ToolAction)
			}

		case domain.EventStructuredOutput:
			if ev.Structured != nil && ev.Structured.Questions != nil {
				out.Questions = ev.Structured.Questions
				out.HasQuestions = true
			}

		case domain.EventError:
			msg := "unknown stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			slog.Warn("Stream error event", "agent", current, "message", msg)
			out.StreamError = msg
			return out, nil

		default:
			slog.Debug("Ignoring unknown event", "type", ev.Type)
		}
	}
	return out, nil
}
