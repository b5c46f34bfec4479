// Package session drives research queries through an agency: it streams the
// response, resolves clarification questions and persists completed reports.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/nstogner/agency/pkg/clarify"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/stream"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultMinReportChars         = 100
	DefaultMaxClarificationRounds = 1
)

// toolCallConversionText identifies the benign tool-call conversion failure
// when it reaches us as a foreign error without the sentinel in its chain.
const toolCallConversionText = "Failed to convert ToolCallItem using to_input_item()"

// Streamer submits a message to an agency and returns its event stream.
// Conversation memory is kept by the Streamer across calls.
type Streamer interface {
	Stream(ctx context.Context, message string) iter.Seq2[domain.Event, error]
}

// Persister writes a completed research report and returns its location.
type Persister interface {
	Persist(ctx context.Context, content, title string) (string, error)
}

// UI is where a session reports progress.
type UI interface {
	stream.Observer
	// Prompt shows the query prompt.
	Prompt(text string)
	// Info shows a one-line status message.
	Info(msg string)
	// Error shows a one-line error message.
	Error(msg string)
}

// Options configures a Controller.
type Options struct {
	Roles domain.Roles
	// MinReportChars is the exclusive lower bound on report length for persistence.
	MinReportChars int
	// MaxClarificationRounds caps how many times clarification questions are
	// asked per query. Later question sets are shown but not acted on.
	MaxClarificationRounds int
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// Controller runs research queries one at a time. A Controller is not safe
// for concurrent use; concurrent sessions each need their own.
type Controller struct {
	streamer  Streamer
	resolver  *clarify.Resolver
	persister Persister
	ui        UI
	opts      Options
	demux     *stream.Demux
	state     State
}

// New creates a Controller. A nil persister disables report persistence.
func New(streamer Streamer, answers clarify.AnswerProvider, persister Persister, ui UI, opts Options) (*Controller, error) {
	if err := opts.Roles.Validate(); err != nil {
		return nil, fmt.Errorf("invalid roles: %w", err)
	}
	if opts.MinReportChars <= 0 {
		opts.MinReportChars = DefaultMinReportChars
	}
	if opts.MaxClarificationRounds <= 0 {
		opts.MaxClarificationRounds = DefaultMaxClarificationRounds
	}
	return &Controller{
		streamer:  streamer,
		resolver:  clarify.NewResolver(answers),
		persister: persister,
		ui:        ui,
		opts:      opts,
		demux:     stream.New(opts.Roles, ui),
		state:     StateInit,
	}, nil
}

// IsQuit reports whether the input is one of the quit words.
func IsQuit(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "quit", "exit", "q":
		return true
	}
	return false
}

// IsBenign reports whether err is the tool-call conversion failure that
// follows an otherwise complete stream.
func IsBenign(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, domain.ErrToolCallConversion) || strings.Contains(err.Error(), toolCallConversionText)
}

// suppressBenign drops the tool-call conversion failure that can follow a
// fully delivered stream, so a pending clarification round still runs.
func suppressBenign(err error) error {
	if IsBenign(err) {
		slog.Debug("Suppressed benign stream error", "error", err)
		return nil
	}
	return err
}

// LineReader reads one line of user input, honoring cancellation.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Run reads queries until quit, end of input, or cancellation. Per-query
// failures are reported and never end the loop.
func (c *Controller) Run(ctx context.Context, in LineReader) error {
	for {
		c.ui.Prompt("Research Query: ")
		line, err := in.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reading query: %w", err)
		}

		query := strings.TrimSpace(line)
		if IsQuit(query) {
			return nil
		}
		if query == "" {
			continue
		}

		if _, err := c.Handle(ctx, query); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				// Interrupted while streaming or collecting answers.
				return nil
			}
			c.ReportError(err)
		}
	}
}

// ReportError shows a per-query error unless it is benign.
func (c *Controller) ReportError(err error) {
	c.transition(StateErrorReported)
	defer c.transition(StateInit)
	if IsBenign(err) {
		slog.Debug("Suppressed benign stream error", "error", err)
		return
	}
	slog.Error("Research query failed", "error", err)
	c.ui.Error(err.Error())
}

// Handle runs one query to completion: the initial stream, at most
// MaxClarificationRounds of clarification, and persistence.
//
// A stream failure does not discard what was already received; the result is
// still persisted when it qualifies and the failure is returned afterwards.
// Cancellation returns immediately without persistence.
func (c *Controller) Handle(ctx context.Context, query string) (domain.Result, error) {
	var result domain.Result
	c.state = StateInit

	c.transition(StateStreaming)
	out, streamErr := c.demux.Consume(ctx, c.streamer.Stream(ctx, query), &result)
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	streamErr = suppressBenign(streamErr)

	rounds := 0
	for streamErr == nil && out.StreamError == "" {
		questions, ok := clarify.Questions(out)
		if !ok {
			break
		}
		if rounds >= c.opts.MaxClarificationRounds {
			slog.Info("Clarification round limit reached", "rounds", rounds, "questions", len(questions))
			c.ui.Info("Further clarification requested:\n" + strings.Join(questions, "\n"))
			break
		}
		rounds++

		c.transition(StateNeedsClarification)
		c.transition(StateCollectAnswers)
		message, _, err := c.resolver.Resolve(ctx, out)
		if err != nil {
			return result, err
		}

		c.transition(StateStreamingContinuation)
		out, streamErr = c.demux.Consume(ctx, c.streamer.Stream(ctx, message), &result)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		streamErr = suppressBenign(streamErr)
	}

	if out.StreamError != "" {
		c.ui.Error("stream: " + out.StreamError)
	}

	c.transition(StateDone)
	if result.Completed {
		c.ui.Info("Research complete")
	} else {
		c.ui.Info("Process ended (research not completed)")
	}

	if c.persister != nil && result.Completed && len(result.FullText) > c.opts.MinReportChars {
		c.transition(StatePersist)
		c.persist(ctx, result, query)
	}
	c.transition(StateInit)

	return result, streamErr
}

func (c *Controller) persist(ctx context.Context, result domain.Result, title string) {
	path, err := c.persister.Persist(ctx, result.FullText, title)
	if err != nil {
		slog.Error("Failed to persist report", "error", err)
		c.ui.Error("saving report: " + err.Error())
		return
	}
	slog.Info("Report persisted", "path", path, "chars", len(result.FullText))
	c.ui.Info("Research report saved to: " + path)
}

func (c *Controller) transition(to State) {
	from := c.state
	if !canTransition(from, to) {
		slog.Warn("Unexpected state transition", "from", from, "to", to)
	}
	slog.Debug("Session state", "from", from, "to", to)
	c.state = to
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(from, to)
	}
}
