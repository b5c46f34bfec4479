package clarify

import (
	"context"
	"fmt"
	"io"
)

// Canned answers from a fixed map keyed by the exact question text.
type Canned struct {
	Answers map[string]string
	// Default is returned for questions missing from Answers.
	Default string
}

func (c Canned) Answer(_ context.Context, question string) (string, error) {
	if a, ok := c.Answers[question]; ok {
		return a, nil
	}
	return c.Default, nil
}

// LineReader reads one line of user input, honoring cancellation.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Interactive asks each question on out and reads the answer from in.
type Interactive struct {
	In  LineReader
	Out io.Writer
}

func (i Interactive) Answer(ctx context.Context, question string) (string, error) {
	fmt.Fprintf(i.Out, "\n%s\n> ", question)
	line, err := i.In.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	return line, nil
}
