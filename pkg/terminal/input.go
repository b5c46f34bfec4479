package terminal

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

type lineResult struct {
	line string
	err  error
}

// LineReader reads lines from an input that cannot itself be interrupted,
// such as stdin. A background goroutine does the reading so that ReadLine can
// return as soon as its context is cancelled.
type LineReader struct {
	r     *bufio.Reader
	once  sync.Once
	lines chan lineResult
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r), lines: make(chan lineResult)}
}

// ReadLine returns the next line without its line ending. It returns io.EOF
// once the input is exhausted and ctx.Err() when ctx is cancelled first.
func (l *LineReader) ReadLine(ctx context.Context) (string, error) {
	l.once.Do(func() { go l.read() })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-l.lines:
		if !ok {
			return "", io.EOF
		}
		return res.line, res.err
	}
}

func (l *LineReader) read() {
	defer close(l.lines)
	for {
		line, err := l.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil {
			if line != "" {
				l.lines <- lineResult{line: line}
			}
			if !errors.Is(err, io.EOF) {
				l.lines <- lineResult{err: err}
			}
			return
		}
		l.lines <- lineResult{line: line}
	}
}
