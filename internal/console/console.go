// Package console collects operator input for a run: the ticker to
// analyse and feedback on interactive drafts.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// ErrInterrupted is returned when the operator presses Ctrl-C at a prompt.
var ErrInterrupted = errors.New("input interrupted")

// Collector asks the operator a question and returns the answer.
type Collector interface {
	Collect(ctx context.Context, prompt string) (string, error)
}

type line struct {
	text string
	err  error
}

// Readline is a Collector backed by an interactive line editor.
type Readline struct {
	rl *readline.Instance

	mu      sync.Mutex
	pending chan line
}

// NewReadline opens a line editor on in and out. Nil streams fall back to
// the process terminal.
func NewReadline(in io.ReadCloser, out io.Writer) (*Readline, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		Stdin:           in,
		Stdout:          out,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open console: %w", err)
	}
	return &Readline{rl: rl}, nil
}

// Collect implements Collector. A read abandoned by a cancelled context is
// handed to the next call rather than lost.
func (c *Readline) Collect(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	if c.pending == nil {
		c.rl.SetPrompt(prompt)
		ch := make(chan line, 1)
		c.pending = ch
		go func() {
			text, err := c.rl.Readline()
			ch <- line{text: text, err: err}
		}()
	}
	pending := c.pending
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-pending:
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		if errors.Is(l.err, readline.ErrInterrupt) {
			return "", ErrInterrupted
		}
		return l.text, l.err
	}
}

// Close releases the terminal.
func (c *Readline) Close() error {
	return c.rl.Close()
}

// Script is a Collector that replays fixed answers, then returns io.EOF.
type Script struct {
	mu      sync.Mutex
	answers []string
	prompts []string
}

// NewScript returns a collector answering with answers in order.
func NewScript(answers ...string) *Script {
	return &Script{answers: answers}
}

// Collect implements Collector.
func (s *Script) Collect(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.answers) == 0 {
		return "", io.EOF
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

// Prompts returns every prompt shown so far.
func (s *Script) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Ticker asks until a non-empty ticker is entered and returns it in
// upper case.
func Ticker(ctx context.Context, c Collector) (string, error) {
	for {
		answer, err := c.Collect(ctx, "Please input ticker: ")
		if err != nil {
			return "", err
		}
		if ticker := strings.ToUpper(strings.TrimSpace(answer)); ticker != "" {
			return ticker, nil
		}
	}
}

// IsNoFeedback reports whether answer declines further revision: empty, or
// "no" in any case, ignoring surrounding space.
func IsNoFeedback(answer string) bool {
	answer = strings.TrimSpace(answer)
	return answer == "" || strings.EqualFold(answer, "no")
}
