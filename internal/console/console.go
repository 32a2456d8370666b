// Package console implements the interactive line REPL and the caller-side
// retry and circuit-breaker guard around the turn controller.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/stupiduntilnot/earnings-agent/internal/agent"
)

const (
	DefaultPrompt = "\nYou: "
	maxLineBytes  = 1 << 20
)

// Renderer prints answers. Colours are dropped when out is not a terminal.
type Renderer struct {
	out    io.Writer
	answer lipgloss.Style
	failed lipgloss.Style
}

func NewRenderer(out io.Writer) *Renderer {
	r := lipgloss.NewRenderer(out)
	return &Renderer{
		out:    out,
		answer: r.NewStyle().Foreground(lipgloss.Color("5")).TabWidth(lipgloss.NoTabConversion),
		failed: r.NewStyle().Foreground(lipgloss.Color("1")).TabWidth(lipgloss.NoTabConversion),
	}
}

// Answer writes one answer followed by a newline. Lines are styled one by
// one so multi-line reports keep their layout.
func (r *Renderer) Answer(text string) {
	text = Sanitize(text)
	style := r.answer
	if agent.IsError(text) {
		style = r.failed
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = style.Render(line)
	}
	fmt.Fprintln(r.out, strings.Join(lines, "\n"))
}

// Sanitize drops invalid UTF-8 such as lone surrogate halves.
func Sanitize(text string) string {
	return strings.ToValidUTF8(text, "")
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// AskFunc answers one question.
type AskFunc func(ctx context.Context, question string) string

type REPL struct {
	In           io.Reader
	Out          io.Writer
	Renderer     *Renderer
	FirstMessage string
	Prompt       string
	// ShowPrompt is usually IsTerminal(os.Stdin); piped input gets no prompt.
	ShowPrompt bool
	Ask        AskFunc
}

// Run prints the greeting and answers lines until EOF or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	if r.Ask == nil {
		return fmt.Errorf("console: ask func is required")
	}
	renderer := r.Renderer
	if renderer == nil {
		renderer = NewRenderer(r.Out)
	}
	prompt := r.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if r.FirstMessage != "" {
		renderer.Answer(r.FirstMessage)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.In)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if r.ShowPrompt {
			fmt.Fprint(r.Out, prompt)
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			question := strings.TrimSpace(line)
			if question == "" {
				continue
			}
			renderer.Answer(r.Ask(ctx, question))
		}
	}
}
