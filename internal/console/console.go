// Package console is the terminal front end of a translation session.
//
// A [Console] renders session updates (it implements render.Sink), answers
// confirmation prompts from the same input it reads commands from (it
// implements render.Confirmer) and drives a session controller from typed
// commands via [Console.Run].
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/MrWong99/livetranslate/internal/render"
	"github.com/MrWong99/livetranslate/pkg/types"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiDim   = "\x1b[2m"
)

const timeLayout = "15:04:05"

var (
	_ render.Sink      = (*Console)(nil)
	_ render.Confirmer = (*Console)(nil)
)

// Console reads commands from an input stream and writes session output to
// a terminal. All methods are safe for concurrent use.
type Console struct {
	in       io.Reader
	colorize bool

	mu       sync.Mutex
	out      io.Writer
	controls render.Controls

	readOnce sync.Once
	lines    chan string
}

// Option configures a [Console].
type Option func(*Console)

// WithColor forces ANSI colours on or off instead of detecting a terminal.
func WithColor(on bool) Option {
	return func(c *Console) { c.colorize = on }
}

// New creates a Console reading from in and writing to out. Colours are
// enabled when out is a terminal and NO_COLOR is unset.
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		in:       in,
		out:      out,
		colorize: shouldColorize(out),
		lines:    make(chan string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// LineAdded prints a translated line.
func (c *Console) LineAdded(line types.TranslationLine) {
	header := fmt.Sprintf("[%s] #%d %s→%s", line.Timestamp.Format(timeLayout), line.Sequence, line.SourceLang, line.TargetLang)
	if c.colorize {
		header = ansiDim + header + ansiReset
	}
	c.printf("%s\n  %s\n  %s\n", header, line.Original, line.Translated)
}

// StatusChanged prints the session status with a green or red indicator.
func (c *Console) StatusChanged(text string, healthy bool) {
	dot := "●"
	if c.colorize {
		colour := ansiRed
		if healthy {
			colour = ansiGreen
		}
		dot = colour + dot + ansiReset
	} else if !healthy {
		dot = "○"
	}
	c.printf("%s %s\n", dot, text)
}

// ControlsChanged remembers the available controls and prints the commands
// they allow.
func (c *Console) ControlsChanged(ctl render.Controls) {
	c.mu.Lock()
	c.controls = ctl
	c.mu.Unlock()
	c.printf("  commands: %s\n", strings.Join(available(ctl), ", "))
}

// Controls returns the controls last reported by the session.
func (c *Console) Controls() render.Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls
}

// Confirm prints prompt and reads a yes/no answer from the console input.
// Anything other than y or yes, including closed input, declines.
func (c *Console) Confirm(prompt string) bool {
	c.printf("%s [y/N] ", prompt)
	answer, ok := <-c.input()
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// input starts the reader goroutine on first use and returns the line
// channel. The channel is closed when the input ends.
func (c *Console) input() <-chan string {
	c.readOnce.Do(func() {
		go func() {
			defer close(c.lines)
			sc := bufio.NewScanner(c.in)
			for sc.Scan() {
				c.lines <- sc.Text()
			}
		}()
	})
	return c.lines
}

// next returns the next input line, or false when the input ended or ctx
// was cancelled.
func (c *Console) next(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case l, ok := <-c.input():
		return l, ok
	}
}

func available(ctl render.Controls) []string {
	var cmds []string
	if ctl.ToggleEnabled {
		if ctl.ToggleLabel == "" {
			cmds = append(cmds, "toggle")
		} else {
			cmds = append(cmds, fmt.Sprintf("toggle (%s)", ctl.ToggleLabel))
		}
	}
	if ctl.LanguageEnabled {
		cmds = append(cmds, "lang")
	}
	if ctl.QualityEnabled {
		cmds = append(cmds, "quality")
	}
	if ctl.EndEnabled {
		cmds = append(cmds, "end")
	}
	return append(cmds, "history", "status", "quit")
}
