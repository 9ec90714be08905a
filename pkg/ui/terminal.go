// Package ui prints human-facing output: status lines and page progress.
// Structured logs go through pkg/logger instead.
package ui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

func colorize(colorString string) func(string) string {
	return func(text string) string {
		return fmt.Sprintf(colorString, text)
	}
}

func plain(text string) string { return text }

// Terminal writes status messages. Color is used only when the writer is a
// terminal; Quiet suppresses everything except errors.
type Terminal struct {
	out   io.Writer
	color bool
	Quiet bool
}

// NewTerminal returns a Terminal writing to stdout
func NewTerminal() *Terminal {
	return NewTerminalWriter(os.Stdout)
}

// NewTerminalWriter returns a Terminal writing to w
func NewTerminalWriter(w io.Writer) *Terminal {
	t := &Terminal{out: w}
	if f, ok := w.(*os.File); ok {
		t.color = term.IsTerminal(int(f.Fd()))
	}
	return t
}

// Writer returns the underlying writer
func (t *Terminal) Writer() io.Writer {
	return t.out
}

// IsTTY reports whether output goes to an interactive terminal
func (t *Terminal) IsTTY() bool {
	return t.color
}

func (t *Terminal) paint(fn func(string) string) func(string) string {
	if t.color {
		return fn
	}
	return plain
}

// Error prints an error message
func (t *Terminal) Error(msg string, err error) {
	if err != nil {
		msg += ": " + err.Error()
	}
	fmt.Fprintln(t.out, t.paint(Red)(msg))
}

// Success prints a success message
func (t *Terminal) Success(msg string) {
	if t.Quiet {
		return
	}
	fmt.Fprintln(t.out, t.paint(Green)(msg))
}

// Info prints a label and value
func (t *Terminal) Info(label, value string) {
	if t.Quiet {
		return
	}
	fmt.Fprintf(t.out, "%s: %s\n", t.paint(Cyan)(label), t.paint(Yellow)(value))
}

// Warning prints a warning message
func (t *Terminal) Warning(msg string) {
	if t.Quiet {
		return
	}
	fmt.Fprintln(t.out, t.paint(Yellow)(msg))
}

// Highlight prints a highlighted message
func (t *Terminal) Highlight(msg string) {
	if t.Quiet {
		return
	}
	fmt.Fprintln(t.out, t.paint(Magenta)(msg))
}
