// Package printer renders easel's CLI output. Status lines and errors go to
// Status so that stdout carries only command data (stats, watched events).
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
)

// Status receives progress lines and formatted errors.
var Status io.Writer = os.Stderr

func init() {
	// NO_COLOR disables colour; otherwise colour is kept even without a TTY.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success writes a green status line.
func Success(format string, a ...any) {
	green.Fprintf(Status, "✓ "+format, a...)
}

// Step writes a cyan progress line.
func Step(format string, a ...any) {
	cyan.Fprintf(Status, "→ "+format, a...)
}

// Warning writes a yellow line to w.
func Warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "⚠️  "+format, a...)
}

// Heading writes a cyan section heading
func Heading(w io.Writer, format string, a ...any) {
	cyan.Fprintf(w, format, a...)
}

// Dim writes de-emphasised text (timestamps, ids)
func Dim(w io.Writer, format string, a ...any) {
	faint.Fprintf(w, format, a...)
}

// Error reports a failure on Status and returns an error carrying only the
// title, for cobra to propagate silently.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details, printed in key order.
func ErrorWithContext(title string, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(Status, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(Status, "\n%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(Status)
		for _, k := range keys {
			fmt.Fprintf(Status, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Status, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Status, "\nTry:\n")
		for _, s := range suggestions {
			fmt.Fprintf(Status, "  - %s\n", s)
		}
	}
	return fmt.Errorf("%s", title)
}
