// Package markdown is a tiny text-decoration helper used when rendering
// human-readable change summaries. With Plain set, all decoration methods
// return their input unchanged so the same rendering code can produce both
// Markdown and plain-text output.
package markdown

import (
	"fmt"
	"strings"
)

// Formatter decorates strings with Markdown markup.
type Formatter struct {
	// Plain disables all decoration.
	Plain bool
}

// Bold wraps s in strong emphasis.
func (f Formatter) Bold(s string) string {
	if f.Plain {
		return s
	}
	return fmt.Sprintf("**%s**", s)
}

func (f Formatter) heading(s string, n int) string {
	if f.Plain {
		return s
	}
	return fmt.Sprintf("%s %s", strings.Repeat("#", n), s)
}

// H1 renders a level-one heading.
func (f Formatter) H1(s string) string { return f.heading(s, 1) }

// H2 renders a level-two heading.
func (f Formatter) H2(s string) string { return f.heading(s, 2) }

// H3 renders a level-three heading.
func (f Formatter) H3(s string) string { return f.heading(s, 3) }
