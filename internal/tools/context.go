package tools

import (
	"github.com/nautilus-run/pz/internal/clock"
)

// AskFunc prompts the operator with a question and candidate answers and
// returns the chosen answer, or an error if the prompt could not be
// answered (e.g. the session is non-interactive). cmd/pz supplies one
// AskFunc for every mode: a prompt on stderr answered by a line on stdin.
type AskFunc func(question string, options []string) (string, error)

// Context carries the per-call dependencies every handler needs: a
// filesystem sandbox, a clock, and (for Ask) a way to actually ask.
type Context struct {
	Sandbox *Sandbox
	Clock   clock.Source
	Ask     AskFunc

	// OutputLimitBytes bounds each stream of bash/grep/find/ls output.
	// Zero falls back to DefaultOutputLimitBytes.
	OutputLimitBytes int
}

// DefaultOutputLimitBytes is the fallback per-stream cap when a Context
// does not set one explicitly.
const DefaultOutputLimitBytes = 32 * 1024

func (c Context) limit() int {
	if c.OutputLimitBytes > 0 {
		return c.OutputLimitBytes
	}
	return DefaultOutputLimitBytes
}
