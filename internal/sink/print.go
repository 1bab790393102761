package sink

import (
	"fmt"
	"io"

	"github.com/nautilus-run/pz/internal/provider"
)

// Print is the headless mode sink: it writes provider text chunks to Out,
// always suppresses replay/session events, writes tool events and provider
// err/usage/tool metadata only when Verbose is set, and
// tracks the final stop reason so the caller can map it to a process exit
// code once the turn completes.
type Print struct {
	Out     io.Writer
	Verbose bool

	lastStop provider.StopReason
	sawStop  bool
}

func NewPrint(out io.Writer) *Print {
	return &Print{Out: out}
}

func (p *Print) Push(e ModeEvent) {
	switch e.Kind {
	case KindProvider:
		p.pushProvider(e.Provider)
	case KindTool:
		if p.Verbose {
			p.pushTool(e.Tool)
		}
	case KindReplay, KindSession:
		// suppressed in print mode
	}
}

func (p *Print) pushProvider(event provider.Event) {
	switch event.Kind {
	case provider.EventText:
		fmt.Fprint(p.Out, event.Text)
	case provider.EventStop:
		p.lastStop = event.Stop
		p.sawStop = true
	case provider.EventErr:
		if p.Verbose {
			fmt.Fprintf(p.Out, "\n[err] %s\n", event.Text)
		}
	case provider.EventUsage:
		if p.Verbose {
			fmt.Fprintf(p.Out, "\n[usage] in=%d out=%d total=%d\n", event.Usage.InputTokens, event.Usage.OutputTokens, event.Usage.TotalTokens)
		}
	case provider.EventToolCall:
		if p.Verbose {
			fmt.Fprintf(p.Out, "\n[tool_call] %s %s\n", event.ToolName, string(event.ToolArgs))
		}
	case provider.EventToolResult:
		if p.Verbose {
			fmt.Fprintf(p.Out, "\n[tool_result] id=%s is_err=%v out=%s\n", event.ToolID, event.ToolIsErr, event.ToolOut)
		}
	}
}

func (p *Print) pushTool(t ToolModeEvent) {
	switch t.Phase {
	case ToolPhaseStart:
		fmt.Fprintf(p.Out, "\n[tool] %s %s started\n", t.Call.Name, t.Call.ID)
	case ToolPhaseFinish:
		fmt.Fprintf(p.Out, "[tool] %s %s finished: %s\n", t.Call.Name, t.Call.ID, t.Result.Final.Summary())
	}
}

// Flush is a no-op for Print: every Push writes straight to Out, so there
// is nothing buffered to flush.
func (p *Print) Flush() error { return nil }

// ExitCode maps the final observed stop reason to the process exit code
// defined in the CLI surface: 0 for a clean stop, 1 for an error stop. A
// run that never saw a stop event (e.g. the loop errored before producing
// one) is reported as 1 as well.
func (p *Print) ExitCode() int {
	if !p.sawStop {
		return 1
	}
	switch p.lastStop {
	case provider.StopDone, provider.StopMaxTurns, provider.StopCanceled:
		return 0
	default:
		return 1
	}
}
