package tools

import (
	"context"
	"fmt"

	"github.com/nautilus-run/pz/internal/clock"
)

// EventSink receives the three-event dispatch envelope
// (start -> output* -> finish) that every tool call produces. Mode sinks
// implement this by wrapping their own ModeEvent emission; the runtime
// itself never constructs a ModeEvent.
type EventSink interface {
	ToolStart(call Call, atMs int64)
	ToolOutput(chunk OutputChunk)
	ToolFinish(result Result)
}

// NoopSink discards every event; useful for tests that only care about the
// returned Result.
type NoopSink struct{}

func (NoopSink) ToolStart(Call, int64)      {}
func (NoopSink) ToolOutput(OutputChunk)     {}
func (NoopSink) ToolFinish(Result)          {}

// Run looks up call.Name, validates call.Kind against the registry entry,
// and dispatches to the handler, emitting the start/output*/finish
// envelope on sink as it goes.
//
// Lookup and kind-validation failures return before emitting anything —
// the caller (the agent loop) is expected to synthesize a tool_result
// itself for an unknown tool name, exactly as it does for a provider-side
// tool-call argument parse failure. A handler error likewise returns
// without a finish event; only a successful handler invocation reaches
// ToolFinish.
func Run(ctx context.Context, reg *Registry, call Call, tc Context, sink EventSink, clk clock.Source) (Result, error) {
	entry, ok := reg.Lookup(call.Name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	if entry.Kind != call.Kind {
		return Result{}, fmt.Errorf("%w: %s expected %s, got %s", ErrKindMismatch, call.Name, entry.Kind, call.Kind)
	}

	startedAt := clk.NowMs()
	sink.ToolStart(call, startedAt)

	result, err := entry.Handler(ctx, call, tc)
	if err != nil {
		return Result{}, err
	}

	result.CallID = call.ID
	result.StartedAtMs = startedAt
	result.EndedAtMs = clk.NowMs()

	for _, chunk := range result.Out {
		sink.ToolOutput(chunk)
	}
	sink.ToolFinish(result)

	return result, nil
}
