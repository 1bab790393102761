// Package sink defines the mode-agnostic event fan-out boundary: a single
// ModeEvent tagged union that every consumer (headless print, JSONLines,
// RPC, interactive TUI) subscribes to, independent of how the event was
// produced (session replay, a fresh session append, a provider stream, or
// a tool dispatch).
package sink

import (
	"github.com/nautilus-run/pz/internal/eventlog"
	"github.com/nautilus-run/pz/internal/provider"
	"github.com/nautilus-run/pz/internal/tools"
)

// ModeEventKind is the closed taxonomy of ModeEvent variants.
type ModeEventKind string

const (
	KindReplay   ModeEventKind = "replay"
	KindSession  ModeEventKind = "session"
	KindProvider ModeEventKind = "provider"
	KindTool     ModeEventKind = "tool"
)

// ToolPhase tags where in the start/output*/finish envelope a ToolModeEvent
// falls.
type ToolPhase string

const (
	ToolPhaseStart  ToolPhase = "start"
	ToolPhaseOutput ToolPhase = "output"
	ToolPhaseFinish ToolPhase = "finish"
)

// ToolModeEvent carries one step of a tool dispatch's envelope.
type ToolModeEvent struct {
	Phase  ToolPhase
	Call   tools.Call
	AtMs   int64
	Output tools.OutputChunk
	Result tools.Result
}

// ModeEvent is the tagged union every ModeSink consumes. Exactly one
// payload field is set, selected by Kind.
type ModeEvent struct {
	Kind ModeEventKind

	Replay   eventlog.Event // KindReplay: an event read back during session replay
	Session  eventlog.Event // KindSession: an event freshly appended this run
	Provider provider.Event // KindProvider: a raw provider stream event
	Tool     ToolModeEvent  // KindTool: one step of a tool dispatch envelope
}

func ReplayEvent(e eventlog.Event) ModeEvent   { return ModeEvent{Kind: KindReplay, Replay: e} }
func SessionEvent(e eventlog.Event) ModeEvent  { return ModeEvent{Kind: KindSession, Session: e} }
func ProviderEvent(e provider.Event) ModeEvent { return ModeEvent{Kind: KindProvider, Provider: e} }
func ToolEvent(t ToolModeEvent) ModeEvent      { return ModeEvent{Kind: KindTool, Tool: t} }

// ModeSink receives every observable event of a run. Implementations must
// not block indefinitely — a slow consumer (e.g. a laggy RPC client) should
// apply its own backpressure or drop policy rather than stall the agent
// loop that is pushing events to it.
type ModeSink interface {
	Push(ModeEvent)
}

// ToolEventAdapter adapts a ModeSink into a tools.EventSink so the tool
// runtime's start/output/finish envelope fans out as ModeEvent::Tool
// without the tools package knowing anything about ModeEvent.
type ToolEventAdapter struct {
	Sink ModeSink
}

func (a ToolEventAdapter) ToolStart(call tools.Call, atMs int64) {
	a.Sink.Push(ToolEvent(ToolModeEvent{Phase: ToolPhaseStart, Call: call, AtMs: atMs}))
}

func (a ToolEventAdapter) ToolOutput(chunk tools.OutputChunk) {
	a.Sink.Push(ToolEvent(ToolModeEvent{Phase: ToolPhaseOutput, Output: chunk}))
}

func (a ToolEventAdapter) ToolFinish(result tools.Result) {
	a.Sink.Push(ToolEvent(ToolModeEvent{Phase: ToolPhaseFinish, Result: result}))
}

// Multi fans a single Push out to several sinks, in order.
type Multi []ModeSink

func (m Multi) Push(e ModeEvent) {
	for _, s := range m {
		s.Push(e)
	}
}
