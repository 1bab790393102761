// Package provider implements the transport boundary between the agent
// loop and a model backend: a lazy, cancellable, pull-based stream of
// ProviderEvents, with two interchangeable backends (an external-process
// transport and a native HTTP transport) and a shared retry policy.
package provider

import (
	"context"
	"encoding/json"
)

// EventKind is the closed taxonomy of provider stream events.
type EventKind string

const (
	EventText       EventKind = "text"
	EventThinking   EventKind = "thinking"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventUsage      EventKind = "usage"
	EventStop       EventKind = "stop"
	EventErr        EventKind = "err"
)

// StopReason mirrors the session log's stop reasons, except that the
// max-turns reason is spelled "max_turns" here and "max_out" in the log.
type StopReason string

const (
	StopDone      StopReason = "done"
	StopTool      StopReason = "tool"
	StopMaxTurns  StopReason = "max_turns"
	StopCanceled  StopReason = "canceled"
	StopErr       StopReason = "err"
)

// Usage reports token accounting for one turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Event is the tagged union yielded by Stream.Next. Exactly one payload
// field is meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	Text      string // EventText, EventThinking, EventErr
	ToolID    string // EventToolCall, EventToolResult
	ToolName  string // EventToolCall
	ToolArgs  json.RawMessage // EventToolCall
	ToolOut   string // EventToolResult
	ToolIsErr bool   // EventToolResult
	Usage     Usage  // EventUsage
	Stop      StopReason // EventStop
}

func TextEvent(s string) Event     { return Event{Kind: EventText, Text: s} }
func ThinkingEvent(s string) Event { return Event{Kind: EventThinking, Text: s} }
func ErrEvent(s string) Event      { return Event{Kind: EventErr, Text: s} }
func UsageEvent(u Usage) Event     { return Event{Kind: EventUsage, Usage: u} }
func StopEvent(r StopReason) Event { return Event{Kind: EventStop, Stop: r} }

func ToolCallEvent(id, name string, args json.RawMessage) Event {
	return Event{Kind: EventToolCall, ToolID: id, ToolName: name, ToolArgs: args}
}

func ToolResultEvent(id, out string, isErr bool) Event {
	return Event{Kind: EventToolResult, ToolID: id, ToolOut: out, ToolIsErr: isErr}
}

// Msg is one entry in the conversation history sent with a request.
type Msg struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is an assistant-issued tool invocation carried in history.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolSpec describes one callable tool for the provider-facing schema.
type ToolSpec struct {
	Name   string
	Desc   string
	Schema map[string]any
}

// Options carries per-request tuning knobs.
type Options struct {
	Temperature  *float64
	MaxTokens    *int
	SystemPrompt string
	PromptCache  bool
}

// Request is one complete turn request: model, history, available tools.
type Request struct {
	Model         string
	ProviderLabel string
	Msgs          []Msg
	Tools         []ToolSpec
	Opts          Options
}

// Stream is a lazy, cancellable sequence of Events. Next blocks until the
// next event is available, ctx is canceled, or the stream ends (ok=false,
// err=nil). Close releases any underlying transport resources and must be
// safe to call even if Next is never called again — it must never
// deadlock when the caller stops pulling mid-stream.
type Stream interface {
	Next(ctx context.Context) (event Event, ok bool, err error)
	Close() error
}

// Provider starts a new turn stream.
type Provider interface {
	Start(ctx context.Context, req Request) (Stream, error)
}

// MissingProvider is the selection-precedence fallback: it yields a
// single err event followed by stop{err}, per the "missing-provider
// stub" requirement.
type MissingProvider struct {
	Reason string
}

func (m MissingProvider) Start(ctx context.Context, req Request) (Stream, error) {
	reason := m.Reason
	if reason == "" {
		reason = "no provider configured"
	}
	return &staticStream{events: []Event{ErrEvent(reason), StopEvent(StopErr)}}, nil
}

// staticStream replays a fixed slice of events; used by MissingProvider
// and by tests that don't need a real transport.
type staticStream struct {
	events []Event
	pos    int
}

func (s *staticStream) Next(ctx context.Context) (Event, bool, error) {
	if ctx.Err() != nil {
		return Event{}, false, ctx.Err()
	}
	if s.pos >= len(s.events) {
		return Event{}, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

func (s *staticStream) Close() error { return nil }

// NewStaticStream builds a Stream that replays events in order, useful in
// tests exercising the agent loop without a live transport.
func NewStaticStream(events []Event) Stream {
	return &staticStream{events: events}
}
