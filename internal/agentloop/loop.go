package agentloop

import (
	"context"
	"errors"
	"fmt"

	"github.com/nautilus-run/pz/internal/clock"
	"github.com/nautilus-run/pz/internal/eventlog"
	"github.com/nautilus-run/pz/internal/provider"
	"github.com/nautilus-run/pz/internal/sink"
	"github.com/nautilus-run/pz/internal/tools"
)

// Compactor runs compaction for sid at the given timestamp.
type Compactor func(sid string, nowMs int64) error

// Input is everything one call to Run needs to drive a session forward by
// one or more turns.
type Input struct {
	SID           string
	Prompt        string
	Model         string
	ProviderLabel string
	Provider      provider.Provider
	Store         *eventlog.Store
	Registry      *tools.Registry
	ToolMask      tools.Mask
	ToolContext   tools.Context
	Sink          sink.ModeSink
	SystemPrompt  string
	ProviderOpts  provider.Options
	MaxTurns      int // 0 = unlimited
	Cancel        <-chan struct{}
	Clock         clock.Source
	Compactor     Compactor
	CompactEvery  int
}

func (in Input) validate() error {
	if in.SID == "" {
		return errors.New("sid is required")
	}
	if in.Prompt == "" {
		return errors.New("prompt is required")
	}
	if in.Model == "" {
		return errors.New("model is required")
	}
	if in.Compactor != nil && in.CompactEvery <= 0 {
		return errors.New("compact_every must be > 0 when a compactor is set")
	}
	return nil
}

// runtimeErr wraps err with a named stage so the loop can report it as a
// session err event with text "runtime:<stage>:<error-name>" before it
// propagates to the caller.
type runtimeErr struct {
	stage string
	err   error
}

func (e *runtimeErr) Error() string { return fmt.Sprintf("runtime:%s:%s", e.stage, e.err) }
func (e *runtimeErr) Unwrap() error { return e.err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &runtimeErr{stage: stage, err: err}
}

// Run executes the replay -> prompt -> turn-loop -> dispatch state
// machine described by the agent loop component, pushing every observable
// event through in.Sink, until a terminal stop or an unrecoverable error.
func Run(ctx context.Context, in Input) error {
	if err := in.validate(); err != nil {
		return err
	}
	maxTurns := in.MaxTurns

	l := &loop{in: in, hist: &history{}}

	if err := l.replay(); err != nil {
		return l.report("replay_open", err)
	}
	if err := l.persistPrompt(); err != nil {
		return err
	}

	toolSpecs := in.Registry.Specs(in.ToolMask)
	providerTools := make([]provider.ToolSpec, 0, len(toolSpecs))
	for _, s := range toolSpecs {
		providerTools = append(providerTools, provider.ToolSpec{Name: s.Name, Desc: s.Desc, Schema: s.Schema})
	}

	for turn := 0; maxTurns == 0 || turn < maxTurns; turn++ {
		if l.canceled() {
			return l.terminalCancel()
		}

		sawToolCall, err := l.runTurn(ctx, providerTools)
		if err != nil {
			return err
		}
		if !sawToolCall {
			return nil
		}
	}

	return l.appendStop(eventlog.StopMaxOut)
}

type loop struct {
	in          Input
	hist        *history
	appendCount int
}

func (l *loop) canceled() bool {
	if l.in.Cancel == nil {
		return false
	}
	select {
	case <-l.in.Cancel:
		return true
	default:
		return false
	}
}

func (l *loop) terminalCancel() error {
	l.in.Sink.Push(sink.ProviderEvent(provider.StopEvent(provider.StopCanceled)))
	return l.appendStop(eventlog.StopCanceled)
}

// report appends a session err event for a failed stage, then returns the
// original (unwrapped) error to the caller. Reporting is best-effort: if
// the append itself fails, the original error still propagates.
func (l *loop) report(stage string, err error) error {
	wrapped := stageErr(stage, err)
	if ev, appendErr := l.in.Store.Append(l.in.SID, eventlog.Err(wrapped.Error())); appendErr == nil {
		l.in.Sink.Push(sink.SessionEvent(ev))
	}
	return err
}

func (l *loop) replay() error {
	replayer, err := l.in.Store.Replay(l.in.SID)
	if err != nil {
		return err
	}
	defer replayer.Close()

	for {
		ev, ok := replayer.Next()
		if !ok {
			break
		}
		l.in.Sink.Push(sink.ReplayEvent(ev))
		l.hist.fold(ev.Data)
	}
	return replayer.Err()
}

func (l *loop) persistPrompt() error {
	ev, err := l.in.Store.Append(l.in.SID, eventlog.Prompt(l.in.Prompt))
	if err != nil {
		return l.report("store_append", err)
	}
	l.in.Sink.Push(sink.SessionEvent(ev))
	l.hist.appendUser(l.in.Prompt)
	return l.maybeCompact()
}

func (l *loop) appendStop(reason eventlog.StopReason) error {
	ev, err := l.in.Store.Append(l.in.SID, eventlog.Stop(reason))
	if err != nil {
		return l.report("store_append", err)
	}
	l.in.Sink.Push(sink.SessionEvent(ev))
	return l.maybeCompact()
}

func (l *loop) maybeCompact() error {
	l.appendCount++
	if l.in.Compactor == nil || l.in.CompactEvery <= 0 {
		return nil
	}
	if l.appendCount%l.in.CompactEvery != 0 {
		return nil
	}
	if err := l.in.Compactor(l.in.SID, l.in.Clock.NowMs()); err != nil {
		return l.report("compact", err)
	}
	return nil
}

// runTurn starts one provider stream, drains it, dispatching tool calls as
// they arrive, and reports whether any tool_call was seen this turn.
func (l *loop) runTurn(ctx context.Context, toolSpecs []provider.ToolSpec) (bool, error) {
	req := provider.Request{
		Model:         l.in.Model,
		ProviderLabel: l.in.ProviderLabel,
		Msgs:          l.hist.msgs,
		Tools:         toolSpecs,
		Opts:          withSystemPrompt(l.in.ProviderOpts, l.in.SystemPrompt),
	}

	stream, err := l.in.Provider.Start(ctx, req)
	if err != nil {
		return false, l.report("provider_start", err)
	}
	defer stream.Close()

	var sawToolCall bool
	var assistantText string

	for {
		event, ok, err := stream.Next(ctx)
		if err != nil {
			return sawToolCall, l.report("stream_next", err)
		}
		if !ok {
			break
		}
		l.in.Sink.Push(sink.ProviderEvent(event))

		switch event.Kind {
		case provider.EventText:
			assistantText += event.Text
		case provider.EventUsage:
			if err := l.appendSessionEvent(eventlog.Usage(event.Usage.InputTokens, event.Usage.OutputTokens, event.Usage.TotalTokens)); err != nil {
				return sawToolCall, err
			}
		case provider.EventToolCall:
			sawToolCall = true
			if err := l.dispatchToolCall(ctx, event); err != nil {
				return sawToolCall, err
			}
		case provider.EventStop:
			// terminal marker handled after the loop drains below
		case provider.EventErr:
			if err := l.appendSessionEvent(eventlog.Err(event.Text)); err != nil {
				return sawToolCall, err
			}
		}
	}

	if assistantText != "" {
		if err := l.appendSessionEvent(eventlog.Text(assistantText)); err != nil {
			return sawToolCall, err
		}
		l.hist.appendAssistantText(assistantText)
	}

	if !sawToolCall {
		if err := l.appendStop(eventlog.StopDone); err != nil {
			return sawToolCall, err
		}
	}

	return sawToolCall, nil
}

func (l *loop) appendSessionEvent(body eventlog.EventBody) error {
	ev, err := l.in.Store.Append(l.in.SID, body)
	if err != nil {
		return l.report("store_append", err)
	}
	l.in.Sink.Push(sink.SessionEvent(ev))
	return l.maybeCompact()
}

// dispatchToolCall records the provider's tool_call, runs it (synthesizing
// a failure result for an unknown tool or a kind mismatch rather than
// aborting the loop), records the tool_result, and extends history with
// both sides so the next turn sees the full exchange.
func (l *loop) dispatchToolCall(ctx context.Context, event provider.Event) error {
	if err := l.appendSessionEvent(eventlog.ToolCall(event.ToolID, event.ToolName, string(event.ToolArgs))); err != nil {
		return err
	}
	l.hist.appendAssistantToolCall(event.ToolID, event.ToolName, event.ToolArgs)

	call := tools.Call{ID: event.ToolID, Name: event.ToolName, Args: event.ToolArgs}
	if entry, ok := l.in.Registry.Lookup(event.ToolName); ok {
		call.Kind = entry.Kind
	}

	adapter := sink.ToolEventAdapter{Sink: l.in.Sink}
	result, err := tools.Run(ctx, l.in.Registry, call, l.in.ToolContext, adapter, l.in.Clock)

	var out string
	var isErr bool
	if err != nil {
		isErr = true
		if errors.Is(err, tools.ErrUnknownTool) {
			out = fmt.Sprintf("tool-not-found:%s", event.ToolName)
		} else {
			out = fmt.Sprintf("invalid tool arguments for %s", event.ToolName)
		}
	} else {
		out = result.CombinedText()
		isErr = result.Final.IsErr()
		if isErr && out == "" {
			out = result.Final.Summary()
		}
	}

	providerResult := provider.ToolResultEvent(event.ToolID, out, isErr)
	l.in.Sink.Push(sink.ProviderEvent(providerResult))

	if err := l.appendSessionEvent(eventlog.ToolResult(event.ToolID, out, isErr)); err != nil {
		return err
	}
	l.hist.appendToolResult(event.ToolID, out)
	return nil
}

func withSystemPrompt(opts provider.Options, systemPrompt string) provider.Options {
	if systemPrompt != "" {
		opts.SystemPrompt = systemPrompt
	}
	return opts
}
