package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nautilus-run/pz/internal/clock"
	"github.com/nautilus-run/pz/internal/eventlog"
	"github.com/nautilus-run/pz/internal/provider"
	"github.com/nautilus-run/pz/internal/sink"
	"github.com/nautilus-run/pz/internal/testutil"
	"github.com/nautilus-run/pz/internal/tools"
)

// recordingSink collects every ModeEvent pushed to it, in order.
type recordingSink struct {
	events []sink.ModeEvent
}

func (r *recordingSink) Push(e sink.ModeEvent) { r.events = append(r.events, e) }

func (r *recordingSink) sessionBodies() []eventlog.EventBody {
	var out []eventlog.EventBody
	for _, e := range r.events {
		if e.Kind == sink.KindSession {
			out = append(out, e.Session.Data)
		}
	}
	return out
}

// scriptedProvider returns one fixed Stream per call to Start, in order;
// once every scripted turn is used, Start returns a stream holding a single
// stop{done} event.
type scriptedProvider struct {
	turns [][]provider.Event
	calls int
}

func (p *scriptedProvider) Start(ctx context.Context, req provider.Request) (provider.Stream, error) {
	if p.calls >= len(p.turns) {
		return provider.NewStaticStream([]provider.Event{provider.StopEvent(provider.StopDone)}), nil
	}
	events := p.turns[p.calls]
	p.calls++
	return provider.NewStaticStream(events), nil
}

func newInput(t *testing.T, dir string, prov provider.Provider, s sink.ModeSink) Input {
	t.Helper()
	store, err := eventlog.New(dir)
	testutil.RequireNoError(t, err, "new store")
	store.Clock = &clock.Fixed{Value: 1000, Step: 1}

	sandbox := tools.NewSandbox([]string{dir})
	return Input{
		SID:           "sess1",
		Prompt:        "hello",
		Model:         "test-model",
		ProviderLabel: "test",
		Provider:      prov,
		Store:         store,
		Registry:      tools.Default(),
		ToolMask:      tools.AllKinds,
		ToolContext:   tools.Context{Sandbox: sandbox, Clock: store.Clock},
		Sink:          s,
		Clock:         store.Clock,
	}
}

func TestRunSimpleTextTurnStopsWithoutToolCall(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingSink{}
	prov := &scriptedProvider{turns: [][]provider.Event{
		{provider.TextEvent("hi there"), provider.StopEvent(provider.StopDone)},
	}}
	in := newInput(t, dir, prov, rec)

	err := Run(context.Background(), in)
	testutil.RequireNoError(t, err, "run")

	bodies := rec.sessionBodies()
	testutil.RequireTrue(t, len(bodies) >= 3, "expected prompt, text, stop events")
	testutil.RequireEqual(t, bodies[0].Kind(), "prompt", "first session event")
	testutil.RequireTrue(t, bodies[len(bodies)-1].Kind() == "stop", "last session event should be stop")
}

func TestRunDispatchesToolCallAndContinues(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingSink{}
	argsJSON, _ := json.Marshal(map[string]string{"path": dir})
	prov := &scriptedProvider{turns: [][]provider.Event{
		{
			provider.ToolCallEvent("call1", "ls", argsJSON),
			provider.StopEvent(provider.StopTool),
		},
		{
			provider.TextEvent("done"),
			provider.StopEvent(provider.StopDone),
		},
	}}
	in := newInput(t, dir, prov, rec)

	err := Run(context.Background(), in)
	testutil.RequireNoError(t, err, "run")
	testutil.RequireEqual(t, prov.calls, 2, "expected two provider turns")

	var sawToolResult bool
	for _, b := range rec.sessionBodies() {
		if b.Kind() == "tool_result" {
			sawToolResult = true
			testutil.RequireTrue(t, !b.ToolResult.IsErr, "ls on sandbox root should succeed")
		}
	}
	testutil.RequireTrue(t, sawToolResult, "expected a tool_result session event")
}

func TestRunUnknownToolSynthesizesFailureAndContinues(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingSink{}
	prov := &scriptedProvider{turns: [][]provider.Event{
		{
			provider.ToolCallEvent("call1", "does-not-exist", json.RawMessage(`{}`)),
			provider.StopEvent(provider.StopTool),
		},
		{
			provider.StopEvent(provider.StopDone),
		},
	}}
	in := newInput(t, dir, prov, rec)

	err := Run(context.Background(), in)
	testutil.RequireNoError(t, err, "run should not abort on unknown tool")

	var found bool
	for _, b := range rec.sessionBodies() {
		if b.Kind() == "tool_result" && b.ToolResult.IsErr {
			found = true
			testutil.RequireStringContains(t, b.ToolResult.Out, "tool-not-found", "synthesized result should name the missing tool")
		}
	}
	testutil.RequireTrue(t, found, "expected a synthesized tool_result for the unknown tool")
}

func TestRunResumesFromReplayedHistory(t *testing.T) {
	dir := t.TempDir()
	store, err := eventlog.New(dir)
	testutil.RequireNoError(t, err, "new store")
	store.Clock = &clock.Fixed{Value: 1000, Step: 1}
	_, err = store.Append("sess1", eventlog.Prompt("earlier question"))
	testutil.RequireNoError(t, err, "seed prompt")
	_, err = store.Append("sess1", eventlog.Text("earlier answer"))
	testutil.RequireNoError(t, err, "seed text")
	_, err = store.Append("sess1", eventlog.Stop(eventlog.StopDone))
	testutil.RequireNoError(t, err, "seed stop")

	rec := &recordingSink{}
	prov := &scriptedProvider{turns: [][]provider.Event{
		{provider.TextEvent("followup"), provider.StopEvent(provider.StopDone)},
	}}

	sandbox := tools.NewSandbox([]string{dir})
	in := Input{
		SID:         "sess1",
		Prompt:      "followup question",
		Model:       "test-model",
		Provider:    prov,
		Store:       store,
		Registry:    tools.Default(),
		ToolMask:    tools.AllKinds,
		ToolContext: tools.Context{Sandbox: sandbox, Clock: store.Clock},
		Sink:        rec,
		Clock:       store.Clock,
	}

	err = Run(context.Background(), in)
	testutil.RequireNoError(t, err, "run")

	var replayCount int
	for _, e := range rec.events {
		if e.Kind == sink.KindReplay {
			replayCount++
		}
	}
	testutil.RequireEqual(t, replayCount, 3, "expected the three seeded events to replay")
}

func TestRunHonorsCancellationBeforeFirstTurn(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingSink{}
	prov := &scriptedProvider{turns: [][]provider.Event{
		{provider.TextEvent("should not run"), provider.StopEvent(provider.StopDone)},
	}}
	in := newInput(t, dir, prov, rec)

	cancelled := make(chan struct{})
	close(cancelled)
	in.Cancel = cancelled

	err := Run(context.Background(), in)
	testutil.RequireNoError(t, err, "cancellation is a terminal stop, not an error")
	testutil.RequireEqual(t, prov.calls, 0, "provider should never be started once canceled")

	bodies := rec.sessionBodies()
	testutil.RequireTrue(t, bodies[len(bodies)-1].Kind() == "stop", "expected a trailing stop event")
	testutil.RequireEqual(t, bodies[len(bodies)-1].Stop.Reason, eventlog.StopCanceled, "stop reason should be canceled")
}

func TestRunEnforcesMaxTurns(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingSink{}
	argsJSON, _ := json.Marshal(map[string]string{"path": dir})
	toolTurn := []provider.Event{
		provider.ToolCallEvent("callN", "ls", argsJSON),
		provider.StopEvent(provider.StopTool),
	}
	prov := &scriptedProvider{turns: [][]provider.Event{toolTurn, toolTurn, toolTurn}}
	in := newInput(t, dir, prov, rec)
	in.MaxTurns = 2

	err := Run(context.Background(), in)
	testutil.RequireNoError(t, err, "run")
	testutil.RequireEqual(t, prov.calls, 2, "should stop after max turns")

	bodies := rec.sessionBodies()
	testutil.RequireEqual(t, bodies[len(bodies)-1].Stop.Reason, eventlog.StopMaxOut, "expected max_out stop reason")
}

func TestRunCompactsOnCadence(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingSink{}
	prov := &scriptedProvider{turns: [][]provider.Event{
		{provider.TextEvent("hi"), provider.StopEvent(provider.StopDone)},
	}}
	in := newInput(t, dir, prov, rec)

	var compactCalls []string
	in.Compactor = func(sid string, nowMs int64) error {
		compactCalls = append(compactCalls, sid)
		return nil
	}
	in.CompactEvery = 1

	err := Run(context.Background(), in)
	testutil.RequireNoError(t, err, "run")
	testutil.RequireTrue(t, len(compactCalls) > 0, "expected compaction to fire on every append with compact_every=1")
}
