package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilus-run/pz/internal/clock"
	"github.com/nautilus-run/pz/internal/testutil"
)

func testContext(t *testing.T, roots []string) Context {
	t.Helper()
	return Context{
		Sandbox: NewSandbox(roots),
		Clock:   &clock.Fixed{Value: 1000, Step: 1},
	}
}

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	testutil.RequireNoError(t, err, "marshal args")
	return data
}

func TestReadHandlerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	testutil.RequireNoError(t, os.WriteFile(path, []byte("line1\nline2\nline3"), 0o644), "seed file")

	result, err := ReadHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"path": path})}, testContext(t, []string{dir}))
	testutil.RequireNoError(t, err, "read handler")
	testutil.RequireTrue(t, !result.Final.IsErr(), "read should succeed")
	testutil.RequireEqual(t, result.CombinedText(), "line1\nline2\nline3\n", "read content")
}

func TestReadHandlerRejectsOutsideSandbox(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	path := filepath.Join(other, "secret.txt")
	testutil.RequireNoError(t, os.WriteFile(path, []byte("x"), 0o644), "seed file")

	result, err := ReadHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"path": path})}, testContext(t, []string{dir}))
	testutil.RequireNoError(t, err, "read handler")
	testutil.RequireTrue(t, result.Final.IsErr(), "read outside sandbox should fail")
	testutil.RequireEqual(t, result.Final.FailKind, FailNotFound, "expected not_found fail kind")
}

func TestWriteThenReadHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	tc := testContext(t, []string{dir})

	wr, err := WriteHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"path": path, "text": "hello"})}, tc)
	testutil.RequireNoError(t, err, "write handler")
	testutil.RequireTrue(t, !wr.Final.IsErr(), "write should succeed")

	data, err := os.ReadFile(path)
	testutil.RequireNoError(t, err, "read back written file")
	testutil.RequireEqual(t, string(data), "hello", "written content")
}

func TestEditHandlerReplacesOldWithNew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	testutil.RequireNoError(t, os.WriteFile(path, []byte("foo bar foo"), 0o644), "seed file")
	tc := testContext(t, []string{dir})

	old, newVal := "foo", "baz"
	result, err := EditHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{
		"path": path, "old": old, "new": newVal,
	})}, tc)
	testutil.RequireNoError(t, err, "edit handler")
	testutil.RequireTrue(t, !result.Final.IsErr(), "edit should succeed")

	data, err := os.ReadFile(path)
	testutil.RequireNoError(t, err, "read back edited file")
	testutil.RequireEqual(t, string(data), "baz bar foo", "only first occurrence replaced")
}

func TestEditHandlerNoopReplacementFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	testutil.RequireNoError(t, os.WriteFile(path, []byte("foo"), 0o644), "seed file")
	tc := testContext(t, []string{dir})

	result, err := EditHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{
		"path": path, "old": "absent", "new": "x",
	})}, tc)
	testutil.RequireNoError(t, err, "edit handler")
	testutil.RequireTrue(t, result.Final.IsErr(), "edit on absent text should fail")
	testutil.RequireEqual(t, result.Final.FailKind, FailNotFound, "expected not_found fail kind")
}

func TestBashHandlerCapturesStdoutAndExitCode(t *testing.T) {
	dir := t.TempDir()
	tc := testContext(t, []string{dir})

	result, err := BashHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"cmd": "echo hi"})}, tc)
	testutil.RequireNoError(t, err, "bash handler")
	testutil.RequireTrue(t, !result.Final.IsErr(), "bash should succeed")
	testutil.RequireEqual(t, result.CombinedText(), "hi\n", "stdout content")
}

func TestBashHandlerReportsNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	tc := testContext(t, []string{dir})

	result, err := BashHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"cmd": "exit 3"})}, tc)
	testutil.RequireNoError(t, err, "bash handler")
	testutil.RequireTrue(t, result.Final.IsErr(), "nonzero exit should be an error final")
	testutil.RequireEqual(t, result.Final.Code, 3, "exit code preserved")
}

func TestGrepHandlerFindsMatches(t *testing.T) {
	dir := t.TempDir()
	testutil.RequireNoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\nworld\n"), 0o644), "seed file")
	tc := testContext(t, []string{dir})

	result, err := GrepHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"pattern": "world", "path": dir})}, tc)
	testutil.RequireNoError(t, err, "grep handler")
	testutil.RequireTrue(t, !result.Final.IsErr(), "grep should succeed")
	testutil.RequireTrue(t, len(result.CombinedText()) > 0, "grep should find a match")
}

func TestFindHandlerMatchesBasenameSubstring(t *testing.T) {
	dir := t.TempDir()
	testutil.RequireNoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("x"), 0o644), "seed file")
	testutil.RequireNoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644), "seed file")
	tc := testContext(t, []string{dir})

	result, err := FindHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"name": ".go", "path": dir})}, tc)
	testutil.RequireNoError(t, err, "find handler")
	testutil.RequireTrue(t, !result.Final.IsErr(), "find should succeed")
	testutil.RequireEqual(t, result.CombinedText(), "a.go\n", "find should match only the .go file")
}

func TestLSHandlerListsEntries(t *testing.T) {
	dir := t.TempDir()
	testutil.RequireNoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644), "seed file")
	testutil.RequireNoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755), "seed dir")
	tc := testContext(t, []string{dir})

	result, err := LSHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"path": dir})}, tc)
	testutil.RequireNoError(t, err, "ls handler")
	testutil.RequireTrue(t, !result.Final.IsErr(), "ls should succeed")
	text := result.CombinedText()
	testutil.RequireTrue(t, len(text) > 0, "ls should list entries")
}

func TestAskHandlerEnvOverride(t *testing.T) {
	previous := os.Getenv("PZ_ASK_RESPONSE")
	testutil.RequireNoError(t, os.Setenv("PZ_ASK_RESPONSE", "yes"), "set env")
	defer os.Setenv("PZ_ASK_RESPONSE", previous)

	tc := testContext(t, nil)
	result, err := AskHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"question": "Proceed?"})}, tc)
	testutil.RequireNoError(t, err, "ask handler")
	testutil.RequireTrue(t, !result.Final.IsErr(), "ask should succeed")
	testutil.RequireEqual(t, result.CombinedText(), "yes", "env override answer")
}

func TestAskHandlerUsesAskFunc(t *testing.T) {
	tc := testContext(t, nil)
	tc.Ask = func(question string, options []string) (string, error) {
		return "42", nil
	}
	os.Unsetenv("PZ_ASK_RESPONSE")

	result, err := AskHandler(context.Background(), Call{ID: "c1", Args: mustArgs(t, map[string]any{"question": "How many?"})}, tc)
	testutil.RequireNoError(t, err, "ask handler")
	testutil.RequireEqual(t, result.CombinedText(), "42", "ask func answer")
}

func TestBoundedWriterTruncatesAndAccountsBytes(t *testing.T) {
	w := NewBoundedWriter(4)
	_, _ = w.Write([]byte("hello world"))
	testutil.RequireTrue(t, w.Truncated(), "should be truncated")
	testutil.RequireEqual(t, string(w.Bytes()), "hell", "kept bytes")

	seq := 0
	chunks := w.Finish("c1", StreamStdout, &seq, 1000)
	testutil.RequireEqual(t, len(chunks), 2, "content chunk + meta chunk")
	testutil.RequireEqual(t, chunks[0].Seq, 0, "first chunk seq")
	testutil.RequireEqual(t, chunks[1].Seq, 1, "second chunk seq")

	var meta truncMeta
	testutil.RequireNoError(t, json.Unmarshal(chunks[1].Chunk, &meta), "decode trunc meta")
	testutil.RequireEqual(t, meta.KeptBytes+meta.DroppedBytes, meta.FullBytes, "kept+dropped == full")
	testutil.RequireTrue(t, meta.KeptBytes <= meta.LimitBytes, "kept <= limit")
}

func TestRegistryRunEmitsEnvelope(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	testutil.RequireNoError(t, os.WriteFile(path, []byte("content"), 0o644), "seed file")

	reg := Default()
	tc := testContext(t, []string{dir})
	clk := &clock.Fixed{Value: 5000, Step: 1}

	var started bool
	var outputs int
	var finished *Result
	sink := &recordingSink{
		onStart:  func(Call, int64) { started = true },
		onOutput: func(OutputChunk) { outputs++ },
		onFinish: func(r Result) { finished = &r },
	}

	result, err := Run(context.Background(), reg, Call{ID: "c1", Name: "read", Kind: KindRead, Args: mustArgs(t, map[string]any{"path": path})}, tc, sink, clk)
	testutil.RequireNoError(t, err, "dispatch")
	testutil.RequireTrue(t, started, "start should have fired")
	testutil.RequireTrue(t, outputs > 0, "output should have fired")
	testutil.RequireTrue(t, finished != nil, "finish should have fired")
	testutil.RequireEqual(t, result.CallID, "c1", "result call id")
	testutil.RequireTrue(t, result.StartedAtMs <= result.EndedAtMs, "started before ended")
}

func TestRegistryRunRejectsUnknownTool(t *testing.T) {
	reg := Default()
	tc := testContext(t, nil)
	clk := &clock.Fixed{Value: 1, Step: 1}

	_, err := Run(context.Background(), reg, Call{ID: "c1", Name: "nope", Kind: KindRead}, tc, NoopSink{}, clk)
	testutil.RequireTrue(t, err != nil, "unknown tool should error")
}

func TestRegistryRunRejectsKindMismatch(t *testing.T) {
	reg := Default()
	tc := testContext(t, nil)
	clk := &clock.Fixed{Value: 1, Step: 1}

	_, err := Run(context.Background(), reg, Call{ID: "c1", Name: "read", Kind: KindBash}, tc, NoopSink{}, clk)
	testutil.RequireTrue(t, err != nil, "kind mismatch should error")
}

func TestMaskAllowsAndWithWithout(t *testing.T) {
	testutil.RequireTrue(t, AllKinds.Allows(KindBash), "all kinds should allow bash")
	m := Mask(0).With(KindRead).With(KindWrite)
	testutil.RequireTrue(t, m.Allows(KindRead), "mask should allow read after With")
	testutil.RequireTrue(t, !m.Allows(KindBash), "mask should not allow bash")
	m = m.Without(KindRead)
	testutil.RequireTrue(t, !m.Allows(KindRead), "mask should drop read after Without")
}

func TestMaskFromNames(t *testing.T) {
	m := MaskFromNames([]string{"read", "edit", "bogus"})
	testutil.RequireTrue(t, m.Allows(KindRead), "should allow read")
	testutil.RequireTrue(t, m.Allows(KindEdit), "should allow edit")
	testutil.RequireTrue(t, !m.Allows(KindBash), "should not allow bash")
}

type recordingSink struct {
	onStart  func(Call, int64)
	onOutput func(OutputChunk)
	onFinish func(Result)
}

func (s *recordingSink) ToolStart(call Call, atMs int64) { s.onStart(call, atMs) }
func (s *recordingSink) ToolOutput(chunk OutputChunk)    { s.onOutput(chunk) }
func (s *recordingSink) ToolFinish(result Result)        { s.onFinish(result) }
