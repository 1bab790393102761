package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nautilus-run/pz/internal/clock"
	"github.com/nautilus-run/pz/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := New(dir)
	testutil.RequireNoError(t, err, "new store")
	store.Clock = &clock.Fixed{Value: 1000, Step: 1}
	return store
}

func TestAppendReplayRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Append("sess1", Prompt("ping"))
	testutil.RequireNoError(t, err, "append prompt")
	_, err = store.Append("sess1", Text("pong"))
	testutil.RequireNoError(t, err, "append text")
	_, err = store.Append("sess1", Stop(StopDone))
	testutil.RequireNoError(t, err, "append stop")

	replayer, err := store.Replay("sess1")
	testutil.RequireNoError(t, err, "replay")
	defer replayer.Close()

	var kinds []string
	for {
		event, ok := replayer.Next()
		if !ok {
			break
		}
		kinds = append(kinds, event.Data.Kind())
	}
	testutil.RequireNoError(t, replayer.Err(), "replay scan")
	testutil.RequireEqual(t, kinds, []string{"prompt", "text", "stop"}, "replayed event order")
}

func TestReplayMissingSessionIsEmpty(t *testing.T) {
	store := newTestStore(t)
	replayer, err := store.Replay("does-not-exist")
	testutil.RequireNoError(t, err, "replay missing session")
	_, ok := replayer.Next()
	testutil.RequireTrue(t, !ok, "missing session should replay as empty")
}

func TestReplaySkipsInteriorMalformedLineButStopsOnTrailing(t *testing.T) {
	store := newTestStore(t)
	path := store.Path("broken")

	lines := []string{
		`{"at_ms":1,"data":{"prompt":{"text":"a"}}}`,
		`not json at all`,
		`{"at_ms":2,"data":{"text":{"text":"b"}}}`,
		`{"at_ms":3,"data":{"t`, // trailing partial line
	}
	testutil.RequireNoError(t, os.WriteFile(path, []byte(joinLines(lines)), 0o600), "write raw log")

	replayer, err := store.Replay("broken")
	testutil.RequireNoError(t, err, "replay")
	defer replayer.Close()

	var texts []string
	for {
		event, ok := replayer.Next()
		if !ok {
			break
		}
		texts = append(texts, eventText(event))
	}
	testutil.RequireEqual(t, texts, []string{"a", "b"}, "interior line skipped, trailing partial stops replay")
}

func TestValidateSIDRejectsTraversal(t *testing.T) {
	for _, bad := range []string{"", "a/b", "../x", "..", "a/../b"} {
		if err := ValidateSID(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	testutil.RequireNoError(t, ValidateSID("abc-123"), "valid sid should pass")
}

func TestStatsCountsEventLines(t *testing.T) {
	store := newTestStore(t)
	_, _ = store.Append("s", Prompt("x"))
	_, _ = store.Append("s", Text("y"))

	stats, err := store.Stats("s")
	testutil.RequireNoError(t, err, "stats")
	testutil.RequireEqual(t, stats.Events, 2, "event count")
	testutil.RequireTrue(t, stats.Bytes > 0, "byte count should be positive")
}

func TestForkCopiesLogAndRejectsExistingDestination(t *testing.T) {
	store := newTestStore(t)
	_, _ = store.Append("src", Prompt("hello"))

	testutil.RequireNoError(t, store.Fork("src", "dst"), "fork")

	replayer, err := store.Replay("dst")
	testutil.RequireNoError(t, err, "replay forked session")
	defer replayer.Close()
	event, ok := replayer.Next()
	testutil.RequireTrue(t, ok, "forked session should have an event")
	testutil.RequireEqual(t, event.Data.Prompt.Text, "hello", "forked content")

	err = store.Fork("src", "dst")
	var logErr *Error
	testutil.RequireTrue(t, err != nil, "fork onto existing destination should fail")
	if e, ok := err.(*Error); ok {
		logErr = e
	}
	testutil.RequireTrue(t, logErr != nil && logErr.Kind == KindExists, "fork collision should report KindExists")
}

func TestCompactIsIdempotentAndBounded(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 50; i++ {
		_, _ = store.Append("chatty", Text(bigText(i)))
	}

	first, err := store.CompactKeeping("chatty", 9999, 50)
	testutil.RequireNoError(t, err, "first compact")
	testutil.RequireTrue(t, first.OutLines < first.InLines, "first compaction should shrink the log")
	testutil.RequireTrue(t, first.OutBytes < first.InBytes, "first compaction should shrink bytes")

	second, err := store.CompactKeeping("chatty", 10000, 50)
	testutil.RequireNoError(t, err, "second compact")
	testutil.RequireEqual(t, second.InLines, first.OutLines, "second compaction input is first compaction output")
	testutil.RequireEqual(t, second.OutLines, second.InLines, "second compaction must be a no-op")
}

func TestListSortsAscendingByRawString(t *testing.T) {
	store := newTestStore(t)
	_, _ = store.Append("200", Prompt("b"))
	_, _ = store.Append("100", Prompt("a"))

	ids, err := List(store.Dir)
	testutil.RequireNoError(t, err, "list")
	testutil.RequireEqual(t, ids, []string{"100", "200"}, "ascending raw string order")
}

func TestSelectorExplicitPrefixAndAmbiguity(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	testutil.RequireNoError(t, err, "new store")
	_, _ = store.Append("abc123", Prompt("x"))
	_, _ = store.Append("abc124", Prompt("y"))
	_, _ = store.Append("zzz", Prompt("z"))

	resolved, err := (Selector{Kind: SelectExplicit, Explicit: "zzz"}).Resolve(dir, nil)
	testutil.RequireNoError(t, err, "exact match")
	testutil.RequireEqual(t, resolved.SID, "zzz", "exact sid")

	_, err = (Selector{Kind: SelectExplicit, Explicit: "abc"}).Resolve(dir, nil)
	var e *Error
	testutil.RequireTrue(t, err != nil, "ambiguous prefix should fail")
	if cast, ok := err.(*Error); ok {
		e = cast
	}
	testutil.RequireTrue(t, e != nil && e.Kind == KindAmbiguous, "expected KindAmbiguous")

	resolved, err = (Selector{Kind: SelectExplicit, Explicit: "zz"}).Resolve(dir, nil)
	testutil.RequireNoError(t, err, "unique prefix")
	testutil.RequireEqual(t, resolved.SID, "zzz", "unique prefix resolves")
}

func TestSelectorExplicitPath(t *testing.T) {
	dir := t.TempDir()
	resolved, err := (Selector{Kind: SelectExplicit, Explicit: filepath.Join(dir, "mysession.jsonl")}).Resolve(dir, nil)
	testutil.RequireNoError(t, err, "path selector")
	testutil.RequireEqual(t, resolved.SID, "mysession", "path selector extracts sid")
	testutil.RequireEqual(t, resolved.Dir, dir, "path selector extracts dir")
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func bigText(i int) string {
	s := make([]byte, 200)
	for j := range s {
		s[j] = byte('a' + (i+j)%26)
	}
	return string(s)
}
