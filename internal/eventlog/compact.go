package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultCompactKeepTokens is the default K from §4.1: keep the most recent
// K tokens' worth of events verbatim.
const defaultCompactKeepTokens = 20000

// summaryMarker prefixes a compaction-generated summary Text event so a
// later compaction pass can recognize it is already a summary.
const summaryMarker = "[pz:compacted-summary]\n"

// CompactStats reports the effect of a Compact call.
type CompactStats struct {
	InLines  int
	OutLines int
	InBytes  int64
	OutBytes int64
}

// estimateTokens is a cheap, deterministic token estimate (~4 bytes/token)
// used only to decide the compaction boundary; it need not match the
// provider's actual tokenizer.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// eventText extracts the textual payload used for token estimation and for
// building the compaction summary.
func eventText(e Event) string {
	switch body := e.Data; {
	case body.Prompt != nil:
		return body.Prompt.Text
	case body.Text != nil:
		return body.Text.Text
	case body.Thinking != nil:
		return body.Thinking.Text
	case body.ToolCall != nil:
		return body.ToolCall.Args
	case body.ToolResult != nil:
		return body.ToolResult.Out
	case body.Err != nil:
		return body.Err.Text
	default:
		return ""
	}
}

func isSummaryEvent(e Event) bool {
	return e.Data.Text != nil && strings.HasPrefix(e.Data.Text.Text, summaryMarker)
}

// Compact produces an equivalent-but-smaller log for sid, keeping the most
// recent defaultCompactKeepTokens tokens' worth of events and replacing
// everything older with one summarized text event. It is atomic: the new
// log is written to a temp file in the same directory, fsynced, then
// renamed over the original.
func (s *Store) Compact(sid string, nowMs int64) (CompactStats, error) {
	return s.CompactKeeping(sid, nowMs, defaultCompactKeepTokens)
}

// CompactKeeping is Compact with an explicit token budget, used by tests and
// by callers that configure K differently from the default.
func (s *Store) CompactKeeping(sid string, nowMs int64, keepTokens int) (CompactStats, error) {
	if err := ValidateSID(sid); err != nil {
		return CompactStats{}, err
	}
	before, err := s.Stats(sid)
	if err != nil {
		return CompactStats{}, err
	}

	replayer, err := s.Replay(sid)
	if err != nil {
		return CompactStats{}, err
	}
	defer replayer.Close()

	var events []Event
	for {
		event, ok := replayer.Next()
		if !ok {
			break
		}
		events = append(events, event)
	}
	if err := replayer.Err(); err != nil {
		return CompactStats{}, wrapErr("compact", KindIO, err)
	}
	inLines := len(events)

	// Walk from the tail, accumulating the token estimate, to find the
	// boundary between events kept verbatim and events to summarize.
	total := 0
	boundary := len(events)
	for boundary > 0 {
		total += estimateTokens(eventText(events[boundary-1]))
		if total > keepTokens {
			break
		}
		boundary--
	}

	old := events[:boundary]
	recent := events[boundary:]

	// Nothing meaningful to fold away: compaction is a no-op. This is also
	// what makes back-to-back compaction idempotent — after a real
	// compaction the verbatim tail is at or under the token budget, so on a
	// second pass at most the summary event lies before the boundary.
	if len(old) <= 1 {
		return CompactStats{InLines: inLines, OutLines: inLines, InBytes: before.Bytes, OutBytes: before.Bytes}, nil
	}

	var body strings.Builder
	count := 0
	for _, event := range old {
		text := eventText(event)
		if text == "" {
			continue
		}
		body.WriteString(text)
		body.WriteString("\n")
		count++
	}
	summary := Event{
		AtMs: nowMs,
		Data: Text(fmt.Sprintf("%ssummary of %d earlier events (%d with text payloads)", summaryMarker, len(old), count) + "\n" + body.String()),
	}

	newEvents := make([]Event, 0, 1+len(recent))
	newEvents = append(newEvents, summary)
	newEvents = append(newEvents, recent...)

	outBytes, err := s.writeCompacted(sid, newEvents)
	if err != nil {
		return CompactStats{}, err
	}

	return CompactStats{
		InLines:  inLines,
		OutLines: len(newEvents),
		InBytes:  before.Bytes,
		OutBytes: outBytes,
	}, nil
}

// writeCompacted atomically replaces the session log with events, following
// the same write-temp/fsync/rename idiom the tool runtime uses for file
// edits (see internal/tools.writeAtomic).
func (s *Store) writeCompacted(sid string, events []Event) (int64, error) {
	path := s.Path(sid)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pz-compact-*")
	if err != nil {
		return 0, wrapErr("compact", KindIO, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var written int64
	for _, event := range events {
		line, err := event.Encode()
		if err != nil {
			tmp.Close()
			return 0, wrapErr("compact", KindIO, err)
		}
		line = append(line, '\n')
		n, err := tmp.Write(line)
		if err != nil {
			tmp.Close()
			return 0, wrapErr("compact", KindIO, err)
		}
		written += int64(n)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, wrapErr("compact", KindIO, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, wrapErr("compact", KindIO, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return 0, wrapErr("compact", KindIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, wrapErr("compact", KindIO, err)
	}
	return written, nil
}
