package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nautilus-run/pz/internal/eventlog"
)

const defaultSessionDir = ".pz/sessions"

// resolveSessionDir applies --session-dir, then PZ_SESSION_DIR (already
// folded into settings by the caller), then the default.
func resolveSessionDir(opts *options, settingsDir string) string {
	if opts.SessionDir != "" {
		return opts.SessionDir
	}
	if settingsDir != "" {
		return settingsDir
	}
	return defaultSessionDir
}

// resolveSID turns the session-selection flags into a concrete (sid, dir)
// pair, generating a fresh id when none of --session/-c/-r apply.
func resolveSID(opts *options, dir string) (eventlog.Resolved, error) {
	now := func() int64 { return time.Now().UnixMicro() }

	var sel eventlog.Selector
	switch {
	case opts.Session != "":
		sel = eventlog.Selector{Kind: eventlog.SelectExplicit, Explicit: opts.Session}
	case opts.Continue:
		sel = eventlog.Selector{Kind: eventlog.SelectContinue}
	case opts.Resume:
		sel = eventlog.Selector{Kind: eventlog.SelectResume}
	default:
		sel = eventlog.Selector{Kind: eventlog.SelectAuto}
	}

	resolved, err := sel.Resolve(dir, now)
	if err != nil {
		return eventlog.Resolved{}, argError("resolve session: %w", err)
	}
	if resolved.SID == "" {
		resolved.SID = uuid.NewString()
	}
	if resolved.Dir == "" {
		resolved.Dir = dir
	}
	return resolved, nil
}

// sessionFileInfo reports the on-disk size/line-count of a session log for
// the "session" RPC command; a session that
// has never been appended to reports zeroes rather than an error.
func sessionFileInfo(dir, sid string) (path string, size int64, lines int, err error) {
	path = filepath.Join(dir, sid+".jsonl")
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return path, 0, 0, nil
		}
		return path, 0, 0, statErr
	}
	size = info.Size()

	f, openErr := os.Open(path)
	if openErr != nil {
		return path, size, 0, openErr
	}
	defer f.Close()

	// Count lines directly rather than through Replay, which parses each
	// event body; a plain scan is cheaper for a byte/line footer.
	count, err := countLines(f)
	if err != nil {
		return path, size, 0, err
	}
	return path, size, count, nil
}

func countLines(f *os.File) (int, error) {
	buf := make([]byte, 64*1024)
	count := 0
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				count++
			}
		}
		if err != nil {
			if err == io.EOF {
				return count, nil
			}
			return count, err
		}
		if n == 0 {
			return count, nil
		}
	}
}

func ensureSessionDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
