package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SelectorKind enumerates the four ways a session can be chosen.
type SelectorKind string

const (
	SelectAuto     SelectorKind = "auto"
	SelectContinue SelectorKind = "continue"
	SelectResume   SelectorKind = "resume"
	SelectExplicit SelectorKind = "explicit"
)

// Selector picks a concrete (sid, dir) pair given a session directory.
// Explicit carries either a bare session id, an id prefix, or a
// "<dir>/<sid>.jsonl" path, depending on what the CLI flag received.
type Selector struct {
	Kind     SelectorKind
	Explicit string
}

// Resolved is the concrete session location a Selector resolves to.
type Resolved struct {
	SID string
	Dir string
}

// NowMicros abstracts the "fresh SID from a microsecond timestamp" rule so
// tests can supply a fixed value instead of the wall clock.
type NowMicros func() int64

// Resolve applies the selector against dir.
func (sel Selector) Resolve(dir string, now NowMicros) (Resolved, error) {
	switch sel.Kind {
	case SelectAuto:
		if now == nil {
			return Resolved{}, wrapErr("select", KindInvalidPath, fmt.Errorf("auto selection requires a time source"))
		}
		return Resolved{SID: fmt.Sprintf("%d", now()), Dir: dir}, nil

	case SelectContinue, SelectResume:
		sid, err := latestSession(dir)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{SID: sid, Dir: dir}, nil

	case SelectExplicit:
		return resolveExplicit(dir, sel.Explicit)

	default:
		return Resolved{}, wrapErr("select", KindInvalidPath, fmt.Errorf("unknown selector kind %q", sel.Kind))
	}
}

// resolveExplicit handles both "<dir>/<sid>.jsonl" paths and bare/prefix ids.
func resolveExplicit(dir string, value string) (Resolved, error) {
	if value == "" {
		return Resolved{}, wrapErr("select", KindInvalidPath, fmt.Errorf("empty session selector"))
	}

	if strings.ContainsAny(value, "/\\") || strings.HasSuffix(value, ".jsonl") {
		if !strings.HasSuffix(value, ".jsonl") {
			return Resolved{}, wrapErr("select", KindInvalidPath, fmt.Errorf("path selector %q must end in .jsonl", value))
		}
		base := filepath.Base(value)
		sid := strings.TrimSuffix(base, ".jsonl")
		if err := ValidateSID(sid); err != nil {
			return Resolved{}, wrapErr("select", KindInvalidPath, fmt.Errorf("path selector %q has an invalid session id", value))
		}
		resolvedDir := filepath.Dir(value)
		if resolvedDir == "." && !strings.Contains(value, string(filepath.Separator)) {
			resolvedDir = dir
		}
		return Resolved{SID: sid, Dir: resolvedDir}, nil
	}

	if err := ValidateSID(value); err != nil {
		return Resolved{}, err
	}

	// Exact match first.
	if _, err := os.Stat(filepath.Join(dir, value+".jsonl")); err == nil {
		return Resolved{SID: value, Dir: dir}, nil
	}

	// Fall back to a unique id prefix.
	ids, err := List(dir)
	if err != nil {
		return Resolved{}, err
	}
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, value) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return Resolved{}, wrapErr("select", KindNotFound, fmt.Errorf("no session matches %q", value))
	case 1:
		return Resolved{SID: matches[0], Dir: dir}, nil
	default:
		return Resolved{}, wrapErr("select", KindAmbiguous, fmt.Errorf("session prefix %q matches %d sessions", value, len(matches)))
	}
}

// latestSession returns the most recently modified session log's id, tying
// on the raw session id string when mtimes collide.
func latestSession(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", wrapErr("select", KindNotFound, fmt.Errorf("session directory %q does not exist", dir))
		}
		return "", wrapErr("select", KindIO, err)
	}

	type candidate struct {
		sid   string
		mtime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			sid:   strings.TrimSuffix(entry.Name(), ".jsonl"),
			mtime: info.ModTime().UnixNano(),
		})
	}
	if len(candidates) == 0 {
		return "", wrapErr("select", KindNotFound, fmt.Errorf("no sessions found in %q", dir))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].mtime != candidates[j].mtime {
			return candidates[i].mtime > candidates[j].mtime
		}
		return candidates[i].sid > candidates[j].sid
	})
	return candidates[0].sid, nil
}
