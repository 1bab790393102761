package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxScanBytes caps the size of a file grep will open, so a single
// huge file can't dominate a directory walk.
const maxScanBytes = 1024 * 1024

// defaultMaxResults caps grep/find hits when the caller doesn't name one.
const defaultMaxResults = 100

type grepArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	IgnoreCase bool   `json:"ignore_case"`
	MaxResults *int   `json:"max_results"`
}

// GrepHandler searches for a literal substring within files under a path,
// walking the tree and scanning line by line, emitting hits as
// "relpath:lineno:line" and stopping once max_results is reached.
func GrepHandler(ctx context.Context, call Call, tc Context) (Result, error) {
	var args grepArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return failResult(FailInvalidArgs, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Pattern == "" {
		return failResult(FailInvalidArgs, "pattern is required"), nil
	}
	if args.Path == "" {
		return failResult(FailInvalidArgs, "path is required"), nil
	}
	maxResults := defaultMaxResults
	if args.MaxResults != nil {
		maxResults = *args.MaxResults
	}

	root, err := tc.Sandbox.ResolvePath(args.Path, true)
	if err != nil {
		return failResult(FailNotFound, err.Error()), nil
	}

	// asciiLower folds only A-Z, leaving every other rune unchanged.
	asciiLower := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r >= 'A' && r <= 'Z' {
				return r + ('a' - 'A')
			}
			return r
		}, s)
	}
	pattern := args.Pattern
	if args.IgnoreCase {
		pattern = asciiLower(pattern)
	}

	var matches []string
	_ = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if len(matches) >= maxResults {
			return filepath.SkipAll
		}
		if err != nil || entry.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info, err := entry.Info()
		if err != nil || info.Size() > maxScanBytes {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		scanner := bufio.NewScanner(file)
		lineNumber := 1
		for scanner.Scan() {
			line := scanner.Text()
			haystack := line
			if args.IgnoreCase {
				haystack = asciiLower(line)
			}
			if strings.Contains(haystack, pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, lineNumber, line))
				if len(matches) >= maxResults {
					break
				}
			}
			lineNumber++
		}
		return nil
	})

	if ctx.Err() == context.Canceled {
		return Result{Final: Cancelled(CancelUser)}, nil
	}

	w := NewBoundedWriter(tc.limit())
	for _, m := range matches {
		_, _ = w.Write([]byte(m))
		_, _ = w.Write([]byte("\n"))
	}
	now := tc.Clock.NowMs()
	seq := 0
	return Result{
		Out:   w.Finish(call.ID, StreamStdout, &seq, now),
		Final: Ok(0),
	}, nil
}
