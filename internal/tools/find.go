package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type findArgs struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	MaxResults *int   `json:"max_results"`
}

// FindHandler walks path, substring-matching each entry's basename against
// name, staging up to max_results*8 hits before sorting ascending and
// emitting only the first max_results.
func FindHandler(ctx context.Context, call Call, tc Context) (Result, error) {
	var args findArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return failResult(FailInvalidArgs, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Name == "" {
		return failResult(FailInvalidArgs, "name is required"), nil
	}
	if args.Path == "" {
		return failResult(FailInvalidArgs, "path is required"), nil
	}
	maxResults := defaultMaxResults
	if args.MaxResults != nil {
		maxResults = *args.MaxResults
	}
	stagingLimit := maxResults * 8

	root, err := tc.Sandbox.ResolvePath(args.Path, true)
	if err != nil {
		return failResult(FailNotFound, err.Error()), nil
	}

	var staged []string
	_ = filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if len(staged) >= stagingLimit {
			return filepath.SkipAll
		}
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if strings.Contains(entry.Name(), args.Name) {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			staged = append(staged, rel)
		}
		return nil
	})

	if ctx.Err() == context.Canceled {
		return Result{Final: Cancelled(CancelUser)}, nil
	}

	sort.Strings(staged)
	if len(staged) > maxResults {
		staged = staged[:maxResults]
	}

	w := NewBoundedWriter(tc.limit())
	for _, m := range staged {
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
