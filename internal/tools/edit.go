package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type editArgs struct {
	Path string `json:"path"`
	Old  string `json:"old"`
	New  string `json:"new"`
	All  bool   `json:"all"`
}

// EditHandler loads a file, substitutes a literal old-for-new occurrence
// (first, or every occurrence when All is set), and rewrites the file.
func EditHandler(ctx context.Context, call Call, tc Context) (Result, error) {
	var args editArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return failResult(FailInvalidArgs, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Path == "" {
		return failResult(FailInvalidArgs, "path is required"), nil
	}
	if args.Old == "" {
		return failResult(FailInvalidArgs, "old is required"), nil
	}

	path, err := tc.Sandbox.ResolvePath(args.Path, true)
	if err != nil {
		return failResult(FailNotFound, err.Error()), nil
	}

	original, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return failResult(FailNotFound, err.Error()), nil
		}
		return failResult(FailIO, err.Error()), nil
	}

	if !strings.Contains(string(original), args.Old) {
		return failResult(FailNotFound, "old not found in file"), nil
	}

	count := 1
	if args.All {
		count = -1
	}
	updated := strings.Replace(string(original), args.Old, args.New, count)

	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err := writeAtomic(path, []byte(updated), mode); err != nil {
		return failResult(FailIO, fmt.Sprintf("write failed: %v", err)), nil
	}

	return Result{Final: Ok(0)}, nil
}
