package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type lsArgs struct {
	Path string `json:"path"`
}

type lsEntry struct {
	Name string
	Info string
}

// LSHandler lists directory entries, tagging each with its kind
// (file/dir/symlink) and size, sorted by full path for deterministic
// output.
func LSHandler(ctx context.Context, call Call, tc Context) (Result, error) {
	var args lsArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return failResult(FailInvalidArgs, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Path == "" {
		return failResult(FailInvalidArgs, "path is required"), nil
	}

	path, err := tc.Sandbox.ResolvePath(args.Path, true)
	if err != nil {
		return failResult(FailDenied, err.Error()), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return failResult(FailIO, err.Error()), nil
	}

	var list []lsEntry
	for _, item := range entries {
		info, err := item.Info()
		if err != nil {
			continue
		}
		kind := "file"
		switch {
		case item.IsDir():
			kind = "dir"
		case info.Mode()&os.ModeSymlink != 0:
			kind = "symlink"
		}
		list = append(list, lsEntry{
			Name: filepath.Join(path, item.Name()),
			Info: fmt.Sprintf("%s %d", kind, info.Size()),
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	var output string
	for _, item := range list {
		output += fmt.Sprintf("%s\t%s\n", item.Info, item.Name)
	}

	w := NewBoundedWriter(tc.limit())
	_, _ = w.Write([]byte(output))
	now := tc.Clock.NowMs()
	seq := 0
	return Result{
		Out:   w.Finish(call.ID, StreamStdout, &seq, now),
		Final: Ok(0),
	}, nil
}
