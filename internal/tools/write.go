package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type writeArgs struct {
	Path   string `json:"path"`
	Text   string `json:"text"`
	Append bool   `json:"append"`
}

// WriteHandler writes file contents to disk: truncate-and-replace by
// default, or append when Append is set. The parent directory must already
// exist. Writes atomically via a temp file + rename when truncating; an
// append writes directly since there is no atomic append-in-place
// primitive to rename over.
func WriteHandler(ctx context.Context, call Call, tc Context) (Result, error) {
	var args writeArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return failResult(FailInvalidArgs, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Path == "" {
		return failResult(FailInvalidArgs, "path is required"), nil
	}

	path, err := tc.Sandbox.ResolvePath(args.Path, false)
	if err != nil {
		return failResult(FailNotFound, err.Error()), nil
	}

	parent := filepath.Dir(path)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return failResult(FailNotFound, fmt.Sprintf("parent directory does not exist: %s", parent)), nil
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return failResult(FailInvalidArgs, "path is a directory"), nil
		}
		mode = info.Mode().Perm()
	}

	if args.Append {
		if err := appendToFile(path, []byte(args.Text), mode); err != nil {
			return failResult(FailIO, fmt.Sprintf("write failed: %v", err)), nil
		}
	} else if err := writeAtomic(path, []byte(args.Text), mode); err != nil {
		return failResult(FailIO, fmt.Sprintf("write failed: %v", err)), nil
	}

	return Result{Final: Ok(0)}, nil
}

func appendToFile(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// writeAtomic writes to a temp file in the same directory and renames it
// into place so readers never observe a partial write.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pz-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
