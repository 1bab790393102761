package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

type readArgs struct {
	Path     string `json:"path"`
	FromLine *int   `json:"from_line"`
	ToLine   *int   `json:"to_line"`
}

// ReadHandler streams a file from disk line-by-line, emitting only the
// 1-indexed inclusive [from_line, to_line] window the caller asked for (or
// the whole file when neither bound is given) so a narrow window never
// requires loading the whole file into memory.
func ReadHandler(ctx context.Context, call Call, tc Context) (Result, error) {
	var args readArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return failResult(FailInvalidArgs, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Path == "" {
		return failResult(FailInvalidArgs, "path is required"), nil
	}
	if args.FromLine != nil && *args.FromLine <= 0 {
		return failResult(FailInvalidArgs, "from_line must be > 0"), nil
	}
	if args.ToLine != nil && args.FromLine != nil && *args.ToLine < *args.FromLine {
		return failResult(FailInvalidArgs, "to_line must be >= from_line"), nil
	}

	path, err := tc.Sandbox.ResolvePath(args.Path, true)
	if err != nil {
		return failResult(FailNotFound, err.Error()), nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return failResult(FailNotFound, err.Error()), nil
		}
		return failResult(FailIO, err.Error()), nil
	}
	defer f.Close()

	from := 1
	if args.FromLine != nil {
		from = *args.FromLine
	}
	to := -1
	if args.ToLine != nil {
		to = *args.ToLine
	}

	w := NewBoundedWriter(tc.limit())
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < from {
			continue
		}
		if to >= 0 && lineNo > to {
			break
		}
		_, _ = w.Write(scanner.Bytes())
		_, _ = w.Write([]byte("\n"))
	}
	if err := scanner.Err(); err != nil {
		return failResult(FailIO, err.Error()), nil
	}

	now := tc.Clock.NowMs()
	seq := 0
	return Result{
		Out:   w.Finish(call.ID, StreamStdout, &seq, now),
		Final: Ok(0),
	}, nil
}

func failResult(kind FailKind, msg string) Result {
	return Result{Final: Failed(kind, msg)}
}
