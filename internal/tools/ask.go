package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type askArgs struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	Default       string   `json:"default"`
	AllowMultiple bool     `json:"allow_multiple"`
}

// AskHandler prompts the operator for input through tc.Ask, the prompt hook
// the caller supplies (cmd/pz uses the same stderr prompt answered on stdin
// in every mode). A PZ_ASK_RESPONSE
// environment variable can short-circuit the prompt for scripted runs.
func AskHandler(ctx context.Context, call Call, tc Context) (Result, error) {
	var args askArgs
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return failResult(FailInvalidArgs, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	args.Question = strings.TrimSpace(args.Question)
	if args.Question == "" {
		return failResult(FailInvalidArgs, "question is required"), nil
	}

	var answer string
	if response := strings.TrimSpace(os.Getenv("PZ_ASK_RESPONSE")); response != "" {
		answer = response
	} else {
		if tc.Ask == nil {
			return failResult(FailDenied, "ask requires an interactive session"), nil
		}
		a, err := tc.Ask(args.Question, args.Options)
		if err != nil {
			return failResult(FailDenied, err.Error()), nil
		}
		answer = a
		if answer == "" {
			answer = args.Default
		}
	}

	if args.AllowMultiple {
		answer = normalizeMultiAnswer(answer)
	}

	w := NewBoundedWriter(tc.limit())
	_, _ = w.Write([]byte(answer))
	now := tc.Clock.NowMs()
	seq := 0
	return Result{
		Out:   w.Finish(call.ID, StreamStdout, &seq, now),
		Final: Ok(0),
	}, nil
}

// normalizeMultiAnswer normalizes comma-separated responses.
func normalizeMultiAnswer(answer string) string {
	parts := strings.Split(answer, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return strings.Join(normalized, ", ")
}
