package native

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/nautilus-run/pz/internal/provider"
)

// AnthropicBackend streams turns through the real Messages API.
type AnthropicBackend struct {
	client anthropic.Client
}

// NewAnthropicBackend resolves credentials and constructs a backend.
func NewAnthropicBackend() (*AnthropicBackend, error) {
	apiKey, oauthToken, err := AnthropicCredential()
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	} else {
		opts = append(opts, option.WithHeader("Authorization", "Bearer "+oauthToken))
	}
	return &AnthropicBackend{client: anthropic.NewClient(opts...)}, nil
}

func (b *AnthropicBackend) Start(ctx context.Context, req provider.Request) (provider.Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokensOrDefault(req.Opts.MaxTokens),
		Messages:  toAnthropicMessages(req.Msgs),
	}
	if req.Opts.SystemPrompt != "" {
		block := anthropic.TextBlockParam{Text: req.Opts.SystemPrompt}
		if req.Opts.PromptCache {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	sdkStream := b.client.Messages.NewStreaming(ctx, params)

	out := make(chan provider.Event, 16)
	s := &anthropicStream{sdkStream: sdkStream, events: out}
	go s.pump()
	return s, nil
}

func maxTokensOrDefault(v *int) int64 {
	if v != nil && *v > 0 {
		return int64(*v)
	}
	return 4096
}

func toAnthropicMessages(msgs []provider.Msg) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				_ = json.Unmarshal(tc.Args, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return out
}

func toAnthropicTools(tools []provider.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Desc),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Schema["properties"],
				},
			},
		})
	}
	return out
}

// anthropicStream adapts the SDK's push-style iterator to the pull-based
// provider.Stream contract.
type anthropicStream struct {
	sdkStream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	events    chan provider.Event
}

func (s *anthropicStream) pump() {
	defer close(s.events)

	message := anthropic.Message{}
	toolArgs := map[string]string{}

	for s.sdkStream.Next() {
		event := s.sdkStream.Current()
		message.Accumulate(event)

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				s.events <- provider.TextEvent(delta.Text)
			case anthropic.ThinkingDelta:
				s.events <- provider.ThinkingEvent(delta.Thinking)
			case anthropic.InputJSONDelta:
				toolArgs[indexKey(variant.Index)] += delta.PartialJSON
			}
		case anthropic.MessageDeltaEvent:
			if variant.Usage.OutputTokens > 0 {
				s.events <- provider.UsageEvent(provider.Usage{
					OutputTokens: int(variant.Usage.OutputTokens),
				})
			}
		}
	}

	if err := s.sdkStream.Err(); err != nil {
		s.events <- provider.ErrEvent(fmt.Sprintf("anthropic stream: %v", err))
		s.events <- provider.StopEvent(provider.StopErr)
		return
	}

	for _, block := range message.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			args := toolArgs[indexKeyFromID(message, tu.ID)]
			if args == "" {
				args = string(tu.Input)
			}
			s.events <- provider.ToolCallEvent(tu.ID, tu.Name, json.RawMessage(args))
		}
	}

	s.events <- provider.UsageEvent(provider.Usage{
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
	})

	switch message.StopReason {
	case anthropic.StopReasonToolUse:
		s.events <- provider.StopEvent(provider.StopDone)
	default:
		s.events <- provider.StopEvent(provider.StopDone)
	}
}

func indexKey(i int64) string { return fmt.Sprintf("idx:%d", i) }

func indexKeyFromID(message anthropic.Message, id string) string {
	for i, block := range message.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok && tu.ID == id {
			return indexKey(int64(i))
		}
	}
	return ""
}

func (s *anthropicStream) Next(ctx context.Context) (provider.Event, bool, error) {
	select {
	case e, ok := <-s.events:
		if !ok {
			return provider.Event{}, false, nil
		}
		return e, true, nil
	case <-ctx.Done():
		return provider.Event{}, false, ctx.Err()
	}
}

func (s *anthropicStream) Close() error {
	return s.sdkStream.Close()
}
