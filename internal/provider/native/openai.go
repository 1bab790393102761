package native

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/nautilus-run/pz/internal/provider"
)

// OpenAIBackend streams turns through the OpenAI-compatible chat
// completions API, used when provider_label selects "openai".
type OpenAIBackend struct {
	client openai.Client
}

// NewOpenAIBackend resolves credentials and constructs a backend.
func NewOpenAIBackend(baseURL string) (*OpenAIBackend, error) {
	apiKey, err := OpenAICredential()
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{client: openai.NewClient(opts...)}, nil
}

func (b *OpenAIBackend) Start(ctx context.Context, req provider.Request) (provider.Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: toOpenAIMessages(req),
	}
	if req.Opts.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.Opts.MaxTokens))
	}
	if req.Opts.Temperature != nil {
		params.Temperature = openai.Float(*req.Opts.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}

	sdkStream := b.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan provider.Event, 16)
	s := &openaiStream{sdkStream: sdkStream, events: out}
	go s.pump()
	return s, nil
}

func toOpenAIMessages(req provider.Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Msgs)+1)
	if req.Opts.SystemPrompt != "" {
		out = append(out, openai.SystemMessage(req.Opts.SystemPrompt))
	}
	for _, m := range req.Msgs {
		switch m.Role {
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			msg := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func toOpenAITools(tools []provider.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Desc),
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

// openaiStream adapts the SDK's push-style ChatCompletionChunk iterator to
// the pull-based provider.Stream contract, accumulating tool-call argument
// fragments across chunks the way the teacher's StreamAccumulator did for
// the hand-rolled SSE client.
type openaiStream struct {
	sdkStream *ssestream.Stream[openai.ChatCompletionChunk]
	events    chan provider.Event
}

type pendingToolCall struct {
	id   string
	name string
	args string
}

func (s *openaiStream) pump() {
	defer close(s.events)

	pending := map[int64]*pendingToolCall{}
	var order []int64
	var usage provider.Usage

	for s.sdkStream.Next() {
		chunk := s.sdkStream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			s.events <- provider.TextEvent(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			state, ok := pending[tc.Index]
			if !ok {
				state = &pendingToolCall{}
				pending[tc.Index] = state
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				state.id = tc.ID
			}
			if tc.Function.Name != "" {
				state.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				state.args += tc.Function.Arguments
			}
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = provider.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:  int(chunk.Usage.TotalTokens),
			}
		}
	}

	if err := s.sdkStream.Err(); err != nil {
		s.events <- provider.ErrEvent(fmt.Sprintf("openai stream: %v", err))
		s.events <- provider.StopEvent(provider.StopErr)
		return
	}

	for _, idx := range order {
		state := pending[idx]
		s.events <- provider.ToolCallEvent(state.id, state.name, json.RawMessage(state.args))
	}

	if usage.TotalTokens > 0 {
		s.events <- provider.UsageEvent(usage)
	}
	s.events <- provider.StopEvent(provider.StopDone)
}

func (s *openaiStream) Next(ctx context.Context) (provider.Event, bool, error) {
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

func (s *openaiStream) Close() error {
	return s.sdkStream.Close()
}
