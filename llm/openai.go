package llm

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/logging"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
)

// OpenAIClient is a streaming client for the OpenAI Chat Completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAIClient. It requires the
// OPENAI_API_KEY environment variable (or the one named by keyEnv) to be
// set, and supports custom base URLs for compatible endpoints.
func NewOpenAIClient(ctx context.Context, modelName, keyEnv, baseURL string) (*OpenAIClient, error) {
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, errors.New("%s environment variable not set", keyEnv)
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	return &OpenAIClient{client: &c, model: modelName}, nil
}

// ChatStream opens a streaming chat completion against OpenAI.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenAIContent(messages),
		Tools:    convertToolsToOpenAITools(availableTools),
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to open OpenAI stream")
	}
	return &openaiStream{inner: stream}, nil
}

// openaiStream adapts the SDK's chunk stream. Text deltas pass through as
// they arrive; tool calls accumulate across chunks and are emitted whole
// when the stream finishes a call.
type openaiStream struct {
	inner   *ssestream.Stream[openai.ChatCompletionChunk]
	acc     openai.ChatCompletionAccumulator
	pending []Delta
	done    bool
}

func (s *openaiStream) Recv() (Delta, error) {
	for {
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return d, nil
		}
		if s.done {
			return Delta{}, io.EOF
		}
		if !s.inner.Next() {
			if err := s.inner.Err(); err != nil {
				return Delta{}, errors.Wrapf(err, "OpenAI stream failed")
			}
			// The stream ended; flush any tool calls assembled by the
			// accumulator, then signal completion.
			s.done = true
			s.pending = append(s.pending, s.accumulatedToolCalls()...)
			s.pending = append(s.pending, Delta{Done: true})
			continue
		}

		chunk := s.inner.Current()
		s.acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			if text := chunk.Choices[0].Delta.Content; text != "" {
				return Delta{Text: text}, nil
			}
		}
	}
}

func (s *openaiStream) accumulatedToolCalls() []Delta {
	if len(s.acc.Choices) == 0 {
		return nil
	}
	var deltas []Delta
	for _, tc := range s.acc.Choices[0].Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			logging.L().Warn("could not unmarshal tool call arguments, skipping", "tool", tc.Function.Name, "error", err)
			continue
		}
		deltas = append(deltas, Delta{ToolCall: &ToolCallDelta{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}})
	}
	return deltas
}

func (s *openaiStream) Close() error {
	return s.inner.Close()
}

// convertMessagesToOpenAIContent converts our internal message format to
// OpenAI's.
func convertMessagesToOpenAIContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Content))
		case session.RoleAI:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				var toolCalls []openai.ChatCompletionMessageToolCallUnion
				for _, tc := range msg.ToolCalls {
					argsBytes, err := json.Marshal(tc.Args)
					if err != nil {
						logging.L().Warn("could not marshal tool call arguments, skipping", "tool", tc.Name, "error", err)
						continue
					}
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnion{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageFunctionToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsBytes),
						},
					})
				}
				assistantMessage.ToolCalls = toolCalls
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.RoleTool:
			chatMessages = append(chatMessages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case session.RoleHuman:
			fallthrough
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts our Tool interface to the OpenAI tool
// format.
func convertToolsToOpenAITools(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
		if schema := t.Schema(); schema != nil {
			for k, v := range schema {
				params[k] = v
			}
		}
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  params,
		}))
	}
	return openAITools
}
