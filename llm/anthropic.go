package llm

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/logging"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
)

// AnthropicClient is a streaming client for the Anthropic API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new AnthropicClient. It requires the
// ANTHROPIC_API_KEY environment variable (or the one named by keyEnv) to
// be set.
func NewAnthropicClient(ctx context.Context, modelName, keyEnv, baseURL string) (*AnthropicClient, error) {
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, errors.New("%s environment variable not set", keyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicClient{
		client: &client,
		model:  modelName,
	}, nil
}

// ChatStream opens a streaming completion against the Anthropic API.
func (a *AnthropicClient) ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (Stream, error) {
	anthropicMessages, systemPrompt := convertMessagesToAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	for _, toolParam := range convertToolsToAnthropicTools(availableTools) {
		tp := toolParam
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tp})
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to open Anthropic stream")
	}
	return &anthropicStream{inner: stream}, nil
}

// anthropicStream adapts the SDK's SSE stream to the neutral Delta
// sequence. Tool-use blocks are surfaced once complete, via the
// accumulated message.
type anthropicStream struct {
	inner *ssestream.Stream[anthropic.MessageStreamEventUnion]
	acc   anthropic.Message
}

func (s *anthropicStream) Recv() (Delta, error) {
	for s.inner.Next() {
		event := s.inner.Current()
		if err := s.acc.Accumulate(event); err != nil {
			return Delta{}, errors.Wrapf(err, "failed to accumulate Anthropic event")
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				return Delta{Text: d.Text}, nil
			}
		case anthropic.ContentBlockStopEvent:
			if int(ev.Index) >= len(s.acc.Content) {
				continue
			}
			if tu, ok := s.acc.Content[ev.Index].AsAny().(anthropic.ToolUseBlock); ok {
				var args map[string]interface{}
				if err := json.Unmarshal(tu.Input, &args); err != nil {
					return Delta{}, errors.Wrapf(err, "failed to unmarshal tool call input")
				}
				return Delta{ToolCall: &ToolCallDelta{ID: tu.ID, Name: tu.Name, Args: args}}, nil
			}
		case anthropic.MessageStopEvent:
			return Delta{Done: true}, nil
		}
	}
	if err := s.inner.Err(); err != nil {
		return Delta{}, errors.Wrapf(err, "Anthropic stream failed")
	}
	return Delta{}, io.EOF
}

func (s *anthropicStream) Close() error {
	return s.inner.Close()
}

// convertMessagesToAnthropicMessages converts our internal message format
// to Anthropic's format.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleHuman:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case session.RoleAI:
			var contentItems []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: msg.Content},
				})
			}
			for _, tc := range msg.ToolCalls {
				argsBytes, err := json.Marshal(tc.Args)
				if err != nil {
					logging.L().Warn("could not marshal tool call arguments, skipping", "tool", tc.Name, "error", err)
					continue
				}
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: argsBytes,
					},
				})
			}
			if len(contentItems) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: contentItems,
			})
		case session.RoleTool:
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: msg.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: msg.Content},
						}},
					},
				}},
			})
		case session.RoleSystem:
			// The first system message wins; later ones are collapsed by
			// the history manager before the log reaches an adapter.
			if systemPrompt == "" {
				systemPrompt = msg.Content
			}
		}
	}

	return anthropicMessages, systemPrompt
}

// convertToolsToAnthropicTools converts our Tool interface to Anthropic's
// tool format.
func convertToolsToAnthropicTools(ts []tools.Tool) []anthropic.ToolParam {
	var anthropicTools []anthropic.ToolParam
	for _, t := range ts {
		properties := map[string]interface{}{}
		var required []string
		if schema := t.Schema(); schema != nil {
			if p, ok := schema["properties"].(map[string]interface{}); ok {
				properties = p
			}
			required = requiredFields(schema)
		}
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		})
	}
	return anthropicTools
}

// requiredFields reads a schema's "required" list, which is []string for
// the built-in tools but []interface{} when the schema was decoded from
// JSON (MCP servers).
func requiredFields(schema map[string]interface{}) []string {
	switch r := schema["required"].(type) {
	case []string:
		return r
	case []interface{}:
		var out []string
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
