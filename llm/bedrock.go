package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
)

// BedrockClient is a streaming client for Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient creates a new BedrockClient. It requires AWS
// credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// ChatStream invokes the model with a response stream. The event payloads
// follow the Anthropic messages stream format, carried as JSON chunks.
func (b *BedrockClient) ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (Stream, error) {
	body, err := createBedrockRequest(messages, availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	resp, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	return &bedrockStream{inner: resp.GetStream()}, nil
}

// bedrockEvent is the subset of the Anthropic stream event payload that
// the adapter needs.
type bedrockEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type bedrockStream struct {
	inner *bedrockruntime.InvokeModelWithResponseStreamEventStream

	// In-flight tool_use block, assembled from input_json_delta fragments.
	toolID   string
	toolName string
	toolJSON strings.Builder
	inTool   bool
}

func (s *bedrockStream) Recv() (Delta, error) {
	for event := range s.inner.Events() {
		chunk, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		var ev bedrockEvent
		if err := json.Unmarshal(chunk.Value.Bytes, &ev); err != nil {
			return Delta{}, errors.Wrapf(err, "failed to unmarshal Bedrock chunk")
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				s.inTool = true
				s.toolID = ev.ContentBlock.ID
				s.toolName = ev.ContentBlock.Name
				s.toolJSON.Reset()
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					return Delta{Text: ev.Delta.Text}, nil
				}
			case "input_json_delta":
				s.toolJSON.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if s.inTool {
				d, err := s.finishToolCall()
				if err != nil {
					return Delta{}, err
				}
				return d, nil
			}
		case "message_stop":
			return Delta{Done: true}, nil
		}
	}
	if err := s.inner.Err(); err != nil {
		return Delta{}, errors.Wrapf(err, "Bedrock stream failed")
	}
	return Delta{}, io.EOF
}

func (s *bedrockStream) finishToolCall() (Delta, error) {
	s.inTool = false
	args := map[string]interface{}{}
	if raw := s.toolJSON.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return Delta{}, errors.Wrapf(err, "failed to unmarshal tool call input for '%s'", s.toolName)
		}
	}
	return Delta{ToolCall: &ToolCallDelta{ID: s.toolID, Name: s.toolName, Args: args}}, nil
}

func (s *bedrockStream) Close() error {
	return s.inner.Close()
}

// createBedrockRequest builds the Anthropic-on-Bedrock request body.
func createBedrockRequest(messages []session.Message, availableTools []tools.Tool) ([]byte, error) {
	bedrockMessages, systemPrompt := convertMessagesToBedrockFormat(messages)

	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          bedrockMessages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if len(availableTools) > 0 {
		var toolDefs []map[string]interface{}
		for _, t := range availableTools {
			schema := t.Schema()
			if schema == nil {
				schema = map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				}
			}
			toolDefs = append(toolDefs, map[string]interface{}{
				"name":         t.Name(),
				"description":  t.Description(),
				"input_schema": schema,
			})
		}
		request["tools"] = toolDefs
	}

	return json.Marshal(request)
}

// convertMessagesToBedrockFormat converts our internal message format to
// the Anthropic messages format used on Bedrock.
func convertMessagesToBedrockFormat(messages []session.Message) ([]map[string]interface{}, string) {
	var out []map[string]interface{}
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			if systemPrompt == "" {
				systemPrompt = msg.Content
			}
		case session.RoleHuman:
			out = append(out, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": msg.Content},
				},
			})
		case session.RoleAI:
			var content []map[string]interface{}
			if msg.Content != "" {
				content = append(content, map[string]interface{}{
					"type": "text", "text": msg.Content,
				})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": tc.Args,
				})
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, map[string]interface{}{
				"role":    "assistant",
				"content": content,
			})
		case session.RoleTool:
			out = append(out, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type":        "tool_result",
						"tool_use_id": msg.ToolCallID,
						"content":     msg.Content,
					},
				},
			})
		}
	}

	return out, systemPrompt
}
