package llm

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient is a streaming client for the Google Gemini API.
type GeminiClient struct {
	model *genai.GenerativeModel
}

// NewGeminiClient creates a new GeminiClient. It requires the
// GEMINI_API_KEY environment variable (or the one named by keyEnv) to be
// set.
func NewGeminiClient(ctx context.Context, modelName, keyEnv string) (*GeminiClient, error) {
	if keyEnv == "" {
		keyEnv = "GEMINI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, errors.New("%s environment variable not set", keyEnv)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiClient{model: client.GenerativeModel(modelName)}, nil
}

// ChatStream opens a streaming chat against the Gemini API. Gemini does
// not assign tool-call ids, so each invocation mints short ids from a
// fresh alias table; results are matched back to calls by function name.
func (g *GeminiClient) ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (Stream, error) {
	ids := newAliasTable()
	history, prompt := convertMessagesToGeminiContent(messages, ids)
	if len(prompt) == 0 {
		return nil, errors.New("no message to send to Gemini")
	}

	g.model.Tools = convertToolsToGeminiTools(availableTools)

	chat := g.model.StartChat()
	chat.History = history
	iter := chat.SendMessageStream(ctx, prompt...)
	return &geminiStream{inner: iter, ids: ids}, nil
}

type geminiStream struct {
	inner   *genai.GenerateContentResponseIterator
	ids     *aliasTable
	pending []Delta
}

func (s *geminiStream) Recv() (Delta, error) {
	for {
		if len(s.pending) > 0 {
			d := s.pending[0]
			s.pending = s.pending[1:]
			return d, nil
		}

		resp, err := s.inner.Next()
		if err == iterator.Done {
			return Delta{Done: true}, nil
		}
		if err != nil {
			return Delta{}, errors.Wrapf(err, "Gemini stream failed")
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				if p != "" {
					s.pending = append(s.pending, Delta{Text: string(p)})
				}
			case genai.FunctionCall:
				s.pending = append(s.pending, Delta{ToolCall: &ToolCallDelta{
					ID:   s.ids.next(),
					Name: p.Name,
					Args: p.Args,
				}})
			}
		}
	}
}

func (s *geminiStream) Close() error {
	// The iterator has no resources to release beyond the request context.
	return nil
}

// convertMessagesToGeminiContent converts our internal message format to
// Gemini's content history plus the parts of the final message, which the
// chat session sends as the new prompt.
func convertMessagesToGeminiContent(messages []session.Message, ids *aliasTable) ([]*genai.Content, []genai.Part) {
	var contents []*genai.Content
	callNames := map[string]string{}

	for _, msg := range messages {
		switch msg.Role {
		case session.RoleSystem:
			// Gemini takes the system prompt as a plain leading user turn.
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case session.RoleHuman:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case session.RoleAI:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callNames[ids.alias(tc.ID)] = tc.Name
				callNames[tc.ID] = tc.Name
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case session.RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = callNames[ids.resolve(msg.ToolCallID)]
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     name,
					Response: map[string]interface{}{"output": msg.Content},
				}},
			})
		}
	}

	if len(contents) == 0 {
		return nil, nil
	}
	last := contents[len(contents)-1]
	return contents[:len(contents)-1], last.Parts
}

// convertToolsToGeminiTools converts our Tool interface to Gemini's
// FunctionDeclaration format.
func convertToolsToGeminiTools(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, t := range ts {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  convertSchemaToGemini(t.Schema()),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// convertSchemaToGemini maps a JSON-schema object to genai's typed schema.
// Only the flat shapes our tools declare (string/number/boolean properties
// with a required list) are supported.
func convertSchemaToGemini(schema map[string]interface{}) *genai.Schema {
	out := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{},
	}
	if schema == nil {
		return out
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for name, raw := range props {
			prop, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			ps := &genai.Schema{Type: genai.TypeString}
			switch prop["type"] {
			case "number", "integer":
				ps.Type = genai.TypeNumber
			case "boolean":
				ps.Type = genai.TypeBoolean
			}
			if desc, ok := prop["description"].(string); ok {
				ps.Description = desc
			}
			out.Properties[name] = ps
		}
	}
	out.Required = requiredFields(schema)
	return out
}
