package llm

import (
	"context"
	"io"

	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
)

// Delta is one unit of a streamed completion. Text arrives incrementally;
// tool calls are emitted whole, once the provider has finished assembling
// the call's arguments. Done marks the end of the model's turn.
type Delta struct {
	Text     string
	ToolCall *ToolCallDelta
	Done     bool
}

// ToolCallDelta is a completed tool invocation request within a stream.
type ToolCallDelta struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// Stream is a lazy sequence of completion deltas. Recv returns io.EOF once
// the sequence ends; Close releases the underlying connection and is safe
// to call mid-stream, which is how callers cancel a completion.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// Client is the interface for interacting with a Large Language Model.
// Each provider adapter translates the neutral message representation to
// its wire format and the provider's stream events back to Deltas.
type Client interface {
	ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (Stream, error)
}

// Collect drains a stream into a single assistant message. It closes the
// stream regardless of outcome.
func Collect(s Stream) (*session.Message, error) {
	defer s.Close()

	msg := &session.Message{Role: session.RoleAI}
	for {
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return msg, nil
		}
		if err != nil {
			return nil, err
		}
		msg.Content += d.Text
		if d.ToolCall != nil {
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:   d.ToolCall.ID,
				Name: d.ToolCall.Name,
				Args: d.ToolCall.Args,
			})
		}
		if d.Done {
			return msg, nil
		}
	}
}

// sliceStream replays a fixed set of deltas. Adapters that buffer whole
// responses (and tests) use it to satisfy the Stream contract.
type sliceStream struct {
	deltas []Delta
	pos    int
}

func newSliceStream(deltas []Delta) *sliceStream {
	return &sliceStream{deltas: deltas}
}

func (s *sliceStream) Recv() (Delta, error) {
	if s.pos >= len(s.deltas) {
		return Delta{}, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

// MockClient is a scripted client for tests and offline runs.
type MockClient struct {
	// Responses are returned in order; when exhausted the client echoes
	// the last human message.
	Responses []session.Message
	calls     int
}

func (m *MockClient) ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (Stream, error) {
	if m.calls < len(m.Responses) {
		resp := m.Responses[m.calls]
		m.calls++
		return streamFromMessage(resp), nil
	}
	last := ""
	for _, msg := range messages {
		if msg.Role == session.RoleHuman {
			last = msg.Content
		}
	}
	return newSliceStream([]Delta{
		{Text: "I am a mock model. You said: " + last},
		{Done: true},
	}), nil
}

func streamFromMessage(msg session.Message) Stream {
	var deltas []Delta
	if msg.Content != "" {
		deltas = append(deltas, Delta{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		deltas = append(deltas, Delta{ToolCall: &ToolCallDelta{ID: tc.ID, Name: tc.Name, Args: tc.Args}})
	}
	return newSliceStream(append(deltas, Delta{Done: true}))
}
