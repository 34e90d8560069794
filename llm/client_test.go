package llm

import (
	"context"
	"testing"

	"github.com/khoste/vigil/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectFoldsTextAndToolCalls(t *testing.T) {
	s := newSliceStream([]Delta{
		{Text: "let me "},
		{Text: "check"},
		{ToolCall: &ToolCallDelta{ID: "tc1", Name: "read_file", Args: map[string]interface{}{"path": "a.txt"}}},
		{Done: true},
	})

	msg, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, session.RoleAI, msg.Role)
	assert.Equal(t, "let me check", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "read_file", msg.ToolCalls[0].Name)
}

func TestCollectStopsAtEOFWithoutDone(t *testing.T) {
	s := newSliceStream([]Delta{{Text: "partial"}})
	msg, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "partial", msg.Content)
}

func TestMockClientScriptedResponses(t *testing.T) {
	m := &MockClient{Responses: []session.Message{
		{Role: session.RoleAI, Content: "first"},
		{Role: session.RoleAI, Content: "second"},
	}}

	for _, want := range []string{"first", "second"} {
		stream, err := m.ChatStream(context.Background(), nil, nil)
		require.NoError(t, err)
		msg, err := Collect(stream)
		require.NoError(t, err)
		assert.Equal(t, want, msg.Content)
	}

	// Exhausted scripts fall back to echoing.
	stream, err := m.ChatStream(context.Background(), []session.Message{
		{Role: session.RoleHuman, Content: "echo me"},
	}, nil)
	require.NoError(t, err)
	msg, err := Collect(stream)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "echo me")
}
