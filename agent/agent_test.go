package agent

import (
	"context"
	"testing"

	"github.com/khoste/vigil/config"
	"github.com/khoste/vigil/executor"
	"github.com/khoste/vigil/interrupt"
	"github.com/khoste/vigil/llm"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoTool returns a fixed result, or raises a confirmation request until
// confirm=true is passed.
type echoTool struct {
	result      string
	needConfirm bool
	executions  int
}

func (e *echoTool) Name() string                   { return "echo_tool" }
func (e *echoTool) Description() string            { return "returns a fixed string" }
func (e *echoTool) Schema() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (e *echoTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if e.needConfirm {
		if v, ok := args["confirm"].(bool); !ok || !v {
			return "", &tools.ConfirmationRequired{ToolName: e.Name(), Description: "do the thing"}
		}
	}
	e.executions++
	return e.result, nil
}

func testAgent(t *testing.T, client llm.Client, mode Mode, tool tools.Tool) *Agent {
	t.Helper()
	t.Chdir(t.TempDir())

	cfg := &config.Config{
		Toolsets: []config.Toolset{{Name: "default", Tools: []string{tool.Name()}}},
	}
	registry := tools.NewToolRegistry(cfg, executor.New(0))
	t.Cleanup(registry.Close)
	registry.Register(tool)

	sess, err := session.New("test")
	require.NoError(t, err)

	a, err := New(cfg, sess, "default", mode, ToolVerbosityNone, client, registry, interrupt.New())
	require.NoError(t, err)
	return a
}

func roles(msgs []session.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestPlainTextTurn(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, Content: "hello there"},
	}}
	a := testAgent(t, client, ModeAuto, &echoTool{result: "unused"})

	var said string
	cb := ProcessCallbacks{OnAssistantMessage: func(m string) { said = m }}
	require.NoError(t, a.ProcessUserInput(context.Background(), "hi", cb))

	assert.Equal(t, "hello there", said)
	assert.Equal(t, []string{session.RoleHuman, session.RoleAI}, roles(a.Session.Log.Messages()))
}

func TestToolCallRoundTrip(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, ToolCalls: []session.ToolCall{{ID: "tc1", Name: "echo_tool"}}},
		{Role: session.RoleAI, Content: "all done"},
	}}
	tool := &echoTool{result: "tool says hi"}
	a := testAgent(t, client, ModeAuto, tool)

	var results []string
	cb := ProcessCallbacks{
		OnToolResult: func(tc session.ToolCall, result string) { results = append(results, result) },
	}
	require.NoError(t, a.ProcessUserInput(context.Background(), "run it", cb))

	assert.Equal(t, 1, tool.executions)
	require.Len(t, results, 1)
	assert.Equal(t, "tool says hi", results[0])

	msgs := a.Session.Log.Messages()
	assert.Equal(t, []string{session.RoleHuman, session.RoleAI, session.RoleTool, session.RoleAI}, roles(msgs))
	assert.Equal(t, "tc1", msgs[2].ToolCallID)
	assert.Equal(t, "all done", msgs[3].Content)
}

func TestDeclinedToolRecordsResult(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, ToolCalls: []session.ToolCall{{ID: "tc1", Name: "echo_tool"}}},
		{Role: session.RoleAI, Content: "understood"},
	}}
	tool := &echoTool{result: "never"}
	a := testAgent(t, client, ModePrompt, tool)

	cb := ProcessCallbacks{
		ShouldExecuteTool: func(tc session.ToolCall) bool { return false },
	}
	require.NoError(t, a.ProcessUserInput(context.Background(), "run it", cb))

	assert.Equal(t, 0, tool.executions)
	msgs := a.Session.Log.Messages()
	require.Equal(t, []string{session.RoleHuman, session.RoleAI, session.RoleTool, session.RoleAI}, roles(msgs))
	assert.Contains(t, msgs[2].Content, "declined")
	assert.Equal(t, "tc1", msgs[2].ToolCallID)
}

func TestConfirmationApprovedReinvokes(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, ToolCalls: []session.ToolCall{{ID: "tc1", Name: "echo_tool"}}},
		{Role: session.RoleAI, Content: "done"},
	}}
	tool := &echoTool{result: "applied", needConfirm: true}
	a := testAgent(t, client, ModeAuto, tool)

	asked := 0
	cb := ProcessCallbacks{
		OnConfirmationRequest: func(req *tools.ConfirmationRequired) bool {
			asked++
			return true
		},
	}
	require.NoError(t, a.ProcessUserInput(context.Background(), "write it", cb))

	assert.Equal(t, 1, asked)
	assert.Equal(t, 1, tool.executions)
	msgs := a.Session.Log.Messages()
	assert.Equal(t, "applied", msgs[2].Content)
}

func TestConfirmationDeniedSkipsMutation(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, ToolCalls: []session.ToolCall{{ID: "tc1", Name: "echo_tool"}}},
		{Role: session.RoleAI, Content: "done"},
	}}
	tool := &echoTool{result: "applied", needConfirm: true}
	a := testAgent(t, client, ModeAuto, tool)

	cb := ProcessCallbacks{
		OnConfirmationRequest: func(req *tools.ConfirmationRequired) bool { return false },
	}
	require.NoError(t, a.ProcessUserInput(context.Background(), "write it", cb))

	assert.Equal(t, 0, tool.executions)
	msgs := a.Session.Log.Messages()
	assert.Contains(t, msgs[2].Content, "declined")
}

func TestContinuationMarkerTriggersAnotherRound(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, Content: "working notes " + ContinueMarker},
		{Role: session.RoleAI, Content: "final answer"},
	}}
	a := testAgent(t, client, ModeAuto, &echoTool{result: "unused"})

	var said, streamed []string
	cb := ProcessCallbacks{
		OnAssistantDelta:   func(m string) { streamed = append(streamed, m) },
		OnAssistantMessage: func(m string) { said = append(said, m) },
	}
	require.NoError(t, a.ProcessUserInput(context.Background(), "go", cb))

	// The marker round stays between the model and the agent; only the
	// marker-free response reaches the user.
	require.Equal(t, []string{"final answer"}, said)
	assert.Equal(t, []string{"final answer"}, streamed)

	msgs := a.Session.Log.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "working notes", msgs[1].Content)
	assert.NotContains(t, msgs[1].Content, ContinueMarker, "marker must not be persisted")
}

// triggerStream raises the interrupt while its first delta is being
// produced, the way a Ctrl-C lands while the model is still talking.
type triggerStream struct {
	sig *interrupt.Signal
	n   int
}

func (s *triggerStream) Recv() (llm.Delta, error) {
	s.n++
	if s.n == 1 {
		s.sig.Trigger()
		return llm.Delta{Text: "half an answer"}, nil
	}
	return llm.Delta{Text: "never read"}, nil
}

func (s *triggerStream) Close() error { return nil }

type triggerClient struct{ sig *interrupt.Signal }

func (c *triggerClient) ChatStream(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (llm.Stream, error) {
	return &triggerStream{sig: c.sig}, nil
}

func TestInterruptDuringStreamEndsTurn(t *testing.T) {
	client := &triggerClient{}
	a := testAgent(t, client, ModeAuto, &echoTool{result: "unused"})
	client.sig = a.Interrupts

	var said []string
	var warned string
	cb := ProcessCallbacks{
		OnAssistantMessage: func(m string) { said = append(said, m) },
		OnWarning:          func(w string) { warned = w },
	}
	require.NoError(t, a.ProcessUserInput(context.Background(), "hi", cb))

	assert.Empty(t, said, "partial stream text must not surface")
	assert.Contains(t, warned, "interrupted")
	assert.Equal(t, []string{session.RoleHuman}, roles(a.Session.Log.Messages()))
}

func TestPendingInterruptEndsTurnBeforeModelCall(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, Content: "should not be reached"},
	}}
	a := testAgent(t, client, ModeAuto, &echoTool{result: "unused"})
	a.Interrupts.Trigger()

	var warned string
	cb := ProcessCallbacks{OnWarning: func(w string) { warned = w }}
	require.NoError(t, a.ProcessUserInput(context.Background(), "hi", cb))

	assert.Contains(t, warned, "interrupted")
	assert.Equal(t, []string{session.RoleHuman}, roles(a.Session.Log.Messages()))
}

func TestUnknownToolRecordsError(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, ToolCalls: []session.ToolCall{{ID: "tc1", Name: "no_such_tool"}}},
		{Role: session.RoleAI, Content: "ok"},
	}}
	a := testAgent(t, client, ModeAuto, &echoTool{result: "unused"})

	require.NoError(t, a.ProcessUserInput(context.Background(), "go", cb0()))
	msgs := a.Session.Log.Messages()
	assert.Contains(t, msgs[2].Content, "unknown tool")
}

func cb0() ProcessCallbacks { return ProcessCallbacks{} }

func TestHistoryBoundedBeforeModelCall(t *testing.T) {
	client := &llm.MockClient{Responses: []session.Message{
		{Role: session.RoleAI, Content: "fine"},
	}}
	a := testAgent(t, client, ModeAuto, &echoTool{result: "unused"})
	a.Bounds = session.Bounds{MaxMessages: 3, MaxChars: 100_000, MinRetained: 2}

	for i := 0; i < 6; i++ {
		a.Session.AddMessage(session.Message{Role: session.RoleHuman, Content: "old"})
	}
	require.NoError(t, a.ProcessUserInput(context.Background(), "new", cb0()))

	assert.LessOrEqual(t, a.Session.Log.Len(), 4)
}
