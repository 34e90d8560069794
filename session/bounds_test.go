package session

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgLog(msgs ...Message) *Log {
	l := NewLog()
	for _, m := range msgs {
		l.Append(m)
	}
	return l
}

func TestBoundedViewWithinLimitsUntouched(t *testing.T) {
	l := msgLog(
		Message{Role: RoleSystem, Content: "sys"},
		Message{Role: RoleHuman, Content: "hi"},
		Message{Role: RoleAI, Content: "hello"},
	)

	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 10, MaxChars: 10_000}, nil)
	require.Len(t, got, 3)
	assert.Equal(t, "hi", got[1].Content)
}

func TestTruncationDropsOldestAndOrphans(t *testing.T) {
	l := msgLog(
		Message{Role: RoleSystem, Content: "sys"},
		Message{Role: RoleHuman, Content: "do it"},
		Message{Role: RoleAI, ToolCalls: []ToolCall{{ID: "tc1", Name: "read_file"}}},
		Message{Role: RoleTool, Content: "result", ToolCallID: "tc1"},
	)

	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 2, MaxChars: 10_000, MinRetained: 1}, nil)

	// The human message goes first, then the ai message; the tool result
	// is stranded by its declaring message's removal and must not survive.
	require.Len(t, got, 1)
	assert.Equal(t, RoleSystem, got[0].Role)
}

func TestTruncationRespectsRetainedFloor(t *testing.T) {
	l := msgLog(
		Message{Role: RoleSystem, Content: "sys"},
		Message{Role: RoleHuman, Content: "a"},
		Message{Role: RoleAI, Content: "b"},
		Message{Role: RoleHuman, Content: "c"},
	)

	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 1, MaxChars: 10_000, MinRetained: 2}, nil)

	// Two non-system messages stay even though the ceiling is still
	// violated.
	require.Len(t, got, 3)
	assert.Equal(t, RoleSystem, got[0].Role)
	assert.Equal(t, "b", got[1].Content)
	assert.Equal(t, "c", got[2].Content)
}

func TestOversizedToolResultSlicedBeforeDroppingItsCall(t *testing.T) {
	big := strings.Repeat("x", 50_000)
	l := msgLog(
		Message{Role: RoleAI, ToolCalls: []ToolCall{{ID: "tc1", Name: "execute_command"}}},
		Message{Role: RoleTool, Content: big, ToolCallID: "tc1"},
	)

	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 10, MaxChars: 10_000, MinRetained: 2}, nil)

	require.Len(t, got, 2)
	assert.Equal(t, RoleAI, got[0].Role)
	result := got[1].Content
	assert.Less(t, len(result), len(big))
	assert.Contains(t, result, sliceMarker)
	assert.True(t, strings.HasPrefix(result, "xxxx"))
	assert.True(t, strings.HasSuffix(result, "xxxx"))
}

func TestSummarizationRebuildsLog(t *testing.T) {
	l := NewLog()
	l.Append(Message{Role: RoleSystem, Content: "sys"})
	for i := 0; i < 20; i++ {
		l.Append(Message{Role: RoleHuman, Content: "question"})
		l.Append(Message{Role: RoleAI, Content: "answer"})
	}

	summarizer := func(ctx context.Context, msgs []Message) (string, error) {
		return "we talked a lot", nil
	}
	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 10, MaxChars: 100_000}, summarizer)

	// Leading system prompt, summary-as-system, then the recent tail.
	require.Len(t, got, 2+keepRecent)
	assert.Equal(t, "sys", got[0].Content)
	assert.Equal(t, RoleSystem, got[1].Role)
	assert.Contains(t, got[1].Content, "we talked a lot")
	assert.Equal(t, "answer", got[len(got)-1].Content)
}

func TestSummarizationFailureFallsBackToTruncation(t *testing.T) {
	l := NewLog()
	for i := 0; i < 20; i++ {
		l.Append(Message{Role: RoleHuman, Content: "question"})
	}

	summarizer := func(ctx context.Context, msgs []Message) (string, error) {
		return "", assert.AnError
	}
	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 5, MaxChars: 100_000}, summarizer)
	assert.Len(t, got, 5)
}

func TestSummaryIsCapped(t *testing.T) {
	l := NewLog()
	for i := 0; i < 20; i++ {
		l.Append(Message{Role: RoleHuman, Content: "question"})
	}

	summarizer := func(ctx context.Context, msgs []Message) (string, error) {
		return strings.Repeat("s", summaryCharCap*2), nil
	}
	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 10, MaxChars: 100_000}, summarizer)
	for _, m := range got {
		assert.LessOrEqual(t, len(m.Content), summaryCharCap+100)
	}
}

func TestSummaryCapRespectsRuneBoundaries(t *testing.T) {
	l := NewLog()
	for i := 0; i < 20; i++ {
		l.Append(Message{Role: RoleHuman, Content: "question"})
	}

	// Three-byte runes, deliberately not dividing the cap evenly.
	summarizer := func(ctx context.Context, msgs []Message) (string, error) {
		return strings.Repeat("✓", summaryCharCap), nil
	}
	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 10, MaxChars: 100_000}, summarizer)

	require.NotEmpty(t, got)
	for _, m := range got {
		assert.True(t, utf8.ValidString(m.Content), "capping must not split a rune")
	}
}

func TestOversizedResultSliceRespectsRuneBoundaries(t *testing.T) {
	big := strings.Repeat("✓", 40_000)
	l := msgLog(
		Message{Role: RoleAI, ToolCalls: []ToolCall{{ID: "tc1", Name: "execute_command"}}},
		Message{Role: RoleTool, Content: big, ToolCallID: "tc1"},
	)

	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 10, MaxChars: 10_000, MinRetained: 2}, nil)

	require.Len(t, got, 2)
	assert.Contains(t, got[1].Content, sliceMarker)
	assert.True(t, utf8.ValidString(got[1].Content))
}

func TestCollapseLeadingDuplicateSystemPrompts(t *testing.T) {
	l := msgLog(
		Message{Role: RoleSystem, Content: "sys"},
		Message{Role: RoleSystem, Content: "sys"},
		Message{Role: RoleSystem, Content: "different"},
		Message{Role: RoleHuman, Content: "hi"},
	)

	got := l.BoundedView(context.Background(), Bounds{MaxMessages: 10, MaxChars: 10_000}, nil)
	require.Len(t, got, 3)
	assert.Equal(t, "sys", got[0].Content)
	assert.Equal(t, "different", got[1].Content)
}

func TestBoundedViewMutatesSharedLog(t *testing.T) {
	l := msgLog(
		Message{Role: RoleAI, ToolCalls: []ToolCall{{ID: "gone", Name: "x"}}},
		Message{Role: RoleTool, Content: "orphan", ToolCallID: "other"},
	)

	l.BoundedView(context.Background(), Bounds{MaxMessages: 10, MaxChars: 10_000}, nil)

	// The orphan is gone from the log itself, not just from the view.
	assert.Equal(t, 1, l.Len())
}
