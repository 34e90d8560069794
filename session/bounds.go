package session

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"github.com/khoste/vigil/logging"
)

// Summarizer condenses a conversation into prose. The history manager calls
// it before falling back to truncation; implementations typically route the
// request through the provider failover manager.
type Summarizer func(ctx context.Context, msgs []Message) (string, error)

// Bounds are the ceilings applied to the log before it is sent to a model.
type Bounds struct {
	MaxMessages int
	MaxChars    int
	// MinRetained is the floor of non-system messages truncation will not
	// pop below, even if the ceilings stay violated.
	MinRetained int
}

const (
	DefaultMaxMessages = 80
	DefaultMaxChars    = 200_000
	DefaultMinRetained = 2

	// summaryCharCap bounds the summary itself so repeated summarization
	// cannot grow the log back over the ceiling.
	summaryCharCap = 4000

	// keepRecent messages are carried over verbatim after summarization.
	keepRecent = 4

	sliceHead   = 2000
	sliceTail   = 1000
	sliceMarker = "\n[... tool output truncated ...]\n"
)

func (b Bounds) withDefaults() Bounds {
	if b.MaxMessages <= 0 {
		b.MaxMessages = DefaultMaxMessages
	}
	if b.MaxChars <= 0 {
		b.MaxChars = DefaultMaxChars
	}
	if b.MinRetained <= 0 {
		b.MinRetained = DefaultMinRetained
	}
	return b
}

// BoundedView enforces the message-count and character ceilings on the log
// and returns the resulting ordered messages. It mutates the log in place —
// every holder of the *Log sees the bounded history, which is what keeps
// independently-held references consistent.
//
// When a ceiling is exceeded the log is first summarized (if a summarizer
// is available); on summarization failure it falls back to front
// truncation. Either way, tool results whose declaring ai message is gone
// are dropped before the view is returned.
func (l *Log) BoundedView(ctx context.Context, b Bounds, summarize Summarizer) []Message {
	b = b.withDefaults()
	l.collapseLeadingSystem()

	if l.exceeds(b) {
		summarized := false
		if summarize != nil {
			if err := l.summarize(ctx, summarize); err != nil {
				logging.L().Warn("history summarization failed, falling back to truncation", "error", err)
			} else {
				summarized = true
			}
		}
		if !summarized || l.exceeds(b) {
			l.truncate(b)
		}
	}

	l.dropOrphans()
	return l.messages
}

// collapseLeadingSystem drops leading system messages that duplicate the
// first one. The first occurrence is the authoritative system prompt.
func (l *Log) collapseLeadingSystem() {
	if len(l.messages) < 2 || l.messages[0].Role != RoleSystem {
		return
	}
	first := l.messages[0].Content
	i := 1
	for i < len(l.messages) && l.messages[i].Role == RoleSystem && l.messages[i].Content == first {
		l.remove(i)
	}
}

func (l *Log) summarize(ctx context.Context, fn Summarizer) error {
	summary, err := fn(ctx, l.messages)
	if err != nil {
		return err
	}
	summary = cutAtRune(summary, summaryCharCap)

	tail := l.messages
	rebuilt := make([]Message, 0, keepRecent+2)
	if len(l.messages) > 0 && l.messages[0].Role == RoleSystem {
		rebuilt = append(rebuilt, l.messages[0])
		tail = tail[1:]
	}
	rebuilt = append(rebuilt, Message{
		Role:    RoleSystem,
		Content: "Summary of the conversation so far: " + summary,
	})
	if len(tail) > keepRecent {
		tail = tail[len(tail)-keepRecent:]
	}
	rebuilt = append(rebuilt, tail...)

	l.messages = rebuilt
	return nil
}

// truncate pops messages from the front (sparing the leading system
// message) until both ceilings hold or the retained floor is reached. An
// ai message that declared tool calls is not deleted while one of its tool
// results can still be shrunk instead.
func (l *Log) truncate(b Bounds) {
	for l.exceeds(b) {
		front := 0
		if len(l.messages) > 0 && l.messages[0].Role == RoleSystem {
			front = 1
		}
		if front >= len(l.messages) {
			return
		}
		if len(l.messages)-front <= b.MinRetained {
			// Floor reached. Shrinking oversized tool results is the only
			// move left; if nothing shrinks, the ceilings stay violated.
			if !l.trimOversizedResults(nil) {
				return
			}
			continue
		}

		victim := l.messages[front]
		if victim.Role == RoleAI && len(victim.ToolCalls) > 0 && l.trimOversizedResults(victim.ToolCalls) {
			continue
		}
		l.remove(front)
	}
}

// trimOversizedResults head/tail-slices tool results larger than the slice
// budget. When calls is non-nil only results answering those calls are
// considered. Reports whether anything shrank.
func (l *Log) trimOversizedResults(calls []ToolCall) bool {
	wanted := map[string]bool{}
	for _, tc := range calls {
		wanted[tc.ID] = true
	}

	trimmed := false
	for i := range l.messages {
		m := &l.messages[i]
		if m.Role != RoleTool {
			continue
		}
		if calls != nil && !wanted[m.ToolCallID] {
			continue
		}
		if len(m.Content) <= sliceHead+sliceTail+len(sliceMarker) {
			continue
		}
		tail := m.Content[len(m.Content)-sliceTail:]
		for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
			tail = tail[1:]
		}
		m.Content = cutAtRune(m.Content, sliceHead) + sliceMarker + tail
		trimmed = true
	}
	return trimmed
}

// dropOrphans removes tool results whose declaring ai message is no longer
// in the log. Summarization and truncation can both strand a result; a
// stranded result must never reach a provider.
func (l *Log) dropOrphans() {
	declared := map[string]bool{}
	kept := l.messages[:0]
	for _, m := range l.messages {
		if m.Role == RoleAI {
			for _, tc := range m.ToolCalls {
				declared[tc.ID] = true
			}
		}
		if m.Role == RoleTool && !declared[m.ToolCallID] {
			logging.L().Debug("dropping orphan tool result", "tool_call_id", m.ToolCallID)
			continue
		}
		kept = append(kept, m)
	}
	l.messages = kept
}

func (l *Log) exceeds(b Bounds) bool {
	return len(l.messages) > b.MaxMessages || l.charSize() > b.MaxChars
}

func (l *Log) charSize() int {
	total := 0
	for _, m := range l.messages {
		if data, err := json.Marshal(m); err == nil {
			total += len(data)
		}
	}
	return total
}

func (l *Log) remove(i int) {
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
}

// cutAtRune shortens s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
