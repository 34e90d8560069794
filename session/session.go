package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/logging"
)

// Message roles. These double as the "type" tag in the persisted history
// file, so changing them breaks old session files.
const (
	RoleSystem = "system"
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleTool   = "tool"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Message is one entry in the conversation log. Role selects which fields
// are meaningful: ToolCalls is set only on "ai" messages, ToolCallID only
// on "tool" messages.
type Message struct {
	Role       string     `json:"type"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// Log is the authoritative, ordered conversation history. All components
// share one *Log handle; the slice behind it is only ever mutated through
// Log methods, never reassigned by a consumer. Handing out the pointer
// instead of a copy is what keeps the agent loop, the front-ends, and the
// bounding logic looking at the same messages.
type Log struct {
	messages []Message
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a message at the end of the log.
func (l *Log) Append(msg Message) {
	l.messages = append(l.messages, msg)
}

// Messages returns the current ordered messages. The returned slice is the
// log's backing storage; callers must treat it as read-only.
func (l *Log) Messages() []Message {
	return l.messages
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	return len(l.messages)
}

// Session ties a named conversation to its on-disk location, along with the
// agent settings the session was started with so a resume picks them up.
type Session struct {
	Name          string `json:"name"`
	Mode          string `json:"mode,omitempty"`
	Toolset       string `json:"toolset,omitempty"`
	ToolVerbosity string `json:"tool_verbosity,omitempty"`
	Acp           bool   `json:"acp,omitempty"`

	Log *Log `json:"-"`

	path string
}

// New creates a new session with an empty log.
func New(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{
		Name: name,
		Log:  NewLog(),
		path: path,
	}, nil
}

// Load loads an existing session and its history from disk. A corrupt or
// missing history file yields an empty log rather than an error; only a
// missing session file is fatal, since that means the name is unknown.
func Load(name string) (*Session, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	s.path = path
	s.Log = loadHistory(historyPath(path))
	return &s, nil
}

// Save writes the session metadata and the full history to disk. The
// history is a single JSON array of message records, human-inspectable.
func (s *Session) Save() error {
	meta, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	if err := os.WriteFile(s.path, meta, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write session file")
	}

	history, err := json.MarshalIndent(s.Log.Messages(), "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize history")
	}
	return errors.Wrap(os.WriteFile(historyPath(s.path), history, 0o644))
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(msg Message) {
	s.Log.Append(msg)
}

// loadHistory reads a history file back into a log. Any failure is logged
// and recovered by starting from an empty log; a broken history file must
// never prevent a session from resuming.
func loadHistory(path string) *Log {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.L().Warn("history file unreadable, starting fresh", "path", path, "error", err)
		}
		return NewLog()
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		logging.L().Warn("history file corrupt, starting fresh", "path", path, "error", err)
		return NewLog()
	}
	return &Log{messages: messages}
}

func historyPath(sessionPath string) string {
	return sessionPath[:len(sessionPath)-len(".json")] + ".history.json"
}

func sessionPath(name string) (string, error) {
	dir := filepath.Join(".vigil", "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "could not create session directory")
	}
	return filepath.Join(dir, name+".json"), nil
}
