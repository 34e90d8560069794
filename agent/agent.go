// Package agent drives the conversation loop: user input goes in, model
// calls and tool invocations alternate until the model produces a final
// text answer.
package agent

import (
	"context"
	"io"
	"strings"

	"github.com/khoste/vigil/config"
	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/interrupt"
	"github.com/khoste/vigil/llm"
	"github.com/khoste/vigil/logging"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ContinueMarker at the end of an assistant message asks the loop for
// another model turn without waiting for user input. It is stripped
// before the message is stored or displayed.
const ContinueMarker = "<<VIGIL_CONTINUE>>"

// maxContinuations caps marker-driven re-invocations per user turn so a
// model stuck emitting the marker cannot loop forever.
const maxContinuations = 8

// ProcessCallbacks let the front-end (terminal or ACP) observe and steer
// a turn without the agent knowing how it renders.
type ProcessCallbacks struct {
	// OnAssistantDelta receives the assistant text of a surfaced
	// response. Whether a response ends in the continuation marker is
	// only known once its stream finishes, so text is delivered once
	// per response rather than per network delta, and marker-bearing
	// responses are withheld entirely.
	OnAssistantDelta func(text string)
	// OnAssistantMessage receives the complete assistant text of a
	// surfaced response, after OnAssistantDelta.
	OnAssistantMessage func(message string)
	OnToolCall         func(toolCall session.ToolCall)
	OnToolResult       func(toolCall session.ToolCall, result string)
	// ShouldExecuteTool gates every tool call in prompt mode. Returning
	// false records a declined-by-user tool result.
	ShouldExecuteTool func(toolCall session.ToolCall) bool
	// OnConfirmationRequest decides a mutating tool's pending side
	// effect. Returning true re-invokes the tool with confirm=true.
	OnConfirmationRequest func(req *tools.ConfirmationRequired) bool
	OnWarning             func(warning string)
}

type Agent struct {
	Config         *config.Config
	Session        *session.Session
	LLM            llm.Client
	Engine         *tools.Engine
	AvailableTools []tools.Tool
	Mode           Mode
	Verbosity      ToolVerbosity
	Interrupts     *interrupt.Signal
	Bounds         session.Bounds
	Summarize      session.Summarizer

	toolsByName map[string]tools.Tool
}

// New wires an agent from the loaded config and an already-constructed
// registry. The toolset name comes from the session so a reloaded
// session keeps its tools.
func New(cfg *config.Config, sess *session.Session, toolset string, mode Mode, verbosity ToolVerbosity, client llm.Client, registry *tools.ToolRegistry, interrupts *interrupt.Signal) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		return nil, err
	}

	// Zero fields fall back to the package defaults at enforcement time.
	bounds := session.Bounds{
		MaxMessages: cfg.History.MaxMessages,
		MaxChars:    cfg.History.MaxChars,
	}

	byName := make(map[string]tools.Tool, len(activeTools))
	for _, t := range activeTools {
		byName[t.Name()] = t
	}

	return &Agent{
		Config:         cfg,
		Session:        sess,
		LLM:            client,
		Engine:         tools.NewEngine(interrupts),
		AvailableTools: activeTools,
		Mode:           mode,
		Verbosity:      verbosity,
		Interrupts:     interrupts,
		Bounds:         bounds,
		toolsByName:    byName,
	}, nil
}

// ProcessUserInput runs one full turn: the user message is appended,
// then the model is called repeatedly, executing tool calls between
// rounds, until it answers with plain text (and no continuation marker)
// or the turn is interrupted.
func (a *Agent) ProcessUserInput(ctx context.Context, userInput string, cb ProcessCallbacks) error {
	a.Session.AddMessage(session.Message{Role: session.RoleHuman, Content: userInput})
	a.save(cb)

	continuations := 0
	for {
		if a.consumeInterrupt() {
			warn(cb, "turn interrupted")
			return nil
		}

		bounded := a.Session.Log.BoundedView(ctx, a.Bounds, a.Summarize)

		msg, interrupted, err := a.streamCompletion(ctx, bounded)
		if err != nil {
			return err
		}
		if interrupted {
			warn(cb, "turn interrupted")
			return nil
		}

		content, wantsContinue := strings.CutSuffix(strings.TrimRight(msg.Content, " \n"), ContinueMarker)
		msg.Content = strings.TrimRight(content, " \n")

		a.Session.AddMessage(*msg)
		// Marker rounds are the model talking to itself; only marker-free
		// text reaches the user.
		if !wantsContinue && msg.Content != "" {
			if cb.OnAssistantDelta != nil {
				cb.OnAssistantDelta(msg.Content)
			}
			if cb.OnAssistantMessage != nil {
				cb.OnAssistantMessage(msg.Content)
			}
		}
		a.save(cb)

		if len(msg.ToolCalls) > 0 {
			interrupted := a.runToolCalls(ctx, msg.ToolCalls, cb)
			a.save(cb)
			if interrupted {
				return nil
			}
			continue
		}

		if wantsContinue {
			continuations++
			if continuations > maxContinuations {
				warn(cb, "continuation limit reached, ending turn")
				return nil
			}
			continue
		}
		return nil
	}
}

// streamCompletion dispatches one model call and folds the stream into a
// single assistant message. The interrupt signal is polled between
// deltas; a Ctrl-C that lands while the model is still talking closes
// the stream and reports the turn as cut short, discarding the partial
// message.
func (a *Agent) streamCompletion(ctx context.Context, history []session.Message) (*session.Message, bool, error) {
	stream, err := a.LLM.ChatStream(ctx, history, a.AvailableTools)
	if err != nil {
		return nil, false, errors.Wrapf(err, "model call failed")
	}
	defer stream.Close()

	msg := &session.Message{Role: session.RoleAI}
	for {
		if a.consumeInterrupt() {
			return nil, true, nil
		}
		d, err := stream.Recv()
		if err == io.EOF {
			return msg, false, nil
		}
		if err != nil {
			return nil, false, errors.Wrapf(err, "model stream failed")
		}
		if d.Text != "" {
			msg.Content += d.Text
		}
		if d.ToolCall != nil {
			msg.ToolCalls = append(msg.ToolCalls, session.ToolCall{
				ID:   d.ToolCall.ID,
				Name: d.ToolCall.Name,
				Args: d.ToolCall.Args,
			})
		}
		if d.Done {
			return msg, false, nil
		}
	}
}

// runToolCalls executes the assistant's tool calls in order, appending
// one tool-result message per call. It reports whether the turn was cut
// short by an interrupt; in that case remaining calls get a skipped
// result so the history never carries an unanswered call.
func (a *Agent) runToolCalls(ctx context.Context, calls []session.ToolCall, cb ProcessCallbacks) (interrupted bool) {
	for _, tc := range calls {
		if interrupted {
			a.appendToolResult(tc, "skipped: turn was interrupted", cb)
			continue
		}

		if cb.OnToolCall != nil {
			cb.OnToolCall(tc)
		}

		if a.Mode == ModePrompt && cb.ShouldExecuteTool != nil && !cb.ShouldExecuteTool(tc) {
			a.appendToolResult(tc, "user declined to run this tool", cb)
			continue
		}

		result, wasInterrupted := a.invokeOnce(ctx, tc, cb)
		a.appendToolResult(tc, result, cb)
		if wasInterrupted {
			interrupted = true
		}
	}
	return interrupted
}

// invokeOnce runs a single tool call through the engine, handling the
// confirmation round-trip for mutating tools.
func (a *Agent) invokeOnce(ctx context.Context, tc session.ToolCall, cb ProcessCallbacks) (result string, interrupted bool) {
	tool, ok := a.toolsByName[tc.Name]
	if !ok {
		return "error: unknown tool '" + tc.Name + "'", false
	}

	outcome, err := a.Engine.Invoke(ctx, tool, tc.Args)
	if err != nil {
		if errors.Is(err, tools.ErrCancelled) {
			return "cancelled by user", true
		}
		return "error: " + err.Error(), false
	}

	switch outcome.Kind {
	case tools.OutcomeConfirmation:
		req := outcome.Confirmation
		approved := cb.OnConfirmationRequest != nil && cb.OnConfirmationRequest(req)
		if !approved {
			return "user declined: " + req.Description, false
		}
		confirmedArgs := make(map[string]interface{}, len(tc.Args)+1)
		for k, v := range tc.Args {
			confirmedArgs[k] = v
		}
		confirmedArgs["confirm"] = true
		confirmedOutcome, err := a.Engine.Invoke(ctx, tool, confirmedArgs)
		if err != nil {
			if errors.Is(err, tools.ErrCancelled) {
				return "cancelled by user", true
			}
			return "error: " + err.Error(), false
		}
		if confirmedOutcome.Kind == tools.OutcomeFailure {
			return "error: " + confirmedOutcome.Text, false
		}
		return confirmedOutcome.Text, false
	case tools.OutcomeFailure:
		return "error: " + outcome.Text, false
	default:
		return outcome.Text, false
	}
}

func (a *Agent) appendToolResult(tc session.ToolCall, result string, cb ProcessCallbacks) {
	a.Session.AddMessage(session.Message{
		Role:       session.RoleTool,
		Content:    result,
		ToolCallID: tc.ID,
	})
	if cb.OnToolResult != nil {
		cb.OnToolResult(tc, result)
	}
}

func (a *Agent) consumeInterrupt() bool {
	return a.Interrupts != nil && a.Interrupts.Consume()
}

func (a *Agent) save(cb ProcessCallbacks) {
	if err := a.Session.Save(); err != nil {
		logging.L().Warn("failed to save session", "error", err)
		warn(cb, "failed to save session: "+err.Error())
	}
}

func warn(cb ProcessCallbacks, msg string) {
	if cb.OnWarning != nil {
		cb.OnWarning(msg)
	}
}
