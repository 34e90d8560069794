package tools

import (
	"context"
	goerrors "errors"
	"sync"
	"time"

	"github.com/khoste/vigil/interrupt"
	"github.com/khoste/vigil/logging"
)

// ErrEngineBusy is returned by Invoke while another invocation is still
// running. The engine is a single-slot worker: one tool at a time.
var ErrEngineBusy = goerrors.New("a tool invocation is already running")

// ErrCancelled is returned when an invocation is cut short by the user.
var ErrCancelled = goerrors.New("tool invocation cancelled")

// OutcomeKind classifies how an invocation ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeConfirmation
)

// Outcome is the result of one tool invocation. For OutcomeConfirmation
// the tool performed no side effect; Confirmation carries what it wants
// to do, and re-invoking with confirm=true applies it.
type Outcome struct {
	Kind         OutcomeKind
	Text         string
	Confirmation *ConfirmationRequired
}

const (
	enginePoll  = 50 * time.Millisecond
	cancelGrace = 5 * time.Second
)

// Engine runs tool invocations one at a time on a worker goroutine while
// the calling goroutine polls for completion and user interrupts. A
// pending interrupt consumed mid-invocation cancels the tool's context.
type Engine struct {
	interrupts *interrupt.Signal

	mu     sync.Mutex
	busy   bool
	cancel context.CancelFunc
}

// NewEngine returns an engine watching the given interrupt signal, which
// may be nil when no interactive cancellation source exists.
func NewEngine(interrupts *interrupt.Signal) *Engine {
	return &Engine{interrupts: interrupts}
}

type workerResult struct {
	text string
	err  error
}

// Invoke runs the tool and blocks until it finishes, is cancelled, or
// raises a confirmation request. A second Invoke while one is running
// returns ErrEngineBusy. On cancellation the engine waits a grace period
// for the tool to honor its context, then abandons the worker; the slot
// stays busy until the worker actually returns.
func (e *Engine) Invoke(ctx context.Context, tool Tool, args map[string]interface{}) (Outcome, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return Outcome{}, ErrEngineBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.busy = true
	e.cancel = cancel
	e.mu.Unlock()

	result := make(chan workerResult, 1)
	go func() {
		text, err := tool.Execute(runCtx, args)
		// Release the slot before handing the result back, so Busy() is
		// already false when Invoke returns.
		cancel()
		e.mu.Lock()
		e.busy = false
		e.cancel = nil
		e.mu.Unlock()
		result <- workerResult{text: text, err: err}
	}()

	ticker := time.NewTicker(enginePoll)
	defer ticker.Stop()

	for {
		select {
		case r := <-result:
			return classify(r)
		case <-ticker.C:
			if e.interrupts != nil && e.interrupts.Consume() {
				logging.L().Info("cancelling tool invocation", "tool", tool.Name())
				cancel()
				select {
				case <-result:
				case <-time.After(cancelGrace):
					logging.L().Warn("tool did not stop within grace period, abandoning", "tool", tool.Name())
				}
				return Outcome{Kind: OutcomeFailure, Text: ErrCancelled.Error()}, ErrCancelled
			}
		case <-ctx.Done():
			cancel()
			select {
			case <-result:
			case <-time.After(cancelGrace):
			}
			return Outcome{Kind: OutcomeFailure, Text: ErrCancelled.Error()}, ErrCancelled
		}
	}
}

// Cancel aborts the in-flight invocation, if any.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Busy reports whether an invocation is currently running.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

func classify(r workerResult) (Outcome, error) {
	if r.err == nil {
		return Outcome{Kind: OutcomeSuccess, Text: r.text}, nil
	}

	var confirm *ConfirmationRequired
	if goerrors.As(r.err, &confirm) {
		return Outcome{Kind: OutcomeConfirmation, Confirmation: confirm}, nil
	}
	if goerrors.Is(r.err, context.Canceled) {
		return Outcome{Kind: OutcomeFailure, Text: ErrCancelled.Error()}, ErrCancelled
	}
	return Outcome{Kind: OutcomeFailure, Text: r.err.Error()}, nil
}
