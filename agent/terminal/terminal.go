// Package terminal is the interactive CLI front-end for the agent.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/khoste/vigil/agent"
	"github.com/khoste/vigil/session"
	"github.com/khoste/vigil/tools"
)

// Terminal handles the terminal/CLI interaction mode for the agent.
type Terminal struct {
	agent *agent.Agent
	in    *bufio.Reader
}

// New creates a new Terminal instance.
func New(a *agent.Agent) *Terminal {
	return &Terminal{
		agent: a,
		in:    bufio.NewReader(os.Stdin),
	}
}

// Run starts the interactive terminal session.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first.
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Print("You: ")
		line, err := t.in.ReadString('\n')
		if err != nil {
			// EOF or read error ends the session.
			break
		}

		userInput := strings.TrimSpace(line)
		if userInput == "" {
			continue
		}

		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	return nil
}

// processTurn handles a single user input turn.
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	streamed := false
	callbacks := agent.ProcessCallbacks{
		OnAssistantDelta: func(text string) {
			if !streamed {
				fmt.Print("Vigil: ")
				streamed = true
			}
			fmt.Print(text)
		},
		OnAssistantMessage: func(message string) {
			// Streamed text is already on screen; just finish the line.
			if streamed {
				fmt.Println()
				streamed = false
				return
			}
			fmt.Printf("Vigil: %s\n", message)
		},
		OnToolCall: func(toolCall session.ToolCall) {
			switch t.agent.Verbosity {
			case agent.ToolVerbosityAll:
				fmt.Printf("Vigil wants to call tool `%s` with args: %v\n", toolCall.Name, toolCall.Args)
			case agent.ToolVerbosityInfo:
				fmt.Printf("Vigil wants to call tool `%s`\n", toolCall.Name)
			}
		},
		OnToolResult: func(toolCall session.ToolCall, result string) {
			if t.agent.Verbosity == agent.ToolVerbosityAll {
				fmt.Printf("Tool `%s` output: %s\n", toolCall.Name, result)
			}
		},
		ShouldExecuteTool: func(toolCall session.ToolCall) bool {
			fmt.Printf("Run tool `%s`? (y/n): ", toolCall.Name)
			return t.askYesNo()
		},
		OnConfirmationRequest: func(req *tools.ConfirmationRequired) bool {
			fmt.Printf("Vigil wants to %s\n", req.Description)
			if req.Preview != "" {
				fmt.Print(req.Preview)
			}
			fmt.Print("Apply? (y/n): ")
			return t.askYesNo()
		},
		OnWarning: func(warning string) {
			fmt.Printf("Warning: %s\n", warning)
		},
	}

	return t.agent.ProcessUserInput(ctx, userInput, callbacks)
}

func (t *Terminal) askYesNo() bool {
	answer, err := t.in.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(answer)) == "y"
}
