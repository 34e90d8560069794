package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/executor"
)

// ExecuteCommandTool runs an allowlisted shell command under the
// interactive executor. Output is streamed to OnChunk as it arrives and
// accumulated for the model's tool result.
type ExecuteCommandTool struct {
	allowedCommands []string
	exec            *executor.Executor

	// OnChunk, when set, receives each output chunk live. The front-end
	// uses it to echo command output while the command is still running.
	OnChunk func(executor.Chunk)

	// Dir is the working directory for commands; empty means inherited.
	Dir string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command interactively. No commands are currently allowed. Args: command (string)."
	}

	allowedList := "Allowed command wildcard patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}

	return fmt.Sprintf("Executes a shell command interactively under a pseudo-terminal. Args: command (string).\n%s", allowedList)
}

func (t *ExecuteCommandTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command line to run.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, ok := args["command"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'command' argument")
	}

	allowed, err := isCommandAllowed(command, t.allowedCommands)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	chunks, err := t.exec.Run(ctx, command, t.Dir)
	if err != nil {
		return "", errors.Wrapf(err, "could not start command")
	}

	// Always drain the channel so the executor's pump can finish and
	// release the terminal even if the context is cancelled mid-stream.
	var b strings.Builder
	for c := range chunks {
		if t.OnChunk != nil {
			t.OnChunk(c)
		}
		b.Write(c.Data)
	}

	if ctx.Err() != nil {
		return b.String(), ctx.Err()
	}
	return fmt.Sprintf("Command finished. Output:\n%s", b.String()), nil
}
