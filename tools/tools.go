package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/khoste/vigil/config"
	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/executor"
	"github.com/khoste/vigil/logging"
	"github.com/khoste/vigil/tools/mcp"
)

// Tool defines the interface for any action the agent can take. Schema
// returns the JSON-schema object describing the tool's arguments; it is
// sent to providers verbatim.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ConfirmationRequired is raised by a mutating tool that has computed its
// side effect but not applied it. It is a control-flow signal, not a
// failure: the invocation engine surfaces it for human approval, and a
// second call with confirm=true performs the mutation.
type ConfirmationRequired struct {
	Description string
	ToolName    string
	Args        map[string]interface{}
	Preview     string
}

func (c *ConfirmationRequired) Error() string {
	return fmt.Sprintf("tool '%s' requires confirmation: %s", c.ToolName, c.Description)
}

// confirmed reports whether the model passed confirm=true.
func confirmed(args map[string]interface{}) bool {
	v, ok := args["confirm"].(bool)
	return ok && v
}

// ToolRegistry holds all available tools, including those discovered from
// MCP server subprocesses.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
}

// NewToolRegistry registers the built-in tools and connects the MCP
// servers named in the config. A server that fails to start is skipped
// with a warning rather than blocking the session.
func NewToolRegistry(cfg *config.Config, exec *executor.Executor) *ToolRegistry {
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
	}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&DeleteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands, exec: exec})

	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(server.Name, server.Command, server.Args)
		if err != nil {
			logging.L().Warn("could not start MCP server", "server", server.Name, "error", err)
			continue
		}
		r.mcpClients[server.Name] = client
		for _, t := range client.Tools() {
			r.Register(t)
		}
	}

	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Close stops all MCP server subprocesses.
func (r *ToolRegistry) Close() {
	for _, client := range r.mcpClients {
		if err := client.Stop(); err != nil {
			logging.L().Warn("error stopping MCP server", "server", client.Name, "error", err)
		}
	}
}

// GetActiveTools returns the tool instances for a given toolset. A
// toolset entry ending in "*" activates every registered tool matching
// the prefix, which is how whole MCP servers are pulled in.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	for _, toolName := range ts.Tools {
		if strings.HasSuffix(toolName, "*") {
			prefix := strings.TrimSuffix(toolName, "*")
			matched := false
			for name, t := range r.tools {
				if strings.HasPrefix(name, prefix) {
					activeTools = append(activeTools, t)
					matched = true
				}
			}
			if !matched {
				logging.L().Warn("toolset wildcard matched no tools", "pattern", toolName, "toolset", ts.Name)
			}
			continue
		}

		if t, ok := r.GetTool(toolName); ok {
			activeTools = append(activeTools, t)
		} else {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
	}
	return activeTools, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.New("invalid glob pattern '%s': %v", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex
// support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	cmdParts := strings.Fields(command)
	if len(cmdParts) == 0 {
		return false, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logging.L().Warn("invalid regex in allowed_commands, falling back to literal match", "pattern", pattern, "error", err)
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
