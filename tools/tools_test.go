package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/khoste/vigil/config"
	"github.com/khoste/vigil/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		AllowedCommands: []string{`^echo .*`, `^ls($| )`},
		FilesystemAccess: config.FilesystemAccess{
			Hidden: []string{".vigil/**"},
		},
	}
}

func TestRegistryRegistersBuiltins(t *testing.T) {
	r := NewToolRegistry(testConfig(), executor.New(0))
	defer r.Close()

	for _, name := range []string{"read_file", "write_file", "delete_file", "execute_command"} {
		_, ok := r.GetTool(name)
		assert.True(t, ok, "missing builtin %s", name)
	}
}

func TestGetActiveToolsExactNames(t *testing.T) {
	r := NewToolRegistry(testConfig(), executor.New(0))
	defer r.Close()

	ts := &config.Toolset{Name: "minimal", Tools: []string{"read_file", "execute_command"}}
	active, err := r.GetActiveTools(ts)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestGetActiveToolsUnknownNameFails(t *testing.T) {
	r := NewToolRegistry(testConfig(), executor.New(0))
	defer r.Close()

	ts := &config.Toolset{Name: "bad", Tools: []string{"no_such_tool"}}
	_, err := r.GetActiveTools(ts)
	assert.ErrorContains(t, err, "no_such_tool")
}

func TestGetActiveToolsWildcard(t *testing.T) {
	r := NewToolRegistry(testConfig(), executor.New(0))
	defer r.Close()
	r.Register(&fakeTool{name: "gopls_rename"})
	r.Register(&fakeTool{name: "gopls_format"})

	ts := &config.Toolset{Name: "lsp", Tools: []string{"gopls_*"}}
	active, err := r.GetActiveTools(ts)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestIsCommandAllowed(t *testing.T) {
	allowed := []string{`^echo .*`, `^git (status|diff)$`}

	ok, err := isCommandAllowed("echo hello", allowed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = isCommandAllowed("git status", allowed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = isCommandAllowed("git push", allowed)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = isCommandAllowed("", allowed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecuteCommandRejectsDisallowed(t *testing.T) {
	tool := &ExecuteCommandTool{
		allowedCommands: []string{`^echo .*`},
		exec:            executor.New(0),
	}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"command": "rm -rf /"})
	assert.ErrorContains(t, err, "not in the list")
}

func TestExecuteCommandStreamsOutput(t *testing.T) {
	var live []executor.Chunk
	tool := &ExecuteCommandTool{
		allowedCommands: []string{`^echo .*`},
		exec:            executor.New(0),
		OnChunk:         func(c executor.Chunk) { live = append(live, c) },
	}

	out, err := tool.Execute(context.Background(), map[string]interface{}{"command": "echo streamed"})
	require.NoError(t, err)
	assert.Contains(t, out, "streamed")
	require.NotEmpty(t, live)

	var combined strings.Builder
	for _, c := range live {
		combined.Write(c.Data)
	}
	assert.Contains(t, combined.String(), "streamed")
}

func TestConfirmedHelper(t *testing.T) {
	assert.True(t, confirmed(map[string]interface{}{"confirm": true}))
	assert.False(t, confirmed(map[string]interface{}{"confirm": false}))
	assert.False(t, confirmed(map[string]interface{}{"confirm": "true"}))
	assert.False(t, confirmed(map[string]interface{}{}))
}
