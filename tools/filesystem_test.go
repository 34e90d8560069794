package tools

import (
	"context"
	goerrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/khoste/vigil/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFsAccess() *config.FilesystemAccess {
	return &config.FilesystemAccess{
		Hidden:   []string{"**/.secret", ".vigil/**"},
		ReadOnly: []string{"**/*.lock"},
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("contents"), 0o644))

	tool := &ReadFileTool{fsAccess: testFsAccess()}
	out, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})
	require.NoError(t, err)
	assert.Equal(t, "contents", out)
}

func TestReadHiddenFileDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secret")
	require.NoError(t, os.WriteFile(path, []byte("shh"), 0o644))

	tool := &ReadFileTool{fsAccess: testFsAccess()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})
	assert.ErrorContains(t, err, "hidden")
}

func TestWriteWithoutConfirmDoesNotTouchDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	tool := &WriteFileTool{fsAccess: testFsAccess()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    path,
		"content": "hello",
	})

	var confirm *ConfirmationRequired
	require.True(t, goerrors.As(err, &confirm))
	assert.Equal(t, "write_file", confirm.ToolName)
	assert.Contains(t, confirm.Preview, "new file")
	assert.Contains(t, confirm.Preview, "hello")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "file must not exist before confirmation")
}

func TestWriteWithConfirmApplies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.txt")

	tool := &WriteFileTool{fsAccess: testFsAccess()}
	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    path,
		"content": "hello",
		"confirm": true,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "5 bytes")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteReadOnlyDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deps.lock")

	tool := &WriteFileTool{fsAccess: testFsAccess()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    path,
		"content": "x",
		"confirm": true,
	})
	assert.ErrorContains(t, err, "read-only")
}

func TestWritePreviewShowsSizeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(path, []byte("old content here"), 0o644))

	tool := &WriteFileTool{fsAccess: testFsAccess()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    path,
		"content": "new",
	})

	var confirm *ConfirmationRequired
	require.True(t, goerrors.As(err, &confirm))
	assert.Contains(t, confirm.Preview, "16 bytes -> 3 bytes")
}

func TestDeleteWithoutConfirmKeepsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))

	tool := &DeleteFileTool{fsAccess: testFsAccess()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})

	var confirm *ConfirmationRequired
	require.True(t, goerrors.As(err, &confirm))
	assert.Contains(t, confirm.Description, "doomed.txt")

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "file must survive until confirmed")
}

func TestDeleteWithConfirmRemoves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))

	tool := &DeleteFileTool{fsAccess: testFsAccess()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    path,
		"confirm": true,
	})
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteMissingFileFails(t *testing.T) {
	tool := &DeleteFileTool{fsAccess: testFsAccess()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    filepath.Join(t.TempDir(), "absent.txt"),
		"confirm": true,
	})
	assert.Error(t, err)
}

func TestDeleteDirectoryRefused(t *testing.T) {
	tool := &DeleteFileTool{fsAccess: testFsAccess()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    t.TempDir(),
		"confirm": true,
	})
	assert.ErrorContains(t, err, "directory")
}
