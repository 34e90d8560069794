package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/khoste/vigil/config"
	"github.com/khoste/vigil/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: path (string)."
}

func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to read.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}

	hidden, err := isPathRestricted(path, t.fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file. A first call
// without confirm=true does not touch the filesystem; it returns a
// ConfirmationRequired carrying a preview of the pending write.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Requires confirm=true to apply. " +
		"Args: path (string), content (string), confirm (boolean)."
}

func (t *WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to write.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full new content of the file.",
			},
			"confirm": map[string]interface{}{
				"type":        "boolean",
				"description": "Set to true after the user approves the write.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, pathOk := args["path"].(string)
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}

	if err := t.checkAccess(path); err != nil {
		return "", err
	}

	if !confirmed(args) {
		return "", &ConfirmationRequired{
			Description: fmt.Sprintf("write %d bytes to %s", len(content), path),
			ToolName:    t.Name(),
			Args:        args,
			Preview:     writePreview(path, content),
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", errors.Wrapf(err, "failed to create directory for '%s'", path)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

func (t *WriteFileTool) checkAccess(path string) error {
	hidden, err := isPathRestricted(path, t.fsAccess.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}

	readOnly, err := isPathRestricted(path, t.fsAccess.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", path)
	}
	return nil
}

// writePreview shows the first lines of the new content and, when the
// file already exists, how its size changes.
func writePreview(path, content string) string {
	const maxPreviewLines = 12

	var b strings.Builder
	if info, err := os.Stat(path); err == nil {
		fmt.Fprintf(&b, "%s: %d bytes -> %d bytes\n", path, info.Size(), len(content))
	} else {
		fmt.Fprintf(&b, "%s: new file, %d bytes\n", path, len(content))
	}

	lines := strings.Split(content, "\n")
	n := len(lines)
	if n > maxPreviewLines {
		n = maxPreviewLines
	}
	for _, line := range lines[:n] {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(lines) > maxPreviewLines {
		fmt.Fprintf(&b, "... (%d more lines)\n", len(lines)-maxPreviewLines)
	}
	return b.String()
}

// DeleteFileTool removes a file, gated behind the same confirmation flow
// as writes.
type DeleteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *DeleteFileTool) Name() string { return "delete_file" }
func (t *DeleteFileTool) Description() string {
	return "Deletes a file. Requires confirm=true to apply. Args: path (string), confirm (boolean)."
}

func (t *DeleteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the file to delete.",
			},
			"confirm": map[string]interface{}{
				"type":        "boolean",
				"description": "Set to true after the user approves the deletion.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *DeleteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}

	hidden, err := isPathRestricted(path, t.fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}
	readOnly, err := isPathRestricted(path, t.fsAccess.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: path '%s' is read-only", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot delete '%s'", path)
	}
	if info.IsDir() {
		return "", errors.New("'%s' is a directory, not a file", path)
	}

	if !confirmed(args) {
		return "", &ConfirmationRequired{
			Description: fmt.Sprintf("delete %s (%d bytes)", path, info.Size()),
			ToolName:    t.Name(),
			Args:        args,
			Preview:     fmt.Sprintf("%s: %d bytes, will be removed\n", path, info.Size()),
		}
	}

	if err := os.Remove(path); err != nil {
		return "", errors.Wrapf(err, "failed to delete file '%s'", path)
	}
	return fmt.Sprintf("Deleted %s", path), nil
}
