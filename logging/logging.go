// Package logging configures the process-wide structured logger.
//
// Interactive output belongs to the terminal front-end; everything else
// (provider selection, tool lifecycle, history bounding) goes through slog
// so sessions can be reconstructed from the log file afterwards.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	logger  *slog.Logger
	logFile *os.File
)

// Init sets up the slog-based logger. Logs are appended to a dated file
// under dir and, when verbose is set, mirrored to stderr. When jsonOutput
// is true records are emitted as JSON.
func Init(dir string, jsonOutput, verbose bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	name := "vigil-" + time.Now().Format("2006-01-02") + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	logFile = f

	var w io.Writer = f
	if verbose {
		w = io.MultiWriter(os.Stderr, f)
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
	return nil
}

// Close closes the log file opened by Init.
func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// L returns the configured logger, falling back to slog's default so
// packages can log before Init runs (tests, for instance).
func L() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
