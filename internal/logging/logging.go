// Package logging sets up the structured loggers the CLI and driver share
// for the lifetime of one run: a JSON file logger for everything, and an
// optional human-readable stdout mirror for backend queries.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var levelByName = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Loggers bundles the run logger and the backend-query logger opened by
// Init. Both write JSON records to files under the XDG cache directory;
// Queries additionally mirrors to stdout when logQueries is set.
type Loggers struct {
	Run     *slog.Logger
	Queries *slog.Logger

	runFile     *os.File
	queriesFile *os.File
}

// Init opens the run's log files and wires slog.Default to the run
// logger. Close must be called when the run ends.
func Init(levelName string, logQueries bool) (*Loggers, error) {
	level, ok := levelByName[strings.ToLower(levelName)]
	if !ok {
		level = slog.LevelWarn
	}

	logDir := xdgCacheDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: creating %s: %w", logDir, err)
	}

	runFile, err := os.OpenFile(filepath.Join(logDir, "kanon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: opening run log: %w", err)
	}
	runLogger := slog.New(slog.NewJSONHandler(runFile, &slog.HandlerOptions{Level: level, AddSource: true}))
	slog.SetDefault(runLogger)

	queriesFile, err := os.OpenFile(filepath.Join(logDir, "kanon-queries.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		runFile.Close()
		return nil, fmt.Errorf("logging: opening queries log: %w", err)
	}

	var queriesHandler slog.Handler = slog.NewJSONHandler(queriesFile, &slog.HandlerOptions{Level: slog.LevelInfo})
	if logQueries {
		queriesHandler = &multiHandler{handlers: []slog.Handler{
			queriesHandler,
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		}}
	}
	queriesLogger := slog.New(queriesHandler).With("logger", "queries")

	runLogger.Debug("logging initialized", "level", level.String(), "log_dir", logDir)

	return &Loggers{Run: runLogger, Queries: queriesLogger, runFile: runFile, queriesFile: queriesFile}, nil
}

// Close releases the underlying log files.
func (l *Loggers) Close() error {
	var errs []error
	if err := l.runFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.queriesFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("logging: closing: %v", errs)
	}
	return nil
}

func xdgCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "kanon")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "kanon")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Caches", "kanon")
	}
	return filepath.Join(home, ".cache", "kanon")
}

// multiHandler fans a record out to every wrapped handler, so query
// logging can go to the file and, optionally, to stdout at once.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if err := handler.Handle(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
