// Package logger holds the process-wide structured logger.
//
// The logger writes slog text records to a file under paths.LogsDir unless
// Init or InitWriter picks another destination first.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zhubert/plural-editor/paths"
)

const logFileName = "plural-editor.log"

type sink struct {
	mu     sync.Mutex
	log    *slog.Logger
	level  *slog.LevelVar
	file   *os.File
	path   string
	loaded bool
}

var global = &sink{level: new(slog.LevelVar)}

// DefaultLogPath is where the core logs when no file is configured.
func DefaultLogPath() (string, error) {
	dir, err := paths.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logFileName), nil
}

// SetDebug toggles between debug and info level.
func SetDebug(enabled bool) {
	lvl := slog.LevelInfo
	if enabled {
		lvl = slog.LevelDebug
	}
	global.level.Set(lvl)
}

// SetLevel sets the level from its textual name (debug, info, warn, error).
func SetLevel(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	global.level.Set(l)
	return nil
}

// Init sends log output to the file at path, creating its directory.
// Only the first successful Init or InitWriter takes effect until Reset.
func Init(path string) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.loaded {
		return nil
	}
	return global.openFile(path)
}

// InitWriter sends log output to w, such as stderr in the foreground.
func InitWriter(w io.Writer) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.loaded {
		return
	}
	global.attach(w)
}

// openFile must be called with s.mu held.
func (s *sink) openFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	s.file = f
	s.path = path
	s.attach(f)
	s.log.Info("logger initialized", "path", path)
	return nil
}

func (s *sink) attach(w io.Writer) {
	s.log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: s.level}))
	s.loaded = true
}

// current falls back to the default log file on first use. A failure is
// reported once on stderr and slog.Default is used instead.
func (s *sink) current() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		path, err := DefaultLogPath()
		if err == nil {
			err = s.openFile(path)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: logging to stderr: %v\n", err)
			s.attach(os.Stderr)
		}
	}
	if s.log == nil {
		return slog.Default()
	}
	return s.log
}

// Get returns the root logger.
func Get() *slog.Logger {
	return global.current()
}

// WithState returns a logger tagged with the state id.
//
//	logger.WithState(1).Info("state updated")
//	// level=INFO msg="state updated" stateID=1
func WithState(stateID uint8) *slog.Logger {
	return Get().With("stateID", stateID)
}

// WithComponent returns a logger tagged with a component name such as
// "router" or "rpc".
func WithComponent(component string) *slog.Logger {
	return Get().With("component", component)
}

// Path is the active log file, or "" when logging to a writer.
func Path() string {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.path
}

// Close releases the log file. Later calls to Get fall back to slog.Default.
func Close() {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.file != nil {
		global.file.Close()
		global.file = nil
	}
	global.log = nil
}

// Reset discards all logger state so tests can initialize it again.
func Reset() {
	Close()

	global.mu.Lock()
	defer global.mu.Unlock()
	global.loaded = false
	global.path = ""
	global.level = new(slog.LevelVar)
}
