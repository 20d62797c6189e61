// Package logging writes component-tagged debug logs to a per-session file
// under ~/.inquest/logs, so run diagnostics never mix with the event stream
// printed to the user.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes leveled, component-tagged entries to the session log file.
// Debug entries are dropped unless INQUEST_DEBUG is set.
type Logger struct {
	sessionID string
	component string
	file      *os.File
	out       *log.Logger
	debug     bool
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	sessionID     string
	sessionIDOnce sync.Once

	logDir  string
	dirOnce sync.Once
	dirErr  error
)

func currentSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func ensureLogDir() error {
	dirOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			dirErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}
		logDir = filepath.Join(homeDir, ".inquest", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			dirErr = fmt.Errorf("failed to create log directory: %w", err)
		}
	})
	return dirErr
}

// NewLogger creates a logger for one component. All components of a process
// share one session file, ~/.inquest/logs/<session-id>.log, opened in append
// mode. When the file cannot be opened the logger falls back to stderr and
// the error is returned alongside the usable fallback.
func NewLogger(component string) (*Logger, error) {
	debug := os.Getenv("INQUEST_DEBUG") != ""

	if err := ensureLogDir(); err != nil {
		return fallbackLogger(component, debug, err), err
	}

	logPath := filepath.Join(logDir, currentSessionID()+".log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		openErr := fmt.Errorf("failed to open log file: %w", err)
		return fallbackLogger(component, debug, openErr), openErr
	}

	return &Logger{
		sessionID: currentSessionID(),
		component: component,
		file:      file,
		out:       log.New(file, "", 0),
		debug:     debug,
		logPath:   logPath,
	}, nil
}

func fallbackLogger(component string, debug bool, err error) *Logger {
	out := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	out.Printf("file logging unavailable, using stderr: %v", err)
	return &Logger{
		sessionID: currentSessionID(),
		component: component,
		out:       out,
		debug:     debug,
	}
}

func (l *Logger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, fmt.Sprintf(format, v...))
}

// Debugf logs a debug entry. Dropped unless INQUEST_DEBUG is set.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if !l.debug {
		return
	}
	l.write("DEBUG", format, v...)
}

// Infof logs an info entry.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning entry.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error entry.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// Writer returns the raw destination, for handing to code that needs an
// io.Writer.
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return os.Stderr
}

// SessionID returns the session identifier shared by all loggers in this
// process.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the log file path, or empty when writing to stderr.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetSessionID returns the process-wide session identifier.
func GetSessionID() string {
	return currentSessionID()
}

// GetLogDirectory returns the directory session logs are written to.
func GetLogDirectory() (string, error) {
	if err := ensureLogDir(); err != nil {
		return "", err
	}
	return logDir, nil
}
