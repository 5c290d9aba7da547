// Package notify delivers user-visible status messages from background work.
// The sync engine and lock manager run off the main goroutine; they report
// through a Notifier instead of writing to the terminal directly.
package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nadia/dcap/internal/output"
)

// Level grades a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Notifier receives status messages. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(level Level, format string, args ...interface{})
}

// Terminal prints notifications with the standard output styles.
type Terminal struct{}

func (Terminal) Notify(level Level, format string, args ...interface{}) {
	switch level {
	case LevelSuccess:
		output.Success(format, args...)
	case LevelWarning:
		output.Warning(format, args...)
	case LevelError:
		output.Error(format, args...)
	default:
		output.Info(format, args...)
	}
}

// Log routes notifications into slog. Used by `dcap sync --watch` where
// stdout belongs to the watch display.
type Log struct{}

func (Log) Notify(level Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case LevelWarning:
		slog.Warn(msg)
	case LevelError:
		slog.Error(msg)
	default:
		slog.Info(msg)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notify(Level, string, ...interface{}) {}

// Message is one recorded notification.
type Message struct {
	Level Level
	Text  string
}

// Capture records notifications for assertions in tests.
type Capture struct {
	mu       sync.Mutex
	messages []Message
}

func (c *Capture) Notify(level Level, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, Message{Level: level, Text: fmt.Sprintf(format, args...)})
}

// Messages returns a copy of everything recorded so far.
func (c *Capture) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}
