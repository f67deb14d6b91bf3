package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// Packages depend on this interface rather than a concrete backend so tests
// can inject Nop() and the server can scope one shared backend per component.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type backend struct {
	mu    sync.Mutex
	out   *log.Logger
	level Level
}

var (
	sharedBackend *backend
	backendOnce   sync.Once
)

func getBackend() *backend {
	backendOnce.Do(func() {
		level := LevelInfo
		switch os.Getenv("RELAY_LOG_LEVEL") {
		case "debug":
			level = LevelDebug
		case "warn":
			level = LevelWarn
		case "error":
			level = LevelError
		}
		sharedBackend = &backend{
			out:   log.New(os.Stderr, "", 0),
			level: level,
		}
	})
	return sharedBackend
}

// SetOutput redirects the shared backend, primarily for tests.
func SetOutput(w io.Writer) {
	b := getBackend()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = log.New(w, "", 0)
}

// SetLevel sets the minimum level emitted by the shared backend.
func SetLevel(level Level) {
	b := getBackend()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.level = level
}

type componentLogger struct {
	backend   *backend
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{backend: getBackend(), component: component}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	b := l.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if level < b.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	b.out.Printf("%s [%s] [%s] %s",
		time.Now().Format("2006-01-02 15:04:05.000"), level, l.component, msg)
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}
