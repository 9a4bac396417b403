package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"time"
)

// Level represents the severity of a log message
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

var (
	defaultSink *sink
	sinkOnce    sync.Once
)

type sink struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
}

func getSink() *sink {
	sinkOnce.Do(func() {
		defaultSink = &sink{out: os.Stderr, level: INFO}
	})
	return defaultSink
}

// SetLevel sets the minimum level emitted by all component loggers.
func SetLevel(level Level) {
	s := getSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	s := getSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(raw string) Level {
	switch raw {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// componentLogger writes timestamped lines tagged with a component name.
type componentLogger struct {
	component string
	sink      *sink
}

// NewComponentLogger creates a logger scoped to a specific component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component, sink: getSink()}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2026-01-02 15:04:05 [INFO] [Component] file.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "muse"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		timestamp, levelToString(level), component, file, line, message)

	if _, err := io.WriteString(s.out, sanitizeLogLine(logLine)); err != nil {
		log.Printf("logging: write failed: %v", err)
	}
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(DEBUG, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(INFO, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(WARN, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(ERROR, format, args...) }

func levelToString(level Level) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
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

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

const redactedPlaceholder = "[REDACTED]"

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	apiKeyPattern      = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|secret)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
)

// sanitizeLogLine redacts credentials that would otherwise leak into log output.
func sanitizeLogLine(line string) string {
	sanitized := bearerTokenPattern.ReplaceAllString(line, "${1}"+redactedPlaceholder)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}"+redactedPlaceholder+"${3}")
	return sanitized
}
