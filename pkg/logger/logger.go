package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to its LogLevel. Unknown names yield INFO and false.
func ParseLevel(name string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG, true
	case "INFO":
		return INFO, true
	case "WARN", "WARNING":
		return WARN, true
	case "ERROR":
		return ERROR, true
	case "FATAL":
		return FATAL, true
	}
	return INFO, false
}

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorMagenta = "\033[35m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorGray    = "\033[90m"
)

// sink is shared between a logger and the children created with With, so
// level and output changes apply to the whole family.
type sink struct {
	mu         sync.Mutex
	out        io.Writer
	level      LogLevel
	colorize   bool
	showCaller bool
	showTime   bool
	timeFormat string
}

type Logger struct {
	sink   *sink
	prefix string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

type Config struct {
	Level      LogLevel
	Prefix     string
	Colorize   bool
	ShowCaller bool
	ShowTime   bool
	TimeFormat string
	Output     io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		Colorize:   true,
		ShowTime:   true,
		TimeFormat: "2006-01-02 15:04:05",
		Output:     os.Stderr,
	}
}

func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "2006-01-02 15:04:05"
	}

	return &Logger{
		sink: &sink{
			out:        cfg.Output,
			level:      cfg.Level,
			colorize:   cfg.Colorize,
			showCaller: cfg.ShowCaller,
			showTime:   cfg.ShowTime,
			timeFormat: cfg.TimeFormat,
		},
		prefix: cfg.Prefix,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(Config{Level: FATAL + 1, Output: io.Discard})
}

// GetLogger returns the process-wide logger. REVMAP_LOG_LEVEL (or LOG_LEVEL)
// selects the level on first use.
func GetLogger() *Logger {
	once.Do(func() {
		cfg := DefaultConfig()
		envLevel := os.Getenv("REVMAP_LOG_LEVEL")
		if envLevel == "" {
			envLevel = os.Getenv("LOG_LEVEL")
		}
		if lvl, ok := ParseLevel(envLevel); ok {
			cfg.Level = lvl
		}
		if os.Getenv("NO_COLOR") != "" {
			cfg.Colorize = false
		}
		defaultLogger = New(cfg)
	})
	return defaultLogger
}

// With returns a child logger whose lines carry an extra prefix, e.g. a
// session ID. The child shares level and output with its parent.
func (l *Logger) With(prefix string) *Logger {
	p := prefix
	if l.prefix != "" {
		p = l.prefix + " " + prefix
	}
	return &Logger{sink: l.sink, prefix: p}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

func (l *Logger) Level() LogLevel {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out = w
}

func (l *Logger) SetColorize(colorize bool) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.colorize = colorize
}

func (l *Logger) SetShowCaller(show bool) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.showCaller = show
}

func (l *Logger) formatMessage(level LogLevel, msg string, args ...any) string {
	s := l.sink
	parts := make([]string, 0, 5)

	if s.showTime {
		parts = append(parts, time.Now().Format(s.timeFormat))
	}

	levelStr := fmt.Sprintf("[%s]", level.String())
	if s.colorize {
		switch level {
		case DEBUG:
			levelStr = colorGray + levelStr + colorReset
		case INFO:
			levelStr = colorBlue + levelStr + colorReset
		case WARN:
			levelStr = colorYellow + levelStr + colorReset
		case ERROR:
			levelStr = colorMagenta + levelStr + colorReset
		case FATAL:
			levelStr = colorRed + levelStr + colorReset
		}
	}
	parts = append(parts, levelStr)

	if s.showCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			parts = append(parts, fmt.Sprintf("%s:%d", file, line))
		}
	}

	if l.prefix != "" {
		parts = append(parts, l.prefix)
	}

	if len(args) > 0 {
		parts = append(parts, fmt.Sprintf(msg, args...))
	} else {
		parts = append(parts, msg)
	}

	return strings.Join(parts, " ")
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if level < l.sink.level {
		return
	}

	fmt.Fprintln(l.sink.out, l.formatMessage(level, msg, args...))

	if level == FATAL {
		os.Exit(1)
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(ERROR, msg, args...) }

// Fatal logs at FATAL level and exits the program.
func (l *Logger) Fatal(msg string, args ...any) { l.log(FATAL, msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.log(DEBUG, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(INFO, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(WARN, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(ERROR, format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.log(FATAL, format, args...) }

// Package-level convenience functions using the default logger

func Debugf(format string, args ...any) { GetLogger().log(DEBUG, format, args...) }
func Infof(format string, args ...any)  { GetLogger().log(INFO, format, args...) }
func Warnf(format string, args ...any)  { GetLogger().log(WARN, format, args...) }
func Errorf(format string, args ...any) { GetLogger().log(ERROR, format, args...) }
func Fatalf(format string, args ...any) { GetLogger().log(FATAL, format, args...) }

// SetLevel sets the log level for the default logger
func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}

// SetOutput sets the output for the default logger
func SetOutput(w io.Writer) {
	GetLogger().SetOutput(w)
}

// SetColorize enables or disables colored output for the default logger
func SetColorize(colorize bool) {
	GetLogger().SetColorize(colorize)
}
