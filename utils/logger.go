package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel enumerates severity tiers.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// ParseLogLevel maps a config/flag string ("debug", "info", ...) to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	for i, n := range levelNames {
		if strings.EqualFold(s, n) {
			return LogLevel(i), nil
		}
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Logger is a concurrency-safe, levelled logger shared by every pipeline stage.
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	inner *log.Logger
	file  *os.File
}

var (
	globalLogger *Logger
	logOnce      sync.Once
)

// InitLogger creates the singleton logger. Call once at startup.
// When quietStdout is set (terminal viewfinder owns the screen) only the
// log file receives output.
func InitLogger(minLevel LogLevel, logFilePath string, quietStdout bool) *Logger {
	logOnce.Do(func() {
		var writers []io.Writer
		if !quietStdout {
			writers = append(writers, os.Stdout)
		}

		var f *os.File
		if logFilePath != "" {
			var err error
			f, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				writers = append(writers, f)
			} else {
				log.Printf("[WARN] could not open log file %s: %v\n", logFilePath, err)
			}
		}
		if len(writers) == 0 {
			writers = append(writers, io.Discard)
		}

		globalLogger = &Logger{
			level: minLevel,
			inner: log.New(io.MultiWriter(writers...), "", 0),
			file:  f,
		}
	})
	return globalLogger
}

// L returns the global logger, initialising a stdout logger at INFO on first use.
func L() *Logger {
	if globalLogger == nil {
		return InitLogger(INFO, "", false)
	}
	return globalLogger
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(lvl LogLevel) {
	l.mu.Lock()
	l.level = lvl
	l.mu.Unlock()
}

// SetOutput redirects log lines, e.g. into a buffer in tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.inner.SetOutput(w)
	l.mu.Unlock()
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
	}
}

func (l *Logger) log(lvl LogLevel, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.inner.Printf("[%s] %s  %s", lvl, ts, fmt.Sprintf(format, args...))

	if lvl == FATAL {
		if l.file != nil {
			_ = l.file.Close()
		}
		os.Exit(1)
	}
}

func (l *Logger) Debug(f string, a ...any) { l.log(DEBUG, f, a...) }
func (l *Logger) Info(f string, a ...any)  { l.log(INFO, f, a...) }
func (l *Logger) Warn(f string, a ...any)  { l.log(WARN, f, a...) }
func (l *Logger) Error(f string, a ...any) { l.log(ERROR, f, a...) }
func (l *Logger) Fatal(f string, a ...any) { l.log(FATAL, f, a...) }
