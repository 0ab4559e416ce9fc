// Package logger provides structured logging with size-based file rotation
// and an in-memory tail of recent entries.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santa-tracker/santa-gateway/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// LogFileName is the active log file inside the log directory
const LogFileName = "santa-gateway.log"

// String returns the string representation of the log level
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

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the main logger structure
type Logger struct {
	mu          sync.Mutex
	level       LogLevel
	formatJSON  bool
	outputs     []io.Writer
	fileWriter  *os.File
	logDir      string
	maxSize     int64 // bytes, 0 = no rotation
	currentSize int64
	tail        *Tail
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// InitLogger initializes the global logger with the given configuration
func InitLogger(cfg *config.LogConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	return nil
}

// NewLogger creates a new logger instance
func NewLogger(cfg *config.LogConfig) (*Logger, error) {
	l := &Logger{
		level:      parseLevel(cfg.Level),
		formatJSON: strings.EqualFold(cfg.Format, "json"),
		logDir:     cfg.Directory,
		maxSize:    int64(cfg.MaxSize) * 1024 * 1024,
		tail:       NewTail(cfg.TailSize),
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		if err := l.setupFileWriter(); err != nil {
			return nil, err
		}
	case "both":
		l.outputs = append(l.outputs, os.Stdout)
		if err := l.setupFileWriter(); err != nil {
			return nil, err
		}
	default:
		l.outputs = append(l.outputs, os.Stdout)
	}

	return l, nil
}

// newWriterLogger logs to w only
func newWriterLogger(w io.Writer, level LogLevel, formatJSON bool) *Logger {
	return &Logger{
		level:      level,
		formatJSON: formatJSON,
		outputs:    []io.Writer{w},
		tail:       NewTail(100),
	}
}

func (l *Logger) setupFileWriter() error {
	if l.logDir == "" {
		l.logDir = "logs"
	}
	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(l.logDir, LogFileName)
	if info, err := os.Stat(logFile); err == nil {
		l.currentSize = info.Size()
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.fileWriter = f
	l.outputs = append(l.outputs, f)
	return nil
}

// rotate renames the active file and reopens a fresh one. Caller holds l.mu.
func (l *Logger) rotate() {
	if l.fileWriter == nil {
		return
	}

	old := l.fileWriter
	old.Close()

	logFile := filepath.Join(l.logDir, LogFileName)
	backup := filepath.Join(l.logDir, fmt.Sprintf("santa-gateway-%s.log", time.Now().Format("20060102-150405.000")))
	os.Rename(logFile, backup)
	l.pruneBackups(5)

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] failed to reopen log file: %v\n", err)
		l.fileWriter = nil
	} else {
		l.fileWriter = f
	}
	l.currentSize = 0

	outputs := make([]io.Writer, 0, len(l.outputs))
	for _, w := range l.outputs {
		if w != io.Writer(old) {
			outputs = append(outputs, w)
		}
	}
	if l.fileWriter != nil {
		outputs = append(outputs, l.fileWriter)
	}
	l.outputs = outputs
}

func (l *Logger) pruneBackups(keep int) {
	matches, err := filepath.Glob(filepath.Join(l.logDir, "santa-gateway-*.log"))
	if err != nil || len(matches) <= keep {
		return
	}
	// timestamped names sort chronologically
	sort.Strings(matches)
	for _, name := range matches[:len(matches)-keep] {
		os.Remove(name)
	}
}

// parseLevel converts string level to LogLevel
func parseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = newWriterLogger(os.Stdout, INFO, false)
	}
	return defaultLogger
}

// Tail returns the in-memory buffer of recent entries
func (l *Logger) Tail() *Tail {
	return l.tail
}

func (l *Logger) format(now time.Time, level LogLevel, msg string, fields []Field) string {
	if l.formatJSON {
		record := make(map[string]interface{}, len(fields)+3)
		for _, f := range fields {
			record[f.Key] = f.Value
		}
		record["time"] = now.Format(time.RFC3339)
		record["level"] = level.String()
		record["msg"] = msg
		data, err := json.Marshal(record)
		if err != nil {
			data, _ = json.Marshal(map[string]string{"time": now.Format(time.RFC3339), "level": level.String(), "msg": msg})
		}
		return string(data) + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", now.Format("2006-01-02 15:04:05"), level, msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteByte('\n')
	return b.String()
}

// log is the internal logging method
func (l *Logger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	now := time.Now()
	line := l.format(now, level, msg, fields)

	l.mu.Lock()
	for _, w := range l.outputs {
		if _, err := io.WriteString(w, line); err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] failed to write log: %v\n", err)
			continue
		}
		if w == io.Writer(l.fileWriter) {
			l.currentSize += int64(len(line))
		}
	}
	if l.maxSize > 0 && l.currentSize >= l.maxSize {
		l.rotate()
	}
	l.mu.Unlock()

	if l.tail != nil {
		entry := TailEntry{Timestamp: now, Level: level.String(), Message: msg}
		if len(fields) > 0 {
			entry.Fields = make(map[string]interface{}, len(fields))
			for _, f := range fields {
				entry.Fields[f.Key] = f.Value
			}
		}
		l.tail.Add(entry)
	}
}

// Close closes the logger and releases resources
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileWriter != nil {
		err := l.fileWriter.Close()
		l.fileWriter = nil
		return err
	}
	return nil
}

// WithField creates a log entry with a single field
func (l *Logger) WithField(key string, value interface{}) *LogEntry {
	return &LogEntry{logger: l, fields: []Field{{Key: key, Value: value}}}
}

// WithFields creates a log entry with multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *LogEntry {
	return (&LogEntry{logger: l}).WithFields(fields)
}

// WithError creates a log entry with an error field
func (l *Logger) WithError(err error) *LogEntry {
	return (&LogEntry{logger: l}).WithError(err)
}

// Info logs a message at info level
func (l *Logger) Info(args ...interface{}) { l.log(INFO, fmt.Sprint(args...), nil) }

// Infof logs a formatted message at info level
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warn logs a message at warning level
func (l *Logger) Warn(args ...interface{}) { l.log(WARN, fmt.Sprint(args...), nil) }

// Warnf logs a formatted message at warning level
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Error logs a message at error level
func (l *Logger) Error(args ...interface{}) { l.log(ERROR, fmt.Sprint(args...), nil) }

// Errorf logs a formatted message at error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Debug logs a message at debug level
func (l *Logger) Debug(args ...interface{}) { l.log(DEBUG, fmt.Sprint(args...), nil) }

// Debugf logs a formatted message at debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}
