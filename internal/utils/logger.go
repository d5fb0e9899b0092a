// internal/utils/logger.go
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// Logger wraps a logrus logger behind the level/fields API used across services
type Logger struct {
	mu    sync.Mutex
	entry *logrus.Logger
	file  io.WriteCloser
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		base := logrus.New()
		base.SetOutput(os.Stdout)
		base.SetLevel(logrus.InfoLevel)
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
		globalLogger = &Logger{entry: base}
	})
	return globalLogger
}

// InitLogger initializes the logger with a rotating log file
func InitLogger(logFile string) error {
	logger := GetLogger()

	// Ensure log directory exists
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    20, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	// Close previous file if exists
	if logger.file != nil {
		logger.file.Close()
	}

	logger.file = rotating
	logger.entry.SetOutput(io.MultiWriter(os.Stdout, rotating))
	return nil
}

// SetLogLevel sets the minimum level for logging
func (l *Logger) SetLogLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch level {
	case DEBUG:
		l.entry.SetLevel(logrus.DebugLevel)
	case WARNING:
		l.entry.SetLevel(logrus.WarnLevel)
	case ERROR:
		l.entry.SetLevel(logrus.ErrorLevel)
	default:
		l.entry.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects log output, mainly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry.SetOutput(w)
}

func (l *Logger) log(level logrus.Level, message string, fields map[string]interface{}) {
	if len(fields) > 0 {
		l.entry.WithFields(logrus.Fields(fields)).Log(level, message)
		return
	}
	l.entry.Log(level, message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(logrus.DebugLevel, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(logrus.InfoLevel, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(logrus.WarnLevel, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(logrus.ErrorLevel, message, fields)
}
