// Package logging provides a small leveled logger used by every package in
// qmaster. It mirrors the console+file split the rest of the fleet uses:
// everything goes to the file, only INFO and above reach stdout.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// LogLevel is the severity of a log line.
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
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

// Logger writes every level to a file and INFO+ to the console.
type Logger struct {
	consoleLogger *log.Logger
	fileLogger    *log.Logger
	file          *os.File
}

var defaultLogger *Logger

// InitDefaultLogger opens logs/<name>_<timestamp>.log and installs it as the
// package-level logger used by Info/Debug/Warn/Error/Trace.
func InitDefaultLogger(name string) error {
	if err := os.MkdirAll("logs", 0755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join("logs", fmt.Sprintf("%s_%s.log", name, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}

	defaultLogger = &Logger{
		consoleLogger: log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:    log.New(file, "", log.LstdFlags),
		file:          file,
	}

	return nil
}

// CloseDefaultLogger flushes and closes the log file, if one was opened.
func CloseDefaultLogger() {
	if defaultLogger != nil && defaultLogger.file != nil {
		defaultLogger.file.Close()
	}
}

func Trace(format string, args ...interface{}) { logMessage(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { logMessage(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { logMessage(INFO, format, args...) }
func Warn(format string, args ...interface{})  { logMessage(WARN, format, args...) }
func Error(format string, args ...interface{}) { logMessage(ERROR, format, args...) }

func logMessage(level LogLevel, format string, args ...interface{}) {
	if defaultLogger == nil {
		return
	}

	message := fmt.Sprintf("[%s] %s", level.String(), fmt.Sprintf(format, args...))

	defaultLogger.fileLogger.Println(message)

	if level >= INFO {
		defaultLogger.consoleLogger.Println(message)
	}
}

// Elapsed renders a duration the way the periodic-task logs want it:
// rounded to millisecond precision instead of Go's nanosecond default.
func Elapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// Count renders an integer with thousands separators, for registry-size
// log lines ("117 remain" vs "1,117 remain" once a master gets busy).
func Count(n int) string {
	return humanize.Comma(int64(n))
}
