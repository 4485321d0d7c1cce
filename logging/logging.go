// Package logging provides real-time console output for broker activity.
// The task store is THE forensic record. This package provides optional
// key=value console lines for monitoring the dispatch loop and tool calls.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
// This is for real-time monitoring only - forensic analysis uses the store.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Broker event logging methods ---
// Called by the broker, worker and orchestrator after writing to the store.
// They provide real-time console output without duplicating data.

// TaskSubmitted logs a new task submission.
func (l *Logger) TaskSubmitted(taskID, agentName string) {
	l.Info("task_submitted", map[string]interface{}{
		"task":  taskID,
		"agent": agentName,
	})
}

// TaskStateChange logs a lifecycle transition.
func (l *Logger) TaskStateChange(taskID, from, to string) {
	l.Debug("task_state_change", map[string]interface{}{
		"task": taskID,
		"from": from,
		"to":   to,
	})
}

// TaskFinished logs a terminal outcome with its duration.
func (l *Logger) TaskFinished(taskID, state string, duration time.Duration) {
	l.Info("task_finished", map[string]interface{}{
		"task":     taskID,
		"state":    state,
		"duration": duration.String(),
	})
}

// DispatchError logs a swallowed dispatch-loop iteration failure.
func (l *Logger) DispatchError(err error) {
	l.Error("dispatch_error", map[string]interface{}{
		"error": err.Error(),
	})
}

// CallbackError logs a notify callback failure that was caught.
func (l *Logger) CallbackError(taskID string, recovered interface{}) {
	l.Error("callback_error", map[string]interface{}{
		"task":  taskID,
		"error": fmt.Sprintf("%v", recovered),
	})
}

// AgentError logs a sub-agent execution failure.
func (l *Logger) AgentError(taskID string, err error) {
	l.Warn("agent_error", map[string]interface{}{
		"task":  taskID,
		"error": err.Error(),
	})
}
