// Package logging provides real-time console output for coordination events.
// Notifications are the record of what happened; this package only renders
// them for operators watching a running system.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
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

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a configuration string into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger provides leveled logging to stdout.
// Loggers derived with WithComponent or WithSystem share the output writer
// and its lock with their parent.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	systemID  string
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything. Components fall back to
// it when no logger is configured.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

func (l *Logger) derive() *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		systemID:  l.systemID,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	d := l.derive()
	d.component = component
	return d
}

// WithSystem returns a new logger that tags every line with a system id.
func (l *Logger) WithSystem(systemID string) *Logger {
	d := l.derive()
	d.systemID = systemID
	return d
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.minLevel = level
	l.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
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

// formatFields formats fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes: LEVEL TIMESTAMP [component] message system=... key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if len(fields) > 0 && fields[0] != nil {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.systemID != "" {
		merged["system"] = l.systemID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.output.Write([]byte(line))
}

// --- Coordination event helpers ---

// AgentRegistered logs an agent joining the swarm.
func (l *Logger) AgentRegistered(agentID string, capabilities []string) {
	l.Info("agent_registered", map[string]interface{}{
		"agent":        agentID,
		"capabilities": strings.Join(capabilities, ","),
	})
}

// AgentUnregistered logs an agent leaving the swarm.
func (l *Logger) AgentUnregistered(agentID string) {
	l.Info("agent_unregistered", map[string]interface{}{
		"agent": agentID,
	})
}

// Dispatch logs the outcome of handing a message to an agent.
func (l *Logger) Dispatch(agentID, messageID string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"agent":    agentID,
		"message":  messageID,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("dispatch_failed", fields)
		return
	}
	l.Debug("dispatch", fields)
}

// Unrouted logs a message dropped because no agent could take it.
func (l *Logger) Unrouted(messageID, messageType, reason string) {
	l.Warn("message_unrouted", map[string]interface{}{
		"message": messageID,
		"type":    messageType,
		"reason":  reason,
	})
}

// SubscriberFailure logs a bus subscriber that returned an error or panicked.
func (l *Logger) SubscriberFailure(topic, messageID string, err error) {
	l.Error("subscriber_failed", map[string]interface{}{
		"topic":   topic,
		"message": messageID,
		"error":   err.Error(),
	})
}

// PolicyFailure logs a policy whose predicate or action failed.
func (l *Logger) PolicyFailure(policyID, messageID string, err error) {
	l.Error("policy_failed", map[string]interface{}{
		"policy":  policyID,
		"message": messageID,
		"error":   err.Error(),
	})
}

// PolicyViolation logs a rule that flagged a message.
func (l *Logger) PolicyViolation(policyID, messageID, reason string) {
	l.Warn("policy_violation", map[string]interface{}{
		"policy":  policyID,
		"message": messageID,
		"reason":  reason,
	})
}

// SystemCreated logs a new coordination system.
func (l *Logger) SystemCreated(systemID string) {
	l.Info("system_created", map[string]interface{}{
		"id": systemID,
	})
}

// SystemDestroyed logs a coordination system being torn down.
func (l *Logger) SystemDestroyed(systemID string, uptime time.Duration) {
	l.Info("system_destroyed", map[string]interface{}{
		"id":     systemID,
		"uptime": uptime.String(),
	})
}
