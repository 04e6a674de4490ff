package logging

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{" WARN ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	root := New()
	root.SetOutput(&buf)
	logger := root.WithComponent("swarm")

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[swarm]") {
		t.Errorf("expected component 'swarm' in log, got: %s", output)
	}
}

func TestLogger_WithSystem(t *testing.T) {
	var buf bytes.Buffer
	root := New()
	root.SetOutput(&buf)

	root.WithComponent("bus").WithSystem("s1").Info("published")

	output := buf.String()
	if !strings.Contains(output, "system=s1") {
		t.Errorf("expected system field, got: %s", output)
	}
}

func TestLogger_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("fields", map[string]interface{}{"b": 2, "a": 1, "c": 3})

	output := buf.String()
	if !strings.Contains(output, "a=1 b=2 c=3") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	root := New()
	root.SetOutput(&buf)
	logger := root.WithComponent("test")

	logger.Info("hello world", map[string]interface{}{"key": "value"})

	// Format: LEVEL TIMESTAMP [component] message key=value
	output := buf.String()
	if !strings.HasPrefix(output, "INFO ") {
		t.Errorf("expected line to start with 'INFO ', got: %s", output)
	}
	if !strings.Contains(output, "[test] hello world key=value") {
		t.Errorf("unexpected format: %s", output)
	}
}

func TestLogger_Discard(t *testing.T) {
	logger := Discard()
	logger.Error("nowhere")
	logger.WithComponent("x").Info("still nowhere")
}

func TestLogger_CoordinationHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.AgentRegistered("writer", []string{"doc", "spec"})
	logger.Dispatch("writer", "m1", 5*time.Millisecond, nil)
	logger.Dispatch("writer", "m2", time.Millisecond, fmt.Errorf("disk full"))
	logger.Unrouted("m3", "unknown", "no capability")
	logger.PolicyFailure("p1", "m4", fmt.Errorf("boom"))
	logger.PolicyViolation("p2", "m5", "blocked type")
	logger.SystemCreated("s1")
	logger.SystemDestroyed("s1", time.Second)

	output := buf.String()
	for _, want := range []string{
		"agent_registered", "capabilities=doc,spec",
		"dispatch ", "DEBUG",
		"dispatch_failed", "error=disk full",
		"message_unrouted", "reason=no capability",
		"policy_failed", "policy_violation",
		"system_created", "system_destroyed", "uptime=1s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}
