package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/swarmkit/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Bus.HistoryCapacity != 10000 {
		t.Errorf("HistoryCapacity = %d, want 10000", cfg.Bus.HistoryCapacity)
	}
	if time.Duration(cfg.Coordinator.TickInterval) != 100*time.Millisecond {
		t.Errorf("TickInterval = %v, want 100ms", time.Duration(cfg.Coordinator.TickInterval))
	}
	if cfg.Logging.Level != string(logging.LevelInfo) {
		t.Errorf("Level = %q, want INFO", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestParse(t *testing.T) {
	content := `
[bus]
history_capacity = 500

[coordinator]
tick_interval = "50ms"
auto_start = true

[logging]
level = "debug"

[telemetry]
enabled = true
endpoint = "localhost:4318"
protocol = "http"
service_name = "docs-swarm"

[index]
enabled = true

[[rule]]
id = "deny-exec"
kind = "deny"
types = ["exec"]
`
	cfg, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if cfg.Bus.HistoryCapacity != 500 {
		t.Errorf("HistoryCapacity = %d, want 500", cfg.Bus.HistoryCapacity)
	}
	if cfg.CoordinatorSettings().Interval != 50*time.Millisecond {
		t.Errorf("Interval = %v, want 50ms", cfg.CoordinatorSettings().Interval)
	}
	if !cfg.Coordinator.AutoStart {
		t.Error("AutoStart should be true")
	}
	if cfg.BusSettings().HistoryCapacity != 500 {
		t.Error("BusSettings should carry history capacity")
	}
	if ts := cfg.TelemetrySettings(); ts.Protocol != "http" || ts.ServiceName != "docs-swarm" {
		t.Errorf("TelemetrySettings() = %+v", ts)
	}
	if !cfg.Index.Enabled {
		t.Error("Index.Enabled should be true")
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].ID != "deny-exec" {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
}

func TestParse_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse(`[logging]
level = "warn"`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Bus.HistoryCapacity != 10000 {
		t.Errorf("HistoryCapacity = %d, want default", cfg.Bus.HistoryCapacity)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad toml", `[bus`, "failed to parse"},
		{"bad duration", `[coordinator]
tick_interval = "often"`, "failed to parse"},
		{"zero capacity", `[bus]
history_capacity = 0`, "history_capacity"},
		{"negative interval", `[coordinator]
tick_interval = "-1s"`, "tick_interval"},
		{"bad level", `[logging]
level = "chatty"`, "logging.level"},
		{"bad protocol", `[telemetry]
protocol = "carrier-pigeon"`, "telemetry.protocol"},
		{"unknown key", `[bus]
size = 3`, "unknown config keys"},
		{"bad rule", `[[rule]]
id = "x"`, "rule 1"},
		{"duplicate rule", `[[rule]]
id = "x"
kind = "audit"

[[rule]]
id = "x"
kind = "deny"`, "duplicate id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.toml")
	os.WriteFile(path, []byte(`[coordinator]
tick_interval = "1s"`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if time.Duration(cfg.Coordinator.TickInterval) != time.Second {
		t.Errorf("TickInterval = %v, want 1s", time.Duration(cfg.Coordinator.TickInterval))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText error: %v", err)
	}
	if time.Duration(d) != 90*time.Second {
		t.Errorf("d = %v, want 1m30s", time.Duration(d))
	}
	text, _ := d.MarshalText()
	if string(text) != "1m30s" {
		t.Errorf("MarshalText() = %q", text)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "error"
	logger := cfg.NewLogger()

	var sb strings.Builder
	logger.SetOutput(&sb)
	logger.Warn("hidden")
	logger.Error("shown")

	if strings.Contains(sb.String(), "hidden") || !strings.Contains(sb.String(), "shown") {
		t.Errorf("level not applied: %q", sb.String())
	}
}
