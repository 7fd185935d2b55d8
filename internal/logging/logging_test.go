package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetFormat_JSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	SetFormat("json")
	defer func() {
		SetFormat("text")
		SetOutput(nil)
	}()

	Info("migration started")

	output := buf.String()
	if output == "" {
		t.Fatal("expected output")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &entry); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}

	if _, ok := entry["ts"]; !ok {
		t.Error("missing 'ts' field in JSON log")
	}
	if level, ok := entry["level"]; !ok || level != "info" {
		t.Errorf("expected level='info', got %v", level)
	}
	if msg, ok := entry["msg"]; !ok || msg != "migration started" {
		t.Errorf("expected msg='migration started', got %v", msg)
	}
}

func TestSetFormat_Text(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	SetFormat("text")
	defer SetOutput(nil)

	Info("migration started")

	output := buf.String()
	if !strings.Contains(output, "[INFO]") {
		t.Errorf("expected [INFO] in text output: %s", output)
	}
	if !strings.Contains(output, "migration started") {
		t.Errorf("expected 'migration started' in output: %s", output)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	defer func() {
		SetLevel(LevelInfo)
		SetOutput(nil)
	}()

	Debug("hidden")
	Info("hidden")
	Warn("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("messages below warn should be suppressed: %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("warn message missing: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"DEBUG", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"WARN", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"Warning", LevelWarn, false},
		{"", LevelInfo, true},
		{"invalid", LevelInfo, true},
		{"trace", LevelInfo, true},
		{"fatal", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseLevel(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseLevel(%q) unexpected error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.expected)
			}
		})
	}
}

func TestGetSetLevel(t *testing.T) {
	original := GetLevel()
	defer SetLevel(original)

	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		SetLevel(level)
		if got := GetLevel(); got != level {
			t.Errorf("SetLevel(%v); GetLevel() = %v, want %v", level, got, level)
		}
	}
}

func TestJSONLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(string, ...interface{})
		level   string
	}{
		{"debug", Debug, "debug"},
		{"info", Info, "info"},
		{"warn", Warn, "warn"},
		{"error", Error, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutput(&buf)
			SetLevel(LevelDebug)
			SetFormat("json")
			defer func() {
				SetFormat("text")
				SetLevel(LevelInfo)
				SetOutput(nil)
			}()

			tt.logFunc("test")

			var entry map[string]interface{}
			if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}

			if entry["level"] != tt.level {
				t.Errorf("expected level=%s, got %v", tt.level, entry["level"])
			}
		})
	}
}
