package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"nonsense", LevelInfo}, // Default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%s) = %v, want %v", tt.input, got, tt.expected)
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
		{LevelFatal, "FATAL"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, tt.level.String())
		}
	}
}

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(&Config{Level: level})
	logger.colored = false
	logger.stamped = false
	logger.console = &buf
	return logger, &buf
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered")
	}
	if strings.Contains(output, "info message") {
		t.Error("info message should be filtered")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message should be present")
	}
	if !strings.Contains(output, "error message") {
		t.Error("error message should be present")
	}
}

func TestLoggerWithComponent(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug)

	logger.WithComponent("driver").Info("turn started")

	if !strings.Contains(buf.String(), "[driver]") {
		t.Errorf("expected output to contain '[driver]', got: %s", buf.String())
	}
}

func TestLoggerWithFields(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug)

	logger.WithFields(map[string]interface{}{
		"user_id": "u-42",
		"attempt": 1,
	}).Info("model call")

	output := buf.String()
	if !strings.Contains(output, "user_id=u-42") {
		t.Errorf("expected output to contain 'user_id=u-42', got: %s", output)
	}
	if !strings.Contains(output, "attempt=1") {
		t.Errorf("expected output to contain 'attempt=1', got: %s", output)
	}
}

func TestLoggerWithRequest(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug)

	logger.WithRequest("req-abc").Info("dispatching")

	if !strings.Contains(buf.String(), "request_id=req-abc") {
		t.Errorf("expected request id field, got: %s", buf.String())
	}
}

func TestDerivedLoggerDoesNotMutateParent(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug)

	_ = logger.WithField("child", "only")
	logger.Info("parent line")

	if strings.Contains(buf.String(), "child=only") {
		t.Errorf("parent logger picked up child field: %s", buf.String())
	}
}

func TestLoggerFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "assistant.log")

	logger := New(&Config{Level: LevelDebug, FilePath: logPath})
	logger.console = &bytes.Buffer{}
	defer logger.Close()

	logger.Info("file log test")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "file log test") {
		t.Errorf("expected log file to contain message, got: %s", string(content))
	}
}

func TestGlobalLogger(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug)
	old := Global()
	SetGlobal(logger)
	defer SetGlobal(old)

	Info("global test message")

	if !strings.Contains(buf.String(), "global test message") {
		t.Errorf("expected output to contain message, got: %s", buf.String())
	}
}

func TestEnableVerbose(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo)
	old := Global()
	SetGlobal(logger)
	defer SetGlobal(old)

	Debug("should not appear")
	if strings.Contains(buf.String(), "should not appear") {
		t.Error("debug message should be filtered before EnableVerbose")
	}

	EnableVerbose()

	Debug("should appear now")
	if !strings.Contains(buf.String(), "should appear now") {
		t.Errorf("debug message should appear after EnableVerbose, got: %s", buf.String())
	}
}

func TestTrace(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug)

	done := logger.Trace("Assemble")
	done()

	output := buf.String()
	if !strings.Contains(output, "ENTER Assemble") {
		t.Errorf("expected ENTER trace, got: %s", output)
	}
	if !strings.Contains(output, "EXIT  Assemble") {
		t.Errorf("expected EXIT trace, got: %s", output)
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"\033[31mRed\033[0m", "Red"},
		{"\033[32mGreen\033[0m text", "Green text"},
		{"No colors", "No colors"},
	}

	for _, tt := range tests {
		if got := stripANSI(tt.input); got != tt.expected {
			t.Errorf("stripANSI(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
