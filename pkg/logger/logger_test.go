package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"WARN":    WARN,
		"warning": WARN,
		" error ": ERROR,
		"":        INFO,
		"bogus":   INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConsoleLineIncludesComponentAndSortedFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	InfoCF("relay", "sent command", map[string]any{"z": 1, "a": "north"})

	line := buf.String()
	if !strings.Contains(line, "[INFO] relay: sent command") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "{a=north, z=1}") {
		t.Fatalf("fields not sorted: %q", line)
	}
}

func TestLevelFiltersLowerMessages(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(WARN)
	defer func() {
		SetOutput(os.Stderr)
		SetLevel(INFO)
	}()

	InfoC("test", "hidden")
	WarnC("test", "shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info line should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestFileLoggingWritesJSONLines(t *testing.T) {
	SetOutput(&bytes.Buffer{})
	defer SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "logs", "mudscribe.log")
	if err := EnableFileLogging(path); err != nil {
		t.Fatalf("enable file logging: %v", err)
	}
	ErrorCF("gateway", "request failed", map[string]any{"status": 500})
	DisableFileLogging()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry Entry
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Level != "ERROR" || entry.Component != "gateway" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Fields["status"] != float64(500) {
		t.Fatalf("status field = %v", entry.Fields["status"])
	}
}

func TestFileSinkRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	fs, err := openFileSink(path, true, 1, 0)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer fs.close()

	fs.size = fs.maxSize
	fs.write([]byte("{}\n"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected rotated file plus new file, got %d entries", len(entries))
	}
	if fs.size != 3 {
		t.Fatalf("size after rotation = %d, want 3", fs.size)
	}
}
