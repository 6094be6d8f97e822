package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStderrOnly(t *testing.T) {
	var stderr bytes.Buffer
	logs, err := Open(Config{}, &stderr)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	logs.New("campaign").Printf("Run %d/%d", 1, 4)

	if !strings.Contains(stderr.String(), "[campaign] ") || !strings.Contains(stderr.String(), "Run 1/4") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if logs.File() != "" {
		t.Errorf("File() = %q, want empty", logs.File())
	}
	if err := logs.Rotate(); err != nil {
		t.Errorf("Rotate() error = %v", err)
	}
	if err := logs.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFileCopy(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "bk.log")
	logs, err := Open(Config{File: path}, &stderr)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	logs.New("suite").Print("started")
	logs.New("").Print("bare")
	if err := logs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	for _, want := range []string{"[suite] ", "started", "bare"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file does not contain %q:\n%s", want, data)
		}
	}
	if stderr.String() == "" {
		t.Error("stderr copy missing")
	}
}

func TestQuiet(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "bk.log")
	logs, err := Open(Config{File: path, Quiet: true}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	defer logs.Close()

	logs.New("x").Print("hidden")
	if stderr.Len() != 0 {
		t.Errorf("quiet logger wrote to stderr: %q", stderr.String())
	}
	if logs.File() != path {
		t.Errorf("File() = %q, want %q", logs.File(), path)
	}
}

func TestRejectsNegativeRotation(t *testing.T) {
	if _, err := Open(Config{File: "x.log", MaxSizeMB: -1}, nil); err == nil {
		t.Error("Open() accepted a negative size")
	}
}
