package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPidFileRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	pidFile := filepath.Join(tempDir, "omnixd.pid")

	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}

	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("PID file was not created: %v", err)
	}
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Errorf("unexpected PID file content: %q", b)
	}

	if err := removePidFile(pidFile); err != nil {
		t.Errorf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("PID file was not removed")
	}
}

func TestRemovePidFileEmptyPath(t *testing.T) {
	if err := removePidFile(""); err != nil {
		t.Errorf("empty pidfile path should be a no-op, got %v", err)
	}
}
