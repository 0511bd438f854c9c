package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile writes the PID on the first line and, when available, a JSON
// metadata line recording the process start time so stale files from a reused
// PID are not mistaken for a live service.
func WritePIDFile(path string, pid int, startUnix int64) {
	if path == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o750)
	body := strconv.Itoa(pid) + "\n"
	if startUnix > 0 {
		if meta, err := json.Marshal(pidMeta{StartUnix: startUnix}); err == nil {
			body += string(meta) + "\n"
		}
	}
	_ = os.WriteFile(path, []byte(body), 0o600)
}

// ReadPIDFile reads a PID file written by WritePIDFile. The returned start
// time is 0 for legacy files holding only the PID.
func ReadPIDFile(path string) (int, int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return 0, 0, fmt.Errorf("empty pidfile: %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	var startUnix int64
	if len(lines) >= 2 {
		var m pidMeta
		if err := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m); err == nil {
			startUnix = m.StartUnix
		}
	}
	return pid, startUnix, nil
}
