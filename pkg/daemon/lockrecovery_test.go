package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/jamesainslie/demote/pkg/daemon"
)

type stalePaths struct {
	pid, socket, status, history, lock string
}

func newStalePaths(t *testing.T) stalePaths {
	t.Helper()
	dir := t.TempDir()
	p := stalePaths{
		pid:     filepath.Join(dir, "demote.pid"),
		socket:  filepath.Join(dir, "demote.sock"),
		history: filepath.Join(dir, "history"),
	}
	p.status = daemon.StatusPath(p.socket)
	p.lock = filepath.Join(p.history, "LOCK")
	return p
}

func TestRecoverFromStaleDaemon_NoPIDFile(t *testing.T) {
	p := newStalePaths(t)

	if err := daemon.RecoverFromStaleDaemon(p.pid, p.socket, p.history); err != nil {
		t.Errorf("Expected nil when no PID file exists, got %v", err)
	}
}

func TestRecoverFromStaleDaemon_ProcessRunning(t *testing.T) {
	p := newStalePaths(t)

	if err := os.WriteFile(p.pid, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}

	err := daemon.RecoverFromStaleDaemon(p.pid, p.socket, p.history)
	if !errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
		t.Errorf("Expected ErrDaemonAlreadyRunning when process is running, got %v", err)
	}
	if _, err := os.Stat(p.pid); os.IsNotExist(err) {
		t.Error("PID file should not have been removed when process is running")
	}
}

func TestRecoverFromStaleDaemon_StaleProcess(t *testing.T) {
	p := newStalePaths(t)

	if err := os.MkdirAll(p.history, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		p.pid:    "999999999",
		p.socket: "fake socket",
		p.status: `{"status":"ready","pid":999999999}`,
		p.lock:   "fake lock",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}

	if err := daemon.RecoverFromStaleDaemon(p.pid, p.socket, p.history); err != nil {
		t.Errorf("Expected nil after cleaning up stale daemon, got %v", err)
	}

	for path := range files {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("File %s should have been removed after recovery", path)
		}
	}
}

func TestRecoverFromStaleDaemon_HistoryDisabled(t *testing.T) {
	p := newStalePaths(t)

	if err := os.MkdirAll(p.history, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.lock, []byte("lock"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.pid, []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := daemon.RecoverFromStaleDaemon(p.pid, p.socket, ""); err != nil {
		t.Fatalf("RecoverFromStaleDaemon: %v", err)
	}
	if _, err := os.Stat(p.lock); err != nil {
		t.Error("LOCK should be left alone when no history directory is given")
	}
}

func TestRecoverFromStaleDaemon_PartialStaleFiles(t *testing.T) {
	p := newStalePaths(t)

	if err := os.WriteFile(p.pid, []byte("999999999"), 0o644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}

	if err := daemon.RecoverFromStaleDaemon(p.pid, p.socket, p.history); err != nil {
		t.Errorf("Expected nil when cleaning up partial stale files, got %v", err)
	}
	if _, err := os.Stat(p.pid); !os.IsNotExist(err) {
		t.Error("PID file should have been removed")
	}
}

func TestRecoverFromStaleDaemon_InvalidPIDFile(t *testing.T) {
	p := newStalePaths(t)

	if err := os.WriteFile(p.pid, []byte("not-a-number"), 0o644); err != nil {
		t.Fatalf("Failed to write PID file: %v", err)
	}

	if err := daemon.RecoverFromStaleDaemon(p.pid, p.socket, p.history); err != nil {
		t.Errorf("Expected nil for invalid PID file, got %v", err)
	}
}
