package daemon

import (
	"os"
	"path/filepath"
)

// RecoverFromStaleDaemon cleans up after a daemon that died without
// removing its files: the PID file, the socket, the status file and the
// history database LOCK. It returns ErrDaemonAlreadyRunning when the PID
// file names a live process, and nil when there was nothing to recover.
func RecoverFromStaleDaemon(pidPath, socketPath, historyDir string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return nil //nolint:nilerr // missing or unreadable pid file means no stale daemon
	}

	if pid == os.Getpid() || IsProcessRunning(pid) {
		return ErrDaemonAlreadyRunning
	}

	log.Warn("cleaning up stale daemon files", "stale_pid", pid)

	_ = os.Remove(pidPath)
	_ = os.Remove(socketPath)
	_ = os.Remove(StatusPath(socketPath))
	if historyDir != "" {
		_ = os.Remove(filepath.Join(historyDir, "LOCK"))
	}
	return nil
}
