package daemon

import (
	"encoding/json"
	"os"
	"strings"
)

// Startup states written to the status file.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// StatusFile tells a starting client whether demoted came up.
type StatusFile struct {
	Status  string `json:"status"`            // "ready" or "error"
	PID     int    `json:"pid,omitempty"`     // only for ready
	Version string `json:"version,omitempty"` // only for ready
	Error   string `json:"error,omitempty"`   // only for error
}

// WriteStatusReady writes a ready status file.
func WriteStatusReady(path, version string) error {
	return writeStatus(path, &StatusFile{
		Status:  StatusReady,
		PID:     os.Getpid(),
		Version: version,
	})
}

// WriteStatusError writes an error status file.
func WriteStatusError(path string, err error) error {
	return writeStatus(path, &StatusFile{
		Status: StatusError,
		Error:  err.Error(),
	})
}

func writeStatus(path string, status *StatusFile) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file. A missing file is not an error.
func RemoveStatus(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StatusPath returns the status file that sits next to a socket:
// demote.sock becomes demote.status.
func StatusPath(socketPath string) string {
	return strings.TrimSuffix(socketPath, ".sock") + ".status"
}
