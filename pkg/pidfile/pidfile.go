// Package pidfile provides structure and helper functions to create and
// remove PID file. A PID file is usually a file used to store the
// process ID of a running process.
package pidfile

import (
	"bytes"
	"os"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

func alive(pid int) bool {
	// Signal 0 performs the permission and existence checks without
	// delivering anything.
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Read reads the PID file at path and returns the PID it contains if
// that process is still running, or 0 otherwise. Malformed content is
// ignored, so callers must check for a non-zero value before use.
func Read(path string) (pid int, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err = strconv.Atoi(string(bytes.TrimSpace(b)))
	if err != nil {
		return 0, nil
	}
	if pid > 0 && alive(pid) {
		return pid, nil
	}
	return 0, nil
}

// Write writes a PID file at the specified path. It returns an error if
// the file exists and names a still-running process, or when the write
// fails.
func Write(path string, pid int) error {
	if pid < 1 {
		return errors.Errorf("invalid PID (%d): only positive PIDs are allowed", pid)
	}
	oldPID, err := Read(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if oldPID != 0 {
		return errors.Errorf("process with PID %d is still running", oldPID)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// Remove deletes the PID file at path.
func Remove(path string) error {
	return os.Remove(path)
}
