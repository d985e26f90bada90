package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePID records the current process ID for status and stop commands.
func WritePID(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePID deletes the PID file; a missing file is not an error.
func RemovePID(path string) {
	_ = os.Remove(path)
}

// ReadPID returns the recorded PID, or 0 when no file exists.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	return pid, nil
}

// Alive reports whether a process with the PID exists. Signal 0 probes
// without delivering anything.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Stop sends SIGTERM to the recorded process. The caller decides how
// long to wait before escalating to SIGKILL.
func Stop(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// Kill force-terminates the recorded process.
func Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
