// Package pid keeps a single daemon instance per host.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/domwatch/internal/errors"
)

const (
	pidFile = "domwatch.pid"
)

// Path is where the PID file lives.
func Path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write records the current process ID. It fails with ErrAlreadyRunning when
// the recorded process is still alive; a stale file is replaced.
func Write() error {
	errFactory := errors.New()
	path := Path()

	if running, ok := readPID(path); ok && alive(running) && running != os.Getpid() {
		return errFactory.WithData(errors.ErrAlreadyRunning, "pid "+strconv.Itoa(running))
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	return nil
}

// Remove deletes the PID file if it exists.
func Remove() error {
	if err := os.Remove(Path()); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
