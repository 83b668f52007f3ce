// Package daemon holds the process-level helpers of the long-running server:
// a PID file that refuses to start a second instance and a status dump
// triggered by SIGUSR1.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// PIDFile is a PID file owned by this process.
type PIDFile struct {
	path string
	pid  int
}

// CreatePIDFile writes the current PID to path. A file left by a process
// that is no longer running is replaced; a live one is a conflict.
func CreatePIDFile(path string) (*PIDFile, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return nil, errors.WrapConfigError(errors.CodeFilePermission, "failed to create PID file directory", err)
	}

	if err := checkExistingPID(path); err != nil {
		return nil, err
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return nil, errors.WrapConfigError(errors.CodeFilePermission, "failed to write PID file", err)
	}

	logging.Info("Created PID file", "path", path, "pid", pid)
	return &PIDFile{path: path, pid: pid}, nil
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Remove deletes the file if it still holds this process's PID.
func (p *PIDFile) Remove() error {
	pid, err := readPID(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != p.pid {
		return nil
	}
	return os.Remove(p.path)
}

// checkExistingPID fails if path names a running process.
func checkExistingPID(path string) error {
	pid, err := readPID(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Unreadable contents are treated as stale.
		logging.Warn("Removing invalid PID file", "path", path, "error", err)
		return removeStale(path)
	}

	if pid != os.Getpid() && isProcessRunning(pid) {
		return errors.NewConfigFieldError(errors.CodeConflict,
			fmt.Sprintf("server already running with PID %d", pid), "pid_file", path)
	}
	return removeStale(path)
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WrapConfigError(errors.CodeFilePermission, "failed to remove stale PID file", err)
	}
	return nil
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// StatusFunc returns key/value pairs describing the server.
type StatusFunc func() []any

// WatchStatusSignal logs a status dump each time the process receives
// SIGUSR1, until ctx is done.
func WatchStatusSignal(ctx context.Context, logger *logging.Logger, status StatusFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigChan:
				DumpStatus(logger, status)
			}
		}
	}()
}

// DumpStatus logs runtime statistics followed by the server's own status.
func DumpStatus(logger *logging.Logger, status StatusFunc) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fields := []any{
		"pid", os.Getpid(),
		"goroutines", runtime.NumGoroutine(),
		"alloc_kb", m.Alloc / 1024,
		"sys_kb", m.Sys / 1024,
		"num_gc", m.NumGC,
	}
	if status != nil {
		fields = append(fields, status()...)
	}
	logger.Info("Status dump", fields...)
}
