// Package lockfile keeps two TrialConsent processes from sharing a state
// directory.
//
// The lock is an flock on a file in the directory, so the kernel drops it when
// the process exits, cleanly or not.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "trialconsent.lock"

// ErrLocked is wrapped by LockError; match it with errors.Is.
var ErrLocked = errors.New("state directory is locked by another process")

// Owner describes the process holding a lock, as written in the lock file.
type Owner struct {
	PID     int
	Started time.Time
	Addr    string
}

func (o Owner) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", o.PID)
	fmt.Fprintf(&b, "started=%s\n", o.Started.UTC().Format(time.RFC3339))
	if o.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", o.Addr)
	}
	return b.String()
}

// parseOwner reads key=value lines; unknown keys and bad values are skipped.
func parseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			if pid, err := strconv.Atoi(v); err == nil && pid > 0 {
				o.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				o.Started = t
			}
		case "addr":
			o.Addr = v
		}
	}
	return o
}

// Lock is an acquired state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the lock for stateDir, creating the directory if needed.
// addr is recorded for the error shown to a second instance.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	lockPath := filepath.Join(stateDir, LockFileName)

	// O_TRUNC is deferred until the lock is held so a loser never wipes the owner's info.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Cause: err}
		if data, rerr := os.ReadFile(lockPath); rerr == nil {
			lockErr.Owner = parseOwner(string(data))
		}
		slog.Error("lockfile.AcquireLock: state directory in use", "lock_path", lockPath, "owner_pid", lockErr.Owner.PID)
		return nil, lockErr
	}

	owner := Owner{PID: os.Getpid(), Started: time.Now(), Addr: addr}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	slog.Info("lockfile.AcquireLock: state directory locked", "lock_path", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(o.encode()), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile: failed to sync lock file", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	l.file = nil
	slog.Info("lockfile.Release: state directory unlocked", "lock_path", l.path)
	return errors.Join(errs...)
}

// LockError reports the process already holding the lock.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another TrialConsent instance is using this state directory (lock file %s)", e.LockPath)
	if e.Owner.PID > 0 {
		state := "not running, the lock is stale"
		if isProcessRunning(e.Owner.PID) {
			state = "running"
		}
		fmt.Fprintf(&b, "; held by PID %d (%s)", e.Owner.PID, state)
	}
	if e.Owner.Addr != "" {
		fmt.Fprintf(&b, ", serving %s", e.Owner.Addr)
	}
	if !e.Owner.Started.IsZero() {
		fmt.Fprintf(&b, ", since %s", e.Owner.Started.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, ". Stop that instance or choose another state directory; remove %s only if no instance is running", e.LockPath)
	return b.String()
}

func (e *LockError) Is(target error) bool {
	return target == ErrLocked
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// isProcessRunning sends signal 0, which only checks that pid exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
