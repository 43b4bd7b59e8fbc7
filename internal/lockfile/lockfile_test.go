package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLockAcquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir, ":8080")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(tempDir, LockFileName)
	if lock.Path() != lockPath {
		t.Errorf("expected lock path %s, got %s", lockPath, lock.Path())
	}
	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	owner := parseOwner(string(content))
	if owner.PID != os.Getpid() || owner.Addr != ":8080" || owner.Started.IsZero() {
		t.Errorf("unexpected owner info %+v from %q", owner, content)
	}
}

func TestLockConflict(t *testing.T) {
	tempDir := t.TempDir()

	lock1, err := AcquireLock(tempDir, ":8080")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(tempDir, ":9090")
	if err == nil {
		lock2.Release()
		t.Fatal("Second lock acquisition should have failed")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Owner.PID != os.Getpid() {
		t.Errorf("expected owner PID %d, got %d", os.Getpid(), lockErr.Owner.PID)
	}
	msg := err.Error()
	for _, want := range []string{"another TrialConsent instance", tempDir, "(running)", ":8080"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message should contain %q: %s", want, msg)
		}
	}

	// the failed attempt must not clobber the owner's information
	content, _ := os.ReadFile(filepath.Join(tempDir, LockFileName))
	if parseOwner(string(content)).Addr != ":8080" {
		t.Errorf("lock file overwritten by losing process: %q", content)
	}
}

func TestLockReleaseAndReacquire(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir, "")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, LockFileName)); !os.IsNotExist(err) {
		t.Error("Lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}

	lock2, err := AcquireLock(tempDir, "")
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer lock2.Release()
}

func TestParseOwner(t *testing.T) {
	started := time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)
	encoded := Owner{PID: 4242, Started: started, Addr: ":8080"}.encode()
	got := parseOwner(encoded)
	if got.PID != 4242 || !got.Started.Equal(started) || got.Addr != ":8080" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	tests := []struct {
		name    string
		content string
		pid     int
	}{
		{"pid with extra content", "pid=67890\nother=info", 67890},
		{"no pid", "other=info", 0},
		{"empty content", "", 0},
		{"invalid pid", "pid=abc", 0},
		{"no equals", "pid12345", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseOwner(tt.content).PID; got != tt.pid {
				t.Errorf("parseOwner(%q).PID = %d, want %d", tt.content, got, tt.pid)
			}
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Errorf("Our own process should be detected as running")
	}
}

func TestNonExistentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}
