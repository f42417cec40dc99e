package lock

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}

	// A second acquire on a separate descriptor must fail and report us.
	var held *LockHeldError
	if _, err := Acquire(dir); !errors.As(err, &held) {
		t.Fatalf("second acquire err = %v, want LockHeldError", err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("held PID = %d, want %d", held.PID, os.Getpid())
	}
	if held.Since.IsZero() {
		t.Error("held Since should carry the acquisition time")
	}
	if !strings.Contains(held.Error(), "since") {
		t.Errorf("error message = %q, want acquisition time included", held.Error())
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}

	// After release the lock is free again.
	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil release = %v, want nil", err)
	}
}
