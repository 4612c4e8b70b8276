package corestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openLockFile(t *testing.T, path string) *fileLock {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open lock file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return &fileLock{f: f}
}

func TestFileLockExclusiveBlocksExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.lock")
	l1 := openLockFile(t, path)
	l2 := openLockFile(t, path)

	if err := l1.Lock(LockExclusive); err != nil {
		t.Fatalf("l1 lock: %v", err)
	}

	done := make(chan struct{})
	go func() {
		if err := l2.Lock(LockExclusive); err != nil {
			t.Errorf("l2 lock: %v", err)
		}
		l2.Unlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("l2 acquired exclusive lock while l1 held it")
	case <-time.After(100 * time.Millisecond):
	}

	l1.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("l2 never acquired lock after l1 released it")
	}
}

func TestFileLockSharedAllowsShared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.lock")
	l1 := openLockFile(t, path)
	l2 := openLockFile(t, path)

	if err := l1.Lock(LockShared); err != nil {
		t.Fatalf("l1 lock: %v", err)
	}
	defer l1.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- l2.Lock(LockShared)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("l2 shared lock failed: %v", err)
		}
		l2.Unlock()
	case <-time.After(time.Second):
		t.Fatal("l2 failed to acquire shared lock concurrently with l1")
	}
}

func TestFileLockSharedBlocksExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.lock")
	l1 := openLockFile(t, path)
	l2 := openLockFile(t, path)

	if err := l1.Lock(LockShared); err != nil {
		t.Fatalf("l1 lock: %v", err)
	}

	done := make(chan struct{})
	go func() {
		l2.Lock(LockExclusive)
		l2.Unlock()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("l2 acquired exclusive lock while l1 held shared lock")
	case <-time.After(100 * time.Millisecond):
	}

	l1.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("l2 stuck waiting on exclusive lock")
	}
}

func TestFileLockSetFileNilIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.lock")
	l := openLockFile(t, path)
	l.setFile(nil)

	if err := l.Lock(LockExclusive); err != nil {
		t.Fatalf("Lock on cleared fileLock should no-op, got: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock on cleared fileLock should no-op, got: %v", err)
	}
}
