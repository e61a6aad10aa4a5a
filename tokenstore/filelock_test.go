package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFileLock_BasicAcquireRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")

	lock, err := defaultLockPolicy.acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if _, err := os.Stat(target + ".lock"); os.IsNotExist(err) {
		t.Errorf("Lock file was not created")
	}

	if err := lock.release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(target + ".lock"); !os.IsNotExist(err) {
		t.Errorf("Lock file was not removed after release")
	}
}

func TestFileLock_ConcurrentAccess(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")

	const goroutines = 8
	const iterations = 4

	var (
		holders atomic.Int32
		done    atomic.Int32
		wg      sync.WaitGroup
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				lock, err := defaultLockPolicy.acquire(context.Background(), target)
				if err != nil {
					t.Errorf("goroutine %d: acquire: %v", id, err)
					return
				}
				if n := holders.Add(1); n != 1 {
					t.Errorf("goroutine %d: %d concurrent holders", id, n)
				}
				time.Sleep(5 * time.Millisecond)
				holders.Add(-1)
				done.Add(1)
				if err := lock.release(); err != nil {
					t.Errorf("goroutine %d: release: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got, want := done.Load(), int32(goroutines*iterations); got != want {
		t.Errorf("Expected %d successful operations, got %d", want, got)
	}
}

func TestFileLock_StaleLockIsBroken(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")
	lockPath := target + ".lock"

	stale, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("Failed to create stale lock: %v", err)
	}
	stale.Close()

	old := time.Now().Add(-35 * time.Second)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("Failed to age lock: %v", err)
	}

	lock, err := defaultLockPolicy.acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Failed to acquire lock after stale lock: %v", err)
	}
	defer lock.release()
}

func TestFileLock_Timeout(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")

	held, err := defaultLockPolicy.acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer held.release()

	quick := lockPolicy{wait: 50 * time.Millisecond, poll: 10 * time.Millisecond, stale: time.Minute}
	start := time.Now()
	_, err = quick.acquire(context.Background(), target)
	if !errors.Is(err, errLockTimeout) {
		t.Fatalf("Expected errLockTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Gave up too early: %v", elapsed)
	}
}

func TestFileLock_ContextCancelled(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")

	held, err := defaultLockPolicy.acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer held.release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = defaultLockPolicy.acquire(ctx, target)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Kept waiting after the context ended: %v", elapsed)
	}
}

func TestFileLock_RecordsOwner(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")

	lock, err := defaultLockPolicy.acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.release()

	data, err := os.ReadFile(target + ".lock")
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	if got, want := string(data), strconv.Itoa(os.Getpid()); got != want {
		t.Errorf("Lock owner = %q, want %q", got, want)
	}
}

func TestFileLock_DoubleRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "tokens.json")

	lock, err := defaultLockPolicy.acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.release(); err != nil {
		t.Errorf("First release failed: %v", err)
	}
	if err := lock.release(); err == nil {
		t.Errorf("Second release should report the missing lock file")
	}
}
