package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// errLockTimeout is returned when another process keeps the token file
// locked for longer than lockPolicy.wait.
var errLockTimeout = errors.New("timed out waiting for token file lock")

// lockPolicy controls how a writer waits for the sibling ".lock" file.
type lockPolicy struct {
	wait  time.Duration
	poll  time.Duration
	stale time.Duration
}

var defaultLockPolicy = lockPolicy{
	wait:  5 * time.Second,
	poll:  100 * time.Millisecond,
	stale: 30 * time.Second,
}

type fileLock struct {
	path string
}

// acquire takes the lock guarding target. Locks left behind by crashed
// processes are broken once they are older than p.stale.
func (p lockPolicy) acquire(ctx context.Context, target string) (*fileLock, error) {
	path := target + ".lock"
	deadline := time.Now().Add(p.wait)

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		ok, err := createLockFile(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return &fileLock{path: path}, nil
		}

		broken, err := p.breakStale(path)
		if err != nil {
			return nil, err
		}
		if broken {
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %v", errLockTimeout, p.wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// createLockFile reports false when another holder owns path. The file
// carries the owner's pid.
func createLockFile(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("failed to write lock file: %w", werr)
	}
	return true, nil
}

// breakStale reports true when path is gone, either released by its holder
// or removed here for being stale.
func (p lockPolicy) breakStale(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist), nil
	}
	if time.Since(info.ModTime()) <= p.stale {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to remove stale lock file %s: %w", path, err)
	}
	return true, nil
}

func (l *fileLock) release() error {
	return os.Remove(l.path)
}
