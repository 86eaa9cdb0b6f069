package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// dirLock holds an advisory exclusive lock on data_dir, acquired via a
// sentinel LOCK file. Concurrent opens of the same directory fail fast
// instead of corrupting a shared WAL/manifest.
type dirLock struct {
	f *os.File
}

func acquireDirLock(dataDir string) (*dirLock, error) {
	path := filepath.Join(dataDir, "LOCK")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: directory %s is locked by another instance: %w", dataDir, err)
	}
	return &dirLock{f: f}, nil
}

func (l *dirLock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("storage: unlock: %w", err)
	}
	return l.f.Close()
}
