package os

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Flock struct {
	f *flock.Flock
}

// NewFileLock creates the lock file when needed.
// An empty path defaults to a lock in the system temp directory.
func NewFileLock(path string) (*Flock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "savehub.lock")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	return &Flock{f: flock.New(path)}, nil
}

// TryLock attempts to take the lock without blocking.
// It reports false when another process holds it.
func (f *Flock) TryLock() (bool, error) { return f.f.TryLock() }

func (f *Flock) Lock() error   { return f.f.Lock() }
func (f *Flock) Unlock() error { return f.f.Unlock() }
