// Package storage is the local write target of a batch: a directory that
// transfers create subdirectories and files beneath.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/disk"

	"assetdl/internal/tree"
)

const LockFileName = ".assetdl.lock"

var (
	// ErrUnsupported means the destination cannot be used at all.
	ErrUnsupported = errors.New("destination storage unsupported")
	// ErrSelectionAborted means the user declined to pick a destination.
	ErrSelectionAborted = errors.New("destination selection aborted")
	// ErrReservedPath means a file would overwrite the destination lock.
	ErrReservedPath = errors.New("path reserved by the destination lock")
	// ErrInsufficientSpace means the destination volume cannot hold the batch.
	ErrInsufficientSpace = errors.New("insufficient free space")
)

// Destination is the capability a transfer needs from local storage. Paths
// are slash separated and relative to the destination root.
type Destination interface {
	MkdirAll(rel string) error
	Create(rel string) (io.WriteCloser, error)
}

// Dir is a Destination rooted at a local directory. While open it holds an
// advisory lock so two batches never write into the same root.
type Dir struct {
	root string
	lock *flock.Flock
}

// OpenDir creates root if needed and locks it.
func OpenDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrUnsupported, root, err)
	}

	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrUnsupported, abs, err)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: stat %s: %v", ErrUnsupported, abs, err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnsupported, abs)
	}

	lock := flock.New(filepath.Join(abs, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %v", ErrUnsupported, abs, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is in use by another download", ErrUnsupported, abs)
	}

	return &Dir{root: abs, lock: lock}, nil
}

func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) MkdirAll(rel string) error {
	if rel == "" || rel == "." {
		return nil
	}
	p, err := d.resolve(rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0o755)
}

// Create truncates or creates the file at rel.
func (d *Dir) Create(rel string) (io.WriteCloser, error) {
	p, err := d.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Create(p)
}

// Path returns the local path for rel.
func (d *Dir) Path(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

// Close releases the lock and removes the lock file.
func (d *Dir) Close() error {
	if err := d.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release destination lock: %w", err)
	}
	if err := os.Remove(d.lock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (d *Dir) resolve(rel string) (string, error) {
	if err := tree.CheckRelativePath(rel); err != nil {
		return "", err
	}
	if first, _, _ := strings.Cut(rel, "/"); first == LockFileName {
		return "", fmt.Errorf("%w: %s", ErrReservedPath, rel)
	}
	return d.Path(rel), nil
}

// FreeSpace reports the bytes available to unprivileged users on the volume
// holding the destination.
func (d *Dir) FreeSpace() (uint64, error) {
	usage, err := disk.Usage(d.root)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", d.root, err)
	}
	return usage.Free, nil
}

// EnsureSpace fails with ErrInsufficientSpace when fewer than need bytes are
// free. A volume whose usage cannot be read is not rejected.
func (d *Dir) EnsureSpace(need int64) error {
	free, err := d.FreeSpace()
	if err != nil || need <= 0 {
		return nil
	}
	if uint64(need) > free {
		return fmt.Errorf("%w: need %d bytes, %d available in %s", ErrInsufficientSpace, need, free, d.root)
	}
	return nil
}
