package snapshot

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/importd/dkrimport/dkrerr"
)

// plainManager is a non-CoW directory-tree stand-in for Manager, used
// only by tests where btrfs isn't available. Snapshot is an honest deep
// copy rather than O(1) CoW, which is fine for the small fixture trees
// tests build but would be wrong for production (spec section 4.4
// explicitly scopes a CoW-less fallback out).
type plainManager struct{}

// NewPlain returns a test-only Manager backed by plain directories.
func NewPlain() Manager { return plainManager{} }

func (plainManager) Make(_ context.Context, path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return dkrerr.Wrap(dkrerr.IoError, "snapshot.Make", err)
	}
	return nil
}

func (plainManager) Snapshot(_ context.Context, src, dst string, _ bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return dkrerr.Wrap(dkrerr.IoError, "snapshot.Snapshot", err)
	}
	if err := copyTree(src, dst); err != nil {
		return dkrerr.Wrap(dkrerr.IoError, "snapshot.Snapshot", err)
	}
	return nil
}

func (plainManager) SetReadOnly(_ context.Context, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		mode := os.FileMode(0o555)
		if !d.IsDir() {
			mode = 0o444
		}
		return os.Chmod(p, mode)
	})
}

// Remove tolerates read-only subtrees left over from a sealed snapshot
// or an aborted download: it restores write permission top-down before
// recursively removing, the same "dangerous recursive removal" contract
// spec section 9 calls for.
func (plainManager) Remove(_ context.Context, path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort permission restore
		}
		mode := os.FileMode(0o755)
		if !d.IsDir() {
			mode = 0o644
		}
		_ = os.Chmod(p, mode)
		return nil
	})
	if err := os.RemoveAll(path); err != nil {
		return dkrerr.Wrap(dkrerr.IoError, "snapshot.Remove", err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	_, err = io.Copy(out, in)
	return err
}
