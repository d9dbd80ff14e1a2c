package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/importd/dkrimport/dkrerr"
)

// btrfsManager shells out to the btrfs(8) CLI, grounded on the
// teacher's own pattern of driving an external conversion tool
// (images/oci/pull.go's startErofsConversion) rather than linking a
// filesystem ioctl library.
type btrfsManager struct{}

// NewBtrfs returns the production Manager.
func NewBtrfs() Manager { return btrfsManager{} }

func (btrfsManager) Make(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return dkrerr.Wrap(dkrerr.IoError, "snapshot.Make", err)
	}
	return run(ctx, "snapshot.Make", "btrfs", "subvolume", "create", path)
}

func (btrfsManager) Snapshot(ctx context.Context, src, dst string, writable bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return dkrerr.Wrap(dkrerr.IoError, "snapshot.Snapshot", err)
	}
	args := []string{"subvolume", "snapshot"}
	if !writable {
		args = append(args, "-r")
	}
	args = append(args, src, dst)
	return run(ctx, "snapshot.Snapshot", "btrfs", args...)
}

func (btrfsManager) SetReadOnly(ctx context.Context, path string) error {
	return run(ctx, "snapshot.SetReadOnly", "btrfs", "property", "set", "-ts", path, "ro", "true")
}

func (btrfsManager) Remove(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	// Best-effort: drop read-only before delete, tolerate failure (path
	// may never have been sealed).
	_ = run(ctx, "snapshot.Remove", "btrfs", "property", "set", "-ts", path, "ro", "false")
	if err := run(ctx, "snapshot.Remove", "btrfs", "subvolume", "delete", path); err != nil {
		// Partial creation (no subvolume was ever committed at path,
		// e.g. MkdirAll ran but subvolume create failed) — fall back to
		// a plain recursive removal.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return dkrerr.Wrap(dkrerr.IoError, "snapshot.Remove", rmErr)
		}
		return nil
	}
	return nil
}

func run(ctx context.Context, op, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return dkrerr.Wrap(dkrerr.IoError, op, fmt.Errorf("%s %v: %w (%s)", name, args, err, bytes.TrimSpace(out.Bytes())))
	}
	return nil
}
