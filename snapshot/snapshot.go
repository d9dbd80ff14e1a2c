// Package snapshot implements the copy-on-write subvolume manager of
// spec section 4.4: make, snapshot-from-parent, seal read-only, and
// remove. A CoW-incapable fallback policy is out of scope for
// production (spec allows requiring a CoW-capable filesystem under the
// image root); a plain-directory implementation is provided only for
// tests, where btrfs is unavailable.
package snapshot

import "context"

// Manager is the copy-on-write subvolume contract the pull orchestrator
// and layerstore depend on.
type Manager interface {
	// Make creates a fresh, writable, empty subvolume at path. Parent
	// directories are created with mode 0700 as needed.
	Make(ctx context.Context, path string) error
	// Snapshot creates dst as a CoW clone of src. writable controls
	// whether dst accepts further writes.
	Snapshot(ctx context.Context, src, dst string, writable bool) error
	// SetReadOnly marks path (and everything under it) read-only.
	SetReadOnly(ctx context.Context, path string) error
	// Remove deletes path, tolerating partial creation and nested
	// subvolumes/read-only flags left over from an aborted download.
	Remove(ctx context.Context, path string) error
}
