package whiteout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestResolveRemovesShadowedFile(t *testing.T) {
	dir := t.TempDir()
	before, err := Snapshot(dir)
	assert.NilError(t, err)

	assert.NilError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("a"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "gone.txt"), []byte("b"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, ".wh.gone.txt"), nil, 0o644))

	assert.NilError(t, Resolve(dir, before))

	_, err = os.Stat(filepath.Join(dir, "gone.txt"))
	assert.Assert(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, ".wh.gone.txt"))
	assert.Assert(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "keep.txt"))
	assert.NilError(t, err)
}

// TestResolveOpaqueDirectoryHidesInheritedEntries reproduces the real
// on-disk ordering: inherited.txt exists in the CoW snapshot before
// extraction (captured by Snapshot), then the layer's own tar stream
// writes own.txt with an old embedded mtime (tar preserves archive
// timestamps, so a layer's own new files are usually older than the
// extraction's wall-clock time, not newer) plus the opaque marker.
// own.txt must survive despite its stale mtime; inherited.txt must not.
func TestResolveOpaqueDirectoryHidesInheritedEntries(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	assert.NilError(t, os.MkdirAll(sub, 0o755))
	assert.NilError(t, os.WriteFile(filepath.Join(sub, "inherited.txt"), []byte("old"), 0o644))

	before, err := Snapshot(dir)
	assert.NilError(t, err)

	// This layer's own tar stream extracts own.txt with an mtime from
	// when the image was built, long before "now".
	ownPath := filepath.Join(sub, "own.txt")
	assert.NilError(t, os.WriteFile(ownPath, []byte("new"), 0o644))
	buildTime := time.Now().Add(-365 * 24 * time.Hour)
	assert.NilError(t, os.Chtimes(ownPath, buildTime, buildTime))
	assert.NilError(t, os.WriteFile(filepath.Join(sub, opaqueMarker), nil, 0o644))

	assert.NilError(t, Resolve(dir, before))

	_, err = os.Stat(filepath.Join(sub, "inherited.txt"))
	assert.Assert(t, os.IsNotExist(err))
	_, err = os.Stat(ownPath)
	assert.NilError(t, err)
	_, err = os.Stat(filepath.Join(sub, opaqueMarker))
	assert.Assert(t, os.IsNotExist(err))
}

func TestResolveNoMarkersIsNoop(t *testing.T) {
	dir := t.TempDir()
	before, err := Snapshot(dir)
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "plain.txt"), []byte("a"), 0o644))
	assert.NilError(t, Resolve(dir, before))
	_, err = os.Stat(filepath.Join(dir, "plain.txt"))
	assert.NilError(t, err)
}

// TestResolveOpaqueOnBaseLayerKeepsEverything covers the base-layer
// case (cursor 0, made fresh via Mgr.Make): Snapshot sees an empty
// directory, so applyOpaque has nothing inherited to remove even
// though the directory ends up marked opaque.
func TestResolveOpaqueOnBaseLayerKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	assert.NilError(t, os.MkdirAll(sub, 0o755))

	before, err := Snapshot(dir)
	assert.NilError(t, err)

	assert.NilError(t, os.WriteFile(filepath.Join(sub, "own.txt"), []byte("new"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(sub, opaqueMarker), nil, 0o644))

	assert.NilError(t, Resolve(dir, before))

	_, err = os.Stat(filepath.Join(sub, "own.txt"))
	assert.NilError(t, err)
}
