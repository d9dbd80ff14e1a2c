package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestPlainManagerMakeSnapshotSealRemove(t *testing.T) {
	ctx := context.Background()
	mgr := NewPlain()
	root := t.TempDir()

	base := filepath.Join(root, "base")
	assert.NilError(t, mgr.Make(ctx, base))
	assert.NilError(t, os.WriteFile(filepath.Join(base, "hello"), []byte("hi"), 0o644))

	clone := filepath.Join(root, "clone")
	assert.NilError(t, mgr.Snapshot(ctx, base, clone, true))
	data, err := os.ReadFile(filepath.Join(clone, "hello"))
	assert.NilError(t, err)
	assert.Equal(t, string(data), "hi")

	assert.NilError(t, mgr.SetReadOnly(ctx, clone))
	info, err := os.Stat(clone)
	assert.NilError(t, err)
	assert.Equal(t, info.Mode().Perm(), os.FileMode(0o555))

	assert.NilError(t, mgr.Remove(ctx, clone))
	_, err = os.Stat(clone)
	assert.Assert(t, os.IsNotExist(err))
}

func TestPlainManagerRemoveToleratesMissing(t *testing.T) {
	mgr := NewPlain()
	assert.NilError(t, mgr.Remove(context.Background(), filepath.Join(t.TempDir(), "nope")))
}
