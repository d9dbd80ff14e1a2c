package layerstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/importd/dkrimport/dkrerr"
	"github.com/importd/dkrimport/snapshot"
)

type noopLocker struct{}

func (noopLocker) Lock(context.Context) error           { return nil }
func (noopLocker) Unlock(context.Context) error          { return nil }
func (noopLocker) TryLock(context.Context) (bool, error) { return true, nil }

func TestSealMovesTempToFinal(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	mgr := snapshot.NewPlain()
	store := New(root, mgr, noopLocker{})

	id := "deadbeef"
	temp := store.TempPath(id)
	assert.NilError(t, mgr.Make(ctx, temp))
	assert.NilError(t, os.WriteFile(filepath.Join(temp, "x"), []byte("y"), 0o644))

	assert.NilError(t, store.Seal(ctx, id, temp))
	assert.Assert(t, store.Exists(id))
	_, err := os.Stat(temp)
	assert.Assert(t, os.IsNotExist(err))
}

func TestSealConflictRemovesTempAndReportsConflict(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	mgr := snapshot.NewPlain()
	store := New(root, mgr, noopLocker{})

	id := "cafef00d"
	assert.NilError(t, mgr.Make(ctx, store.FinalPath(id)))

	temp := store.TempPath(id)
	assert.NilError(t, mgr.Make(ctx, temp))

	err := store.Seal(ctx, id, temp)
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ConflictError)
	_, statErr := os.Stat(temp)
	assert.Assert(t, os.IsNotExist(statErr))
}

func TestMaterializeRequiresForceToOverwrite(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	mgr := snapshot.NewPlain()
	store := New(root, mgr, noopLocker{})

	id := "feedface"
	final := store.FinalPath(id)
	assert.NilError(t, mgr.Make(ctx, final))
	assert.NilError(t, os.WriteFile(filepath.Join(final, "hello"), []byte("hi"), 0o644))

	dst := filepath.Join(root, "local")
	assert.NilError(t, store.Materialize(ctx, id, dst, false))
	data, err := os.ReadFile(filepath.Join(dst, "hello"))
	assert.NilError(t, err)
	assert.Equal(t, string(data), "hi")

	err = store.Materialize(ctx, id, dst, false)
	assert.Equal(t, dkrerr.CodeOf(err), dkrerr.ConflictError)

	assert.NilError(t, store.Materialize(ctx, id, dst, true))
}
