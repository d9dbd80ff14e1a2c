package refindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "refs.lock"), filepath.Join(dir, "refs.json"))
}

func TestRecordAndLookupByNameTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	assert.NilError(t, s.Record(ctx, "library/test", "latest", "abc123", now))

	key, entry, ok, err := s.Lookup(ctx, "library/test:latest")
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, key, "library/test:latest")
	assert.Equal(t, entry.ImageID, "abc123")
}

func TestLookupFallsBackToLatestThenImageID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	assert.NilError(t, s.Record(ctx, "library/test", "latest", "abc123", now))

	_, entry, ok, err := s.Lookup(ctx, "library/test")
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, entry.ImageID, "abc123")

	key, _, ok, err := s.Lookup(ctx, "abc123")
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.Equal(t, key, "library/test:latest")
}

func TestListAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	assert.NilError(t, s.Record(ctx, "library/test", "latest", "abc123", now))
	assert.NilError(t, s.Record(ctx, "library/other", "v1", "def456", now))

	all, err := s.List(ctx)
	assert.NilError(t, err)
	assert.Equal(t, len(all), 2)

	deleted, err := s.Delete(ctx, []string{"library/test:latest", "nope:latest"})
	assert.NilError(t, err)
	assert.DeepEqual(t, deleted, []string{"library/test:latest"})

	all, err = s.List(ctx)
	assert.NilError(t, err)
	assert.Equal(t, len(all), 1)
}
