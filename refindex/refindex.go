// Package refindex tracks the mapping from repository:tag references to
// resolved image ids, the bit of bookkeeping spec section 6's pull()
// entry point needs so that `list`/`inspect`/`rm` can work with names
// instead of bare 64-character hex ids. It is new surface the v1
// protocol itself has no opinion on; it is built the way the teacher
// tracks pulled images (storage/json's generic flock-protected JSON
// store), not hand-rolled.
package refindex

import (
	"context"
	"time"

	storejson "github.com/importd/dkrimport/storage/json"
)

// Entry records one successfully resolved and pulled reference.
type Entry struct {
	ImageID   string    `json:"image_id"`
	CreatedAt time.Time `json:"created_at"`
}

// index is the top-level structure of the ref index file.
type index struct {
	Refs map[string]Entry `json:"refs"`
}

// Init implements storage.Initer.
func (idx *index) Init() {
	if idx.Refs == nil {
		idx.Refs = make(map[string]Entry)
	}
}

// Store is a ref index rooted at a lock file and data file pair.
type Store struct {
	js *storejson.Store[index]
}

// New returns a Store backed by lockPath/filePath.
func New(lockPath, filePath string) *Store {
	return &Store{js: storejson.New[index](lockPath, filePath)}
}

func key(name, tag string) string { return name + ":" + tag }

// Record associates name:tag with imageID, overwriting any prior
// mapping (re-pulling a tag moves it to a new image id, same as the
// registry itself allows tags to move).
func (s *Store) Record(ctx context.Context, name, tag, imageID string, createdAt time.Time) error {
	return s.js.Update(ctx, func(idx *index) error {
		idx.Refs[key(name, tag)] = Entry{ImageID: imageID, CreatedAt: createdAt}
		return nil
	})
}

// Lookup resolves ref, trying it first as a "name:tag"/"name" key and
// falling back to a scan by image id, so `inspect <id>` and
// `inspect name:tag` both work.
func (s *Store) Lookup(ctx context.Context, ref string) (string, Entry, bool, error) {
	var foundKey string
	var entry Entry
	var ok bool
	err := s.js.With(ctx, func(idx *index) error {
		if e, present := idx.Refs[ref]; present {
			foundKey, entry, ok = ref, e, true
			return nil
		}
		if e, present := idx.Refs[key(ref, "latest")]; present {
			foundKey, entry, ok = key(ref, "latest"), e, true
			return nil
		}
		for k, e := range idx.Refs {
			if e.ImageID == ref {
				foundKey, entry, ok = k, e, true
				return nil
			}
		}
		return nil
	})
	return foundKey, entry, ok, err
}

// List returns every tracked ref, keyed by "name:tag".
func (s *Store) List(ctx context.Context) (map[string]Entry, error) {
	out := make(map[string]Entry)
	err := s.js.With(ctx, func(idx *index) error {
		for k, e := range idx.Refs {
			out[k] = e
		}
		return nil
	})
	return out, err
}

// Delete removes refs by the same key accepted by Lookup, returning
// the ref keys actually removed.
func (s *Store) Delete(ctx context.Context, refs []string) ([]string, error) {
	var deleted []string
	err := s.js.Update(ctx, func(idx *index) error {
		for _, ref := range refs {
			k := ref
			if _, present := idx.Refs[k]; !present {
				k = key(ref, "latest")
			}
			if _, present := idx.Refs[k]; !present {
				for candidate, e := range idx.Refs {
					if e.ImageID == ref {
						k = candidate
						break
					}
				}
			}
			if _, present := idx.Refs[k]; present {
				delete(idx.Refs, k)
				deleted = append(deleted, k)
			}
		}
		return nil
	})
	return deleted, err
}
