// Package layerstore implements the content-addressed layer directory
// of spec section 4.4/4.7: `.dkr-{id}` sealed read-only layers under a
// root directory, with a uuid-suffixed temp path per in-flight layer
// job and an atomic rename to seal.
package layerstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/importd/dkrimport/dkrerr"
	"github.com/importd/dkrimport/lock"
	"github.com/importd/dkrimport/snapshot"
	"github.com/importd/dkrimport/utils"
)

const finalPrefix = ".dkr-"

// Store is the on-disk layer cache rooted at Root, guarded by a Locker
// shared across concurrent pulls on the same host.
type Store struct {
	Root    string
	Mgr     snapshot.Manager
	Locker  lock.Locker
}

// New returns a Store rooted at root.
func New(root string, mgr snapshot.Manager, locker lock.Locker) *Store {
	return &Store{Root: root, Mgr: mgr, Locker: locker}
}

// FinalPath is the sealed, content-addressed path for a layer id.
func (s *Store) FinalPath(id string) string {
	return filepath.Join(s.Root, finalPrefix+id)
}

// TempPath returns a fresh, uuid-suffixed scratch path for id, never
// colliding with a concurrent job downloading the same layer.
func (s *Store) TempPath(id string) string {
	return s.FinalPath(id) + "." + uuid.NewString()
}

// Exists reports whether id is already sealed in the store.
func (s *Store) Exists(id string) bool {
	info, err := os.Stat(s.FinalPath(id))
	return err == nil && info.IsDir()
}

// Seal marks tempPath read-only and renames it into its final,
// content-addressed location. If the final path already exists
// (a concurrent job won the race), tempPath is removed and
// ConflictError is returned — per spec section 4.3, the caller's
// download loop treats this as a successful continuation rather than
// an abort.
func (s *Store) Seal(ctx context.Context, id, tempPath string) error {
	if err := s.Locker.Lock(ctx); err != nil {
		return dkrerr.Wrap(dkrerr.ResourceError, "layerstore.Seal", err)
	}
	defer s.Locker.Unlock(ctx) //nolint:errcheck

	final := s.FinalPath(id)
	if _, err := os.Stat(final); err == nil {
		_ = s.Mgr.Remove(ctx, tempPath)
		return dkrerr.New(dkrerr.ConflictError, "layerstore.Seal", fmt.Errorf("layer already sealed: %s", id))
	}

	if err := s.Mgr.SetReadOnly(ctx, tempPath); err != nil {
		return err
	}
	if err := os.Rename(tempPath, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			_ = s.Mgr.Remove(ctx, tempPath)
			return dkrerr.New(dkrerr.ConflictError, "layerstore.Seal", fmt.Errorf("layer already sealed: %s", id))
		}
		return dkrerr.Wrap(dkrerr.IoError, "layerstore.Seal", err)
	}
	return nil
}

// ReadMetadata returns the raw image json sidecar persisted next to
// imageID's sealed layer by pull.runFinalize.
func (s *Store) ReadMetadata(imageID string) ([]byte, error) {
	data, err := os.ReadFile(s.FinalPath(imageID) + ".json")
	if err != nil {
		return nil, dkrerr.Wrap(dkrerr.IoError, "layerstore.ReadMetadata", err)
	}
	return data, nil
}

// Size sums the apparent size of every regular file under imageID's
// sealed directory. Used by `list` to report image size; CoW sharing
// between layers means this overstates actual disk usage.
func (s *Store) Size(imageID string) (int64, error) {
	var total int64
	err := filepath.WalkDir(s.FinalPath(imageID), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, dkrerr.Wrap(dkrerr.IoError, "layerstore.Size", err)
	}
	return total, nil
}

// Delete removes imageID's sealed layer directory and its json
// sidecar. Other images sharing ancestor layers are unaffected: each
// sealed `.dkr-{id}` directory is independent once sealed.
func (s *Store) Delete(ctx context.Context, imageID string) error {
	if err := s.Mgr.Remove(ctx, s.FinalPath(imageID)); err != nil {
		return err
	}
	if err := os.Remove(s.FinalPath(imageID) + ".json"); err != nil && !os.IsNotExist(err) {
		return dkrerr.Wrap(dkrerr.IoError, "layerstore.Delete", err)
	}
	return nil
}

// Materialize creates a writable working copy of image root imageID at
// dst. If dst already exists, force must be set or ConflictError is
// returned.
func (s *Store) Materialize(ctx context.Context, imageID, dst string, force bool) error {
	if _, err := os.Stat(dst); err == nil {
		if !force {
			return dkrerr.New(dkrerr.ConflictError, "layerstore.Materialize", fmt.Errorf("destination already exists: %s", dst))
		}
		if err := s.Mgr.Remove(ctx, dst); err != nil {
			return err
		}
	}
	if err := utils.EnsureDirs(filepath.Dir(dst)); err != nil {
		return dkrerr.Wrap(dkrerr.IoError, "layerstore.Materialize", err)
	}
	src := s.FinalPath(imageID)
	if err := s.Mgr.Snapshot(ctx, src, dst, true); err != nil {
		return err
	}
	return nil
}
