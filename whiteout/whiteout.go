// Package whiteout resolves AUFS-style whiteout markers left by tar
// extraction of a layer diff, per spec section 4.5's post-extraction
// step: a `.wh.foo` entry deletes `foo` from the lower layers, and a
// `.wh..wh..opq` entry marks its containing directory opaque (lower
// layers' contents of that directory are hidden, not merged).
package whiteout

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/importd/dkrimport/dkrerr"
)

const (
	prefix       = ".wh."
	opaqueMarker = ".wh..wh..opq"
)

// Inherited records, per directory (relative to the snapshot root),
// the entry names that already existed before the layer's tar stream
// was applied. Snapshot builds one from a freshly made CoW snapshot;
// Resolve consults it to tell an opaque directory's inherited entries
// apart from entries this layer's own tar stream wrote.
//
// This is deliberately not based on file mtime: `tar -x` preserves the
// archive's embedded timestamps, so a layer's own newly added files
// carry whatever mtime the image was built with, almost always older
// than any extraction-time cutoff taken on the importing host — a
// wall-clock comparison would delete the layer's own content, not just
// what it inherited.
type Inherited map[string]map[string]bool

// Snapshot records dir's current directory entries, keyed by path
// relative to dir. Call this right after the layer's destination is
// snapshotted/created and before its tar stream is extracted into it.
func Snapshot(dir string) (Inherited, error) {
	state := make(Inherited)
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return err
		}
		names := make(map[string]bool, len(entries))
		for _, e := range entries {
			names[e.Name()] = true
		}
		state[rel] = names
		return nil
	})
	if err != nil {
		return nil, dkrerr.Wrap(dkrerr.ExtractionError, "whiteout.Snapshot", err)
	}
	return state, nil
}

// Resolve walks dir and applies whiteout semantics in place. before is
// the Inherited set Snapshot captured for dir prior to extraction.
func Resolve(dir string, before Inherited) error {
	var markers []string
	var opaqueDirs []string

	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		if name == opaqueMarker {
			opaqueDirs = append(opaqueDirs, filepath.Dir(p))
		} else {
			markers = append(markers, p)
		}
		return nil
	})
	if err != nil {
		return dkrerr.Wrap(dkrerr.ExtractionError, "whiteout.Resolve", err)
	}

	for _, dirPath := range opaqueDirs {
		rel, err := filepath.Rel(dir, dirPath)
		if err != nil {
			return dkrerr.Wrap(dkrerr.ExtractionError, "whiteout.Resolve", err)
		}
		if err := applyOpaque(dirPath, before[rel]); err != nil {
			return dkrerr.Wrap(dkrerr.ExtractionError, "whiteout.Resolve", err)
		}
	}

	for _, marker := range markers {
		target := filepath.Join(filepath.Dir(marker), strings.TrimPrefix(filepath.Base(marker), prefix))
		if err := os.RemoveAll(target); err != nil {
			return dkrerr.Wrap(dkrerr.ExtractionError, "whiteout.Resolve", err)
		}
		if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
			return dkrerr.Wrap(dkrerr.ExtractionError, "whiteout.Resolve", err)
		}
	}
	return nil
}

// applyOpaque removes dirPath's inherited entries: the ones present in
// inheritedNames (captured before this layer's tar stream ran), which
// this layer's own stream therefore did not write.
func applyOpaque(dirPath string, inheritedNames map[string]bool) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if name == opaqueMarker || strings.HasPrefix(name, prefix) {
			continue
		}
		if inheritedNames[name] {
			if err := os.RemoveAll(filepath.Join(dirPath, name)); err != nil {
				return err
			}
		}
	}
	return os.Remove(filepath.Join(dirPath, opaqueMarker))
}
