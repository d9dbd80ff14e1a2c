package extract

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func requireTar(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not available")
	}
}

func TestSpawnExtractsArchive(t *testing.T) {
	requireTar(t)
	dir := t.TempDir()

	child, err := Spawn(context.Background(), dir)
	assert.NilError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("hello layer")
	assert.NilError(t, tw.WriteHeader(&tar.Header{Name: "hello.txt", Mode: 0o644, Size: int64(len(content))}))
	_, err = tw.Write(content)
	assert.NilError(t, err)
	assert.NilError(t, tw.Close())

	_, err = child.Sink().Write(buf.Bytes())
	assert.NilError(t, err)

	assert.NilError(t, child.Finish())

	got, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	assert.NilError(t, err)
	assert.Equal(t, string(got), "hello layer")
}

func TestKillIsSafeAfterSpawn(t *testing.T) {
	requireTar(t)
	dir := t.TempDir()

	child, err := Spawn(context.Background(), dir)
	assert.NilError(t, err)
	child.Kill()
}

func TestFinishRejectsBadArchive(t *testing.T) {
	requireTar(t)
	dir := t.TempDir()

	child, err := Spawn(context.Background(), dir)
	assert.NilError(t, err)

	_, err = child.Sink().Write([]byte("not a tar stream"))
	assert.NilError(t, err)

	err = child.Finish()
	assert.ErrorContains(t, err, "")
}
