package curate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeWorkDir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.stdout.log"), []byte("log\n"), 0644))
	return dir
}

func TestCurateRemovesWorkDir(t *testing.T) {
	root := t.TempDir()
	dir := makeWorkDir(t, root, "lig1")

	c := New(false, nil)
	require.NoError(t, c.Curate(dir))
	assert.NoDirExists(t, dir)
}

func TestCurateKeepTemp(t *testing.T) {
	root := t.TempDir()
	dir := makeWorkDir(t, root, "lig1")

	c := New(true, nil)
	assert.True(t, c.KeepTemp())
	require.NoError(t, c.Curate(dir))
	assert.DirExists(t, dir)
	assert.FileExists(t, filepath.Join(dir, "engine.stdout.log"))
}

func TestCurateMissingDirIsNotAnError(t *testing.T) {
	c := New(false, nil)
	assert.NoError(t, c.Curate(filepath.Join(t.TempDir(), "gone")))
}

func TestSweep(t *testing.T) {
	root := t.TempDir()
	makeWorkDir(t, root, "lig1")
	makeWorkDir(t, root, "lig2")
	makeWorkDir(t, root, "lig3")
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), nil, 0644))

	removed, err := Sweep(root, func(id string) bool { return id != "lig2" })
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoDirExists(t, filepath.Join(root, "lig1"))
	assert.DirExists(t, filepath.Join(root, "lig2"))
	assert.FileExists(t, filepath.Join(root, "stray.txt"))
}

func TestSweepMissingRoot(t *testing.T) {
	removed, err := Sweep(filepath.Join(t.TempDir(), "absent"), func(string) bool { return true })
	require.NoError(t, err)
	assert.Zero(t, removed)
}
