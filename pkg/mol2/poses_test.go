package mol2

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poses.mol2")
	first := block("pose1")
	require.NoError(t, os.WriteFile(path, []byte(first+block("pose2")+block("pose3")), 0644))

	got, err := FirstEntry(path)
	require.NoError(t, err)
	assert.Equal(t, first, string(got))
}

func TestFirstEntryNoMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poses.mol2")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0644))

	_, err := FirstEntry(path)
	assert.Error(t, err)
}

func TestWriteBlockTerminatesWithNewline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBlock(&buf, []byte("@<TRIPOS>MOLECULE\nx")))
	assert.Equal(t, "@<TRIPOS>MOLECULE\nx\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteBlock(&buf, []byte("@<TRIPOS>MOLECULE\nx\n")))
	assert.Equal(t, "@<TRIPOS>MOLECULE\nx\n", buf.String())
}

func TestExpandLibraries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mol2", "a.mol2"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(block("x")), 0644))
	}

	t.Run("Glob", func(t *testing.T) {
		got, err := ExpandLibraries(filepath.Join(dir, "*.mol2"))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, filepath.Join(dir, "a.mol2"), got[0])
		assert.Equal(t, filepath.Join(dir, "b.mol2"), got[1])
	})

	t.Run("PlainPath", func(t *testing.T) {
		got, err := ExpandLibraries(filepath.Join(dir, "a.mol2"))
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "a.mol2")}, got)
	})

	t.Run("NoMatches", func(t *testing.T) {
		_, err := ExpandLibraries(filepath.Join(dir, "*.sdf"))
		assert.Error(t, err)
	})
}
