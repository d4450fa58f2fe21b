package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `version: "1.0"
screen:
  protein: receptor.pdb
  library: "ligands/*.mol2"
  out: runs/p450
  heme_res_num: 600
  chain: A
  box:
    center: [10.0, 12.5, 8.0]
    size: [22.5, 22.5, 22.5]
docking:
  workers: 8
  timeout: 15m
  retry_failed: true
output:
  events: events.jsonl
`

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0644))

	m, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "receptor.pdb", m.Screen.Protein)
	assert.Equal(t, 600, m.Screen.HemeResNum)
	assert.Equal(t, "A", m.Screen.Chain)
	require.NotNil(t, m.Screen.Box)
	assert.Equal(t, []float64{10.0, 12.5, 8.0}, m.Screen.Box.Center)
	assert.Equal(t, 8, m.Docking.Workers)
	assert.True(t, m.Docking.RetryFailed)
	assert.Equal(t, "events.jsonl", m.Output.Events)

	d, err := m.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)
}

func TestLoadAppliesDefaults(t *testing.T) {
	minimal := `version: "1.0"
screen:
  protein: receptor.pdb
  library: ligands.mol2
  out: out
`
	m, err := LoadFromBytes([]byte(minimal), "screen.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, m.Docking.Workers)
	assert.Equal(t, DefaultTimeout, m.Docking.Timeout)
}

func TestLoadJSON(t *testing.T) {
	data := `{
  "version": "1.0",
  "screen": {"protein": "receptor.pdb", "library": "ligands.mol2", "out": "out"}
}`
	m, err := LoadFromBytes([]byte(data), "screen.json")
	require.NoError(t, err)
	assert.Equal(t, "ligands.mol2", m.Screen.Library)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	data := `version: "1.0"
screen:
  protein: receptor.pdb
  library: ligands.mol2
  out: out
  protien_typo: oops
`
	_, err := LoadFromBytes([]byte(data), "screen.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed), "unknown fields must fail validation: %v", err)
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	data := `version: "1.0"
screen:
  protein: receptor.pdb
`
	_, err := LoadFromBytes([]byte(data), "screen.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsBadBox(t *testing.T) {
	data := `version: "1.0"
screen:
  protein: receptor.pdb
  library: ligands.mol2
  out: out
  box:
    center: [1.0, 2.0]
`
	_, err := LoadFromBytes([]byte(data), "screen.yaml")
	assert.Error(t, err)
}

func TestCheckSemanticsChainRequiresHemeResNum(t *testing.T) {
	m := &Manifest{
		Version: "1.0",
		Screen:  ScreenConfig{Protein: "p.pdb", Library: "l.mol2", Out: "out", Chain: "A"},
	}
	m.ApplyDefaults()
	err := m.CheckSemantics()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heme_res_num")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadEmpty(t *testing.T) {
	_, err := LoadFromBytes(nil, "screen.yaml")
	assert.Error(t, err)
}
