package hemegeom

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		dist float64
		want Class
	}{
		{0.0, ClassCoordinating},
		{2.1, ClassCoordinating},
		{2.8, ClassCoordinating}, // boundary is inclusive
		{2.8000001, ClassProximal},
		{4.999, ClassProximal},
		{5.0, ClassProximal}, // boundary is inclusive
		{5.0000001, ClassDistal},
		{12.0, ClassDistal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.dist), "distance %v", tc.dist)
	}
}

func TestClassifyPosePicksClosestHeavyAtom(t *testing.T) {
	fe := Atom{Name: "FE", Element: "Fe"}
	ligand := []Atom{
		{Name: "H1", Element: "H", X: 0.5},     // closer, but hydrogen
		{Name: "N1", Element: "N", X: 2.0},     // closest heavy atom
		{Name: "C1", Element: "C", X: 4.0},
		{Name: "O1", Element: "O", X: 7.5},
	}

	rep, ok := ClassifyPose(ligand, fe)
	require.True(t, ok)
	assert.Equal(t, "N1", rep.ClosestAtom)
	assert.InDelta(t, 2.0, rep.MinDistance, 1e-9)
	assert.Equal(t, ClassCoordinating, rep.Class)
}

func TestClassifyPoseNoHeavyAtoms(t *testing.T) {
	_, ok := ClassifyPose([]Atom{{Name: "H1", Element: "H"}}, Atom{})
	assert.False(t, ok)
}

func TestDistance(t *testing.T) {
	a := Atom{X: 1, Y: 2, Z: 3}
	b := Atom{X: 4, Y: 6, Z: 3}
	assert.InDelta(t, 5.0, Distance(a, b), 1e-9)
}

const poseMol2 = `@<TRIPOS>MOLECULE
lig
 3 2 0 0 0
SMALL
USER_CHARGES
@<TRIPOS>ATOM
      1 N1    1.0000    0.0000    0.0000 N.ar    1 LIG  -0.30
      2 C2    3.0000    0.0000    0.0000 C.3     1 LIG   0.05
      3 H3    0.5000    0.0000    0.0000 H       1 LIG   0.10
@<TRIPOS>BOND
     1    1    2 1
`

func TestParseMol2Atoms(t *testing.T) {
	atoms, err := ParseMol2Atoms(strings.NewReader(poseMol2))
	require.NoError(t, err)
	require.Len(t, atoms, 3)
	assert.Equal(t, "N1", atoms[0].Name)
	assert.Equal(t, "N", atoms[0].Element)
	assert.Equal(t, "H", atoms[2].Element)
	assert.InDelta(t, 3.0, atoms[1].X, 1e-9)
}

func TestFindIron(t *testing.T) {
	pdb := strings.Join([]string{
		"ATOM      1  CA  ALA A 100      10.000  10.000  10.000  1.00  0.00           C",
		"HETATM  900 FE   HEM A 600       1.500   2.500   3.500  1.00  0.00          FE",
		"END",
	}, "\n") + "\n"

	path := filepath.Join(t.TempDir(), "protein.pdb")
	require.NoError(t, os.WriteFile(path, []byte(pdb), 0644))

	fe, err := FindIron(path)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, fe.X, 1e-9)
	assert.InDelta(t, 2.5, fe.Y, 1e-9)
	assert.InDelta(t, 3.5, fe.Z, 1e-9)
}

func TestFindIronMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protein.pdb")
	require.NoError(t, os.WriteFile(path, []byte("ATOM      1  CA  ALA A 100      10.000  10.000  10.000  1.00  0.00           C\n"), 0644))

	_, err := FindIron(path)
	assert.Error(t, err)
}

func TestClassifyPoseFile(t *testing.T) {
	dir := t.TempDir()
	posePath := filepath.Join(dir, "pose.mol2")
	require.NoError(t, os.WriteFile(posePath, []byte(poseMol2), 0644))

	pdb := "HETATM  900 FE   HEM A 600       0.000   0.000   0.000  1.00  0.00          FE\n"
	proteinPath := filepath.Join(dir, "protein.pdb")
	require.NoError(t, os.WriteFile(proteinPath, []byte(pdb), 0644))

	rep, err := ClassifyPoseFile(posePath, proteinPath)
	require.NoError(t, err)
	assert.Equal(t, "N1", rep.ClosestAtom)
	assert.InDelta(t, 1.0, rep.MinDistance, 1e-9)
	assert.Equal(t, ClassCoordinating, rep.Class)
}
