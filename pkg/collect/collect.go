// Package collect extracts per-job docking results, ranks them, and
// writes the run's summary outputs.
//
// For every succeeded job the collector copies the best pose, the full
// ranked pose ensemble, and the score artifact out of the job's working
// directory into a compact per-molecule output directory. Curation of the working directory is
// gated strictly on that extraction succeeding, so there is no
// delete-before-read race.
package collect

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/redleafbio/hemescreen/pkg/mol2"
	"github.com/redleafbio/hemescreen/pkg/scoreinfo"
)

// BestPoseFileName is the single-pose file written into each compact
// per-molecule output directory.
const BestPoseFileName = "best_pose.mol2"

// auxFiles are small engine outputs copied alongside the pose when
// present (binding box and prepared receptor, useful for inspection).
var auxFiles = []string{"box.pdb", "contact.pdb"}

// ScoreRecord is one molecule's extracted top-pose score.
type ScoreRecord struct {
	MoleculeID string

	// LibraryIndex is the molecule's position in library order; equal
	// energies are tie-broken by it.
	LibraryIndex int

	// Rank is assigned by Rank, 1-based.
	Rank int

	TotalEnergy float64
	Components  map[string]float64

	// PosePath is the extracted best pose in the compact directory.
	PosePath string

	// Coordination is an optional heme-coordination annotation.
	Coordination string
}

// Failure is one molecule that produced no ranked result.
type Failure struct {
	MoleculeID string
	Reason     string
}

// Extract parses a succeeded job's score artifact and copies the best
// pose, the pose ensemble, and the artifact into destDir.
//
// An error here means the job produced no usable result; callers demote
// the molecule to failed with reason "no result".
func Extract(moleculeID string, libraryIndex int, workDir, destDir string) (*ScoreRecord, error) {
	table, err := scoreinfo.ParseFile(filepath.Join(workDir, scoreinfo.FileName))
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", moleculeID, err)
	}
	top, err := table.Top()
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", moleculeID, err)
	}

	pose, err := mol2.FirstEntry(filepath.Join(workDir, scoreinfo.PoseFileName))
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", moleculeID, err)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("collect %s: create output dir: %w", moleculeID, err)
	}
	posePath := filepath.Join(destDir, BestPoseFileName)
	if err := os.WriteFile(posePath, pose, 0644); err != nil {
		return nil, fmt.Errorf("collect %s: write best pose: %w", moleculeID, err)
	}
	if err := copyFile(filepath.Join(workDir, scoreinfo.FileName), filepath.Join(destDir, scoreinfo.FileName)); err != nil {
		return nil, fmt.Errorf("collect %s: copy score info: %w", moleculeID, err)
	}
	// The full ranked ensemble survives curation too, not just the
	// best pose.
	if err := copyFile(filepath.Join(workDir, scoreinfo.PoseFileName), filepath.Join(destDir, scoreinfo.PoseFileName)); err != nil {
		return nil, fmt.Errorf("collect %s: copy pose ensemble: %w", moleculeID, err)
	}
	for _, name := range auxFiles {
		src := filepath.Join(workDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(destDir, name)); err != nil {
			return nil, fmt.Errorf("collect %s: copy %s: %w", moleculeID, name, err)
		}
	}

	return &ScoreRecord{
		MoleculeID:   moleculeID,
		LibraryIndex: libraryIndex,
		TotalEnergy:  top.TotalEnergy,
		Components:   top.Components,
		PosePath:     posePath,
	}, nil
}

// HasCompactOutput reports whether destDir already holds an extracted
// result (used for cache-skip on resume).
func HasCompactOutput(destDir string) bool {
	for _, name := range []string{BestPoseFileName, scoreinfo.FileName} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			return false
		}
	}
	return true
}

// Rank orders records by ascending total energy (more negative binds
// better) and assigns 1-based ranks.
//
// The sort is stable over library order: molecules with numerically
// equal energies keep their original relative order, so output is
// deterministic regardless of completion order.
func Rank(records []ScoreRecord) []ScoreRecord {
	out := make([]ScoreRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalEnergy != out[j].TotalEnergy {
			return out[i].TotalEnergy < out[j].TotalEnergy
		}
		return out[i].LibraryIndex < out[j].LibraryIndex
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
