package collect

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/redleafbio/hemescreen/pkg/mol2"
	"github.com/redleafbio/hemescreen/pkg/scoreinfo"
)

// Output file names, keyed by library name:
// <lib>_summary.csv, <lib>_top1_poses.mol2, failed_molecules.txt.
const FailedListFileName = "failed_molecules.txt"

// SummaryCSVName returns the summary CSV file name for a library.
func SummaryCSVName(library string) string {
	return library + "_summary.csv"
}

// TopPosesName returns the ranked top-pose MOL2 file name for a library.
func TopPosesName(library string) string {
	return library + "_top1_poses.mol2"
}

// WriteSummaryCSV writes ranked records as CSV. Records must already be
// ranked. When withCoordination is set an extra Coordination column is
// appended.
func WriteSummaryCSV(path string, records []ScoreRecord, withCoordination bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	w := csv.NewWriter(f)

	header := append([]string{"Rank", "Molecule", "Energy"}, scoreinfo.ComponentNames...)
	if withCoordination {
		header = append(header, "Coordination")
	}
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	for _, rec := range records {
		row := []string{strconv.Itoa(rec.Rank), rec.MoleculeID, formatEnergy(rec.TotalEnergy)}
		for _, name := range scoreinfo.ComponentNames {
			row = append(row, formatEnergy(rec.Components[name]))
		}
		if withCoordination {
			row = append(row, rec.Coordination)
		}
		if err := w.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("write summary: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write summary: %w", err)
	}
	return f.Close()
}

// WriteTopPoses concatenates the best pose of every ranked record into
// one MOL2 file, in rank order.
func WriteTopPoses(path string, records []ScoreRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write top poses: %w", err)
	}
	for _, rec := range records {
		block, err := os.ReadFile(rec.PosePath)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("write top poses: read %s: %w", rec.MoleculeID, err)
		}
		if err := mol2.WriteBlock(f, block); err != nil {
			_ = f.Close()
			return fmt.Errorf("write top poses: %w", err)
		}
	}
	return f.Close()
}

// WriteFailedList writes the failed-molecule report. The file is always
// written, empty when every molecule succeeded, so downstream tooling
// can rely on its presence.
func WriteFailedList(path string, failures []Failure) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write failed list: %w", err)
	}
	for _, fl := range failures {
		if _, err := fmt.Fprintf(f, "%s\t%s\n", fl.MoleculeID, fl.Reason); err != nil {
			_ = f.Close()
			return fmt.Errorf("write failed list: %w", err)
		}
	}
	return f.Close()
}

// LoadResults rebuilds score records from the compact per-molecule
// directories under resultsDir. It is the input path for re-ranking an
// existing run without redocking.
//
// Library order is not recoverable here, so ties fall back to the
// lexical directory order, which is itself deterministic.
func LoadResults(resultsDir string) ([]ScoreRecord, error) {
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var records []ScoreRecord
	for i, name := range names {
		dir := filepath.Join(resultsDir, name)
		if !HasCompactOutput(dir) {
			continue
		}
		table, err := scoreinfo.ParseFile(filepath.Join(dir, scoreinfo.FileName))
		if err != nil {
			return nil, fmt.Errorf("load results: %s: %w", name, err)
		}
		top, err := table.Top()
		if err != nil {
			return nil, fmt.Errorf("load results: %s: %w", name, err)
		}
		records = append(records, ScoreRecord{
			MoleculeID:   name,
			LibraryIndex: i,
			TotalEnergy:  top.TotalEnergy,
			Components:   top.Components,
			PosePath:     filepath.Join(dir, BestPoseFileName),
		})
	}
	return records, nil
}

func formatEnergy(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
