// Package scoreinfo parses the score artifact written by the docking
// engine alongside its pose ensemble.
//
// The artifact is a whitespace-delimited table: a few header lines, then
// one row per pose ordered best-first. Columns are
//
//	Rank  Energy  ATDK_E  INT_E  DS_E  HM_E  PLP
//
// where Energy is the total binding energy (more negative is better) and
// the remainder are named component energies, HM_E being the
// heme-coordination term.
package scoreinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Fixed artifact names under a job's output directory (engine contract).
const (
	FileName     = "GD2_HEME_fb.E.info"
	PoseFileName = "GD2_HEME_fb.mol2"
)

// ComponentNames lists the component energy columns in file order.
var ComponentNames = []string{"ATDK_E", "INT_E", "DS_E", "HM_E", "PLP"}

// PoseScore is one scored pose.
type PoseScore struct {
	Rank        int
	TotalEnergy float64
	Components  map[string]float64
}

// Table is a parsed score artifact.
type Table struct {
	Poses []PoseScore
}

// Top returns the best-ranked pose.
func (t *Table) Top() (PoseScore, error) {
	if len(t.Poses) == 0 {
		return PoseScore{}, fmt.Errorf("scoreinfo: no pose rows")
	}
	return t.Poses[0], nil
}

// ParseFile parses the score artifact at path.
func ParseFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open score info: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse reads a score table from r.
//
// Header lines are recognized by shape rather than position: a data row
// is any line whose first field is an integer rank followed by at least
// six numeric columns. An artifact with no data rows is an error, which
// callers treat as "no result" for the molecule.
func Parse(r io.Reader) (*Table, error) {
	t := &Table{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2+len(ComponentNames) {
			continue
		}
		rank, err := strconv.Atoi(fields[0])
		if err != nil {
			// Header row.
			continue
		}
		pose := PoseScore{Rank: rank, Components: make(map[string]float64, len(ComponentNames))}
		pose.TotalEnergy, err = strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("scoreinfo: line %d: bad total energy %q", lineNo, fields[1])
		}
		for i, name := range ComponentNames {
			v, err := strconv.ParseFloat(fields[2+i], 64)
			if err != nil {
				return nil, fmt.Errorf("scoreinfo: line %d: bad %s %q", lineNo, name, fields[2+i])
			}
			pose.Components[name] = v
		}
		t.Poses = append(t.Poses, pose)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scoreinfo: scan: %w", err)
	}
	if len(t.Poses) == 0 {
		return nil, fmt.Errorf("scoreinfo: no pose rows")
	}
	return t, nil
}
