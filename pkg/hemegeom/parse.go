package hemegeom

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Heme residue names and the iron atom name as they appear in PDB
// HETATM records. FE1 is the name MCPB-derived topologies use.
var hemeResidues = []string{"HEM", "HEC", "FE1"}

// ParseMol2Atoms extracts the atoms of the first molecule's
// @<TRIPOS>ATOM section. The element is taken from the SYBYL atom type
// (the part before the dot).
func ParseMol2Atoms(r io.Reader) ([]Atom, error) {
	var atoms []Atom
	in := false
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "@<TRIPOS>ATOM") {
			if in {
				break
			}
			in = true
			continue
		}
		if strings.HasPrefix(line, "@<TRIPOS>") {
			if in {
				break
			}
			continue
		}
		if !in {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		x, errX := strconv.ParseFloat(fields[2], 64)
		y, errY := strconv.ParseFloat(fields[3], 64)
		z, errZ := strconv.ParseFloat(fields[4], 64)
		if errX != nil || errY != nil || errZ != nil {
			return nil, fmt.Errorf("hemegeom: bad atom coordinates: %q", line)
		}
		elem := fields[5]
		if i := strings.IndexByte(elem, '.'); i >= 0 {
			elem = elem[:i]
		}
		atoms = append(atoms, Atom{Name: fields[1], Element: elem, X: x, Y: y, Z: z})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("hemegeom: scan mol2: %w", err)
	}
	if len(atoms) == 0 {
		return nil, fmt.Errorf("hemegeom: no atoms in mol2 input")
	}
	return atoms, nil
}

// FindIron locates the heme iron in a PDB file. It scans HETATM records
// for atom FE in any of the known heme residue names.
func FindIron(path string) (Atom, error) {
	f, err := os.Open(path)
	if err != nil {
		return Atom{}, fmt.Errorf("hemegeom: open protein: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "HETATM") && !strings.HasPrefix(line, "ATOM") {
			continue
		}
		if len(line) < 54 {
			continue
		}
		name := strings.TrimSpace(line[12:16])
		res := strings.TrimSpace(line[17:20])
		if name != "FE" {
			continue
		}
		match := false
		for _, hr := range hemeResidues {
			if res == hr {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(line[30:38]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(line[38:46]), 64)
		z, errZ := strconv.ParseFloat(strings.TrimSpace(line[46:54]), 64)
		if errX != nil || errY != nil || errZ != nil {
			return Atom{}, fmt.Errorf("hemegeom: bad FE coordinates in %s", path)
		}
		return Atom{Name: "FE", Element: "Fe", X: x, Y: y, Z: z}, nil
	}
	if err := sc.Err(); err != nil {
		return Atom{}, fmt.Errorf("hemegeom: scan protein: %w", err)
	}
	return Atom{}, fmt.Errorf("hemegeom: no heme iron (FE in %s) found in %s", strings.Join(hemeResidues, "/"), path)
}

// ClassifyPoseFile classifies the pose in a MOL2 file against the heme
// iron of the given protein PDB.
func ClassifyPoseFile(posePath, proteinPath string) (Report, error) {
	fe, err := FindIron(proteinPath)
	if err != nil {
		return Report{}, err
	}
	f, err := os.Open(posePath)
	if err != nil {
		return Report{}, fmt.Errorf("hemegeom: open pose: %w", err)
	}
	defer func() { _ = f.Close() }()

	atoms, err := ParseMol2Atoms(f)
	if err != nil {
		return Report{}, err
	}
	rep, ok := ClassifyPose(atoms, fe)
	if !ok {
		return Report{}, fmt.Errorf("hemegeom: pose %s has no heavy atoms", posePath)
	}
	return rep, nil
}
