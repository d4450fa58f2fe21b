// Package hemegeom classifies ligand poses by their geometry relative
// to the heme iron.
//
// The classifier is a pure function over the minimum distance between
// any ligand heavy atom and Fe, with documented thresholds:
//
//	distance <= 2.8 A  coordinating (dative Fe-N/O interaction range)
//	distance <= 5.0 A  proximal (in the pocket above the porphyrin)
//	otherwise          distal
//
// Both boundaries are inclusive. The thresholds follow the distance
// checks used when validating docked heme-protein complexes before MD
// setup.
package hemegeom

import "math"

// Distance thresholds in Angstroms.
const (
	CoordinationMaxDistance = 2.8
	ProximalMaxDistance     = 5.0
)

// Class is the geometric classification of a pose.
type Class string

const (
	ClassCoordinating Class = "coordinating"
	ClassProximal     Class = "proximal"
	ClassDistal       Class = "distal"
)

// Classify maps a minimum ligand-heavy-atom-to-Fe distance to a Class.
func Classify(minDistance float64) Class {
	switch {
	case minDistance <= CoordinationMaxDistance:
		return ClassCoordinating
	case minDistance <= ProximalMaxDistance:
		return ClassProximal
	default:
		return ClassDistal
	}
}

// Atom is one atom with Cartesian coordinates in Angstroms.
type Atom struct {
	Name    string
	Element string
	X, Y, Z float64
}

// Heavy reports whether the atom is a non-hydrogen atom.
func (a Atom) Heavy() bool {
	return a.Element != "H" && a.Element != ""
}

// Distance returns the Euclidean distance between two atoms.
func Distance(a, b Atom) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Report is the result of classifying one pose.
type Report struct {
	MinDistance float64
	ClosestAtom string
	Class       Class
}

// ClassifyPose finds the ligand heavy atom closest to fe and classifies
// the pose. ok is false when the ligand has no heavy atoms.
func ClassifyPose(ligand []Atom, fe Atom) (Report, bool) {
	best := math.Inf(1)
	closest := ""
	for _, a := range ligand {
		if !a.Heavy() {
			continue
		}
		if d := Distance(a, fe); d < best {
			best = d
			closest = a.Name
		}
	}
	if math.IsInf(best, 1) {
		return Report{}, false
	}
	return Report{MinDistance: best, ClosestAtom: closest, Class: Classify(best)}, true
}
