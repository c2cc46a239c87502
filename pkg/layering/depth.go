package layering

import (
	"fmt"
	"math"
	"strings"
)

// DepthModel selects how the normalized depth between the two boundaries is
// parameterized.
type DepthModel int

const (
	// Equivolume depth: surfaces of equal depth spacing enclose equal
	// volume fractions of the laminar domain.
	Equivolume DepthModel = iota

	// Equidistance depth: the fraction of the local thickness travelled from
	// the inner boundary.
	Equidistance
)

func (m DepthModel) String() string {
	switch m {
	case Equivolume:
		return "equivolume"
	case Equidistance:
		return "equidistance"
	}
	return fmt.Sprintf("DepthModel(%d)", int(m))
}

// ParseDepthModel accepts the names returned by String.
func ParseDepthModel(s string) (DepthModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "equivolume", "equivolumetric":
		return Equivolume, nil
	case "equidistance", "equidistant":
		return Equidistance, nil
	}
	return 0, fmt.Errorf("unknown depth model %q", s)
}

// minShellFactor bounds how far a concave layer may shrink before the local
// shell model is considered degenerate.
const minShellFactor = 0.05

// flatCurvature is the |c*T| below which the shell is treated as flat.
const flatCurvature = 1e-6

// shell is the local geometry of the laminar domain around one voxel: the
// distance from the inner boundary, the local thickness and the mean
// curvature of the inner boundary below it.
//
// The cross-section area of the parallel surface at distance s above the
// inner boundary is modelled as A(s) = A0 (1 + c s)^2, exact for spheres and
// first-order accurate for other shapes. The enclosed volume fraction at
// distance s is then
//
//	alpha(s) = ((1 + c s)^3 - 1) / ((1 + c T)^3 - 1)
//
// which is the equivolume depth.
type shell struct {
	dIn, thickness, curv float64
	flat                 bool
}

// newShell builds the local model. It returns false when the curvature makes
// the model degenerate within the thickness of the domain.
func newShell(dIn, thickness, curv float64) (shell, bool) {
	s := shell{dIn: dIn, thickness: thickness, curv: curv}
	if math.IsNaN(curv) || math.IsInf(curv, 0) {
		return s, false
	}
	if math.Abs(curv*thickness) < flatCurvature {
		s.flat = true
		return s, true
	}
	if 1+curv*thickness <= minShellFactor {
		return s, false
	}
	return s, true
}

// depth returns the equivolume depth of the voxel.
func (s shell) depth() float64 {
	if s.thickness <= 0 {
		return 0
	}
	if s.flat {
		return s.dIn / s.thickness
	}
	num := cube(1+s.curv*s.dIn) - 1
	den := cube(1+s.curv*s.thickness) - 1
	return num / den
}

// distanceAt inverts depth: it returns the distance above the inner boundary
// of the surface with equivolume depth d.
func (s shell) distanceAt(d float64) float64 {
	if s.flat || s.thickness <= 0 {
		return d * s.thickness
	}
	den := cube(1+s.curv*s.thickness) - 1
	return (math.Cbrt(d*den+1) - 1) / s.curv
}

func cube(x float64) float64 { return x * x * x }

// linearDepth is the equidistant depth used as a fallback.
func linearDepth(dIn, thickness float64) float64 {
	if thickness <= 0 {
		return 0
	}
	return dIn / thickness
}

// innerCurvature converts the mean curvature measured at a voxel lying dIn
// above the inner boundary into the curvature of the inner boundary itself.
func innerCurvature(atVoxel, dIn float64) (float64, bool) {
	f := 1 - atVoxel*dIn
	if f <= minShellFactor {
		return 0, false
	}
	return atVoxel / f, true
}

func clamp01(x float64) float64 {
	return math.Min(math.Max(x, 0), 1)
}
