package interpolation

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

// gradientStep is the half width, in voxels, of the central differences
// taken by Gradient.
const gradientStep = 0.5

// minGradient is the gradient norm below which a level set is considered to
// have no usable normal direction (ridges and valleys of the distance).
const minGradient = 1e-6

// Gradient estimates the physical gradient of v at the voxel-space position
// p with central differences of the trilinear interpolant. Near the grid
// border the difference becomes one-sided. When the estimate vanishes the
// least-squares fit over the nearest voxel neighbourhood is used instead.
func Gradient(v *models.Volume, p r3.Vec) r3.Vec {
	c := [3]float64{p.X, p.Y, p.Z}
	var g [3]float64
	for a := 0; a < 3; a++ {
		n := float64(v.Dims[a] - 1)
		if n <= 0 {
			continue
		}
		lo, hi := c, c
		lo[a] = math.Max(c[a]-gradientStep, 0)
		hi[a] = math.Min(c[a]+gradientStep, n)
		span := hi[a] - lo[a]
		if span <= 0 {
			continue
		}
		fl, ok1 := Trilinear(v, r3.Vec{X: lo[0], Y: lo[1], Z: lo[2]})
		fh, ok2 := Trilinear(v, r3.Vec{X: hi[0], Y: hi[1], Z: hi[2]})
		if !ok1 || !ok2 {
			continue
		}
		g[a] = (fh - fl) / (span * v.Res[a])
	}

	grad := r3.Vec{X: g[0], Y: g[1], Z: g[2]}
	if r3.Norm(grad) >= minGradient {
		return grad
	}
	x := clampIndex(int(math.Round(p.X)), v.Dims[0])
	y := clampIndex(int(math.Round(p.Y)), v.Dims[1])
	z := clampIndex(int(math.Round(p.Z)), v.Dims[2])
	if fit, ok := FitGradient(v, x, y, z); ok {
		return fit
	}
	return grad
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// FitGradient fits a plane to the 3x3x3 neighbourhood of voxel (x, y, z) in
// the least-squares sense and returns its slope in physical units. It is more
// robust than central differences where the field is not differentiable.
func FitGradient(v *models.Volume, x, y, z int) (r3.Vec, bool) {
	// Planes are only identifiable along axes the neighbourhood spans
	for a := 0; a < 3; a++ {
		if v.Dims[a] == 1 {
			return r3.Vec{}, false
		}
	}

	var rows []float64
	var rhs []float64
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if !v.InBounds(x+dx, y+dy, z+dz) {
					continue
				}
				val := v.At(x+dx, y+dy, z+dz)
				if math.IsNaN(val) {
					continue
				}
				rows = append(rows,
					float64(dx)*v.Res[0], float64(dy)*v.Res[1], float64(dz)*v.Res[2], 1)
				rhs = append(rhs, val)
			}
		}
	}
	m := len(rhs)
	if m < 4 {
		return r3.Vec{}, false
	}

	A := mat.NewDense(m, 4, rows)
	b := mat.NewVecDense(m, rhs)

	var qr mat.QR
	qr.Factorize(A)
	sol := mat.NewDense(4, 1, nil)
	if err := qr.SolveTo(sol, false, b); err != nil {
		return r3.Vec{}, false
	}
	return r3.Vec{X: sol.At(0, 0), Y: sol.At(1, 0), Z: sol.At(2, 0)}, true
}

// MeanCurvature returns the mean curvature (average of the two principal
// curvatures, 1/r for a sphere of radius r) of the level set of v passing
// through voxel (x, y, z), computed from finite differences of the field. It
// returns false at the grid border or where the field has no usable
// gradient.
func MeanCurvature(v *models.Volume, x, y, z int) (float64, bool) {
	c := [3]int{x, y, z}
	for a := 0; a < 3; a++ {
		if v.Dims[a] >= 3 && (c[a] < 1 || c[a] > v.Dims[a]-2) {
			return 0, false
		}
	}

	at := func(dx, dy, dz int) float64 {
		return v.At(x+dx, y+dy, z+dz)
	}
	// Axes with fewer than three voxels carry no derivative information
	use := [3]bool{v.Dims[0] >= 3, v.Dims[1] >= 3, v.Dims[2] >= 3}
	hx, hy, hz := v.Res[0], v.Res[1], v.Res[2]
	f := at(0, 0, 0)

	var fx, fy, fz, fxx, fyy, fzz, fxy, fxz, fyz float64
	if use[0] {
		fx = (at(1, 0, 0) - at(-1, 0, 0)) / (2 * hx)
		fxx = (at(1, 0, 0) - 2*f + at(-1, 0, 0)) / (hx * hx)
	}
	if use[1] {
		fy = (at(0, 1, 0) - at(0, -1, 0)) / (2 * hy)
		fyy = (at(0, 1, 0) - 2*f + at(0, -1, 0)) / (hy * hy)
	}
	if use[2] {
		fz = (at(0, 0, 1) - at(0, 0, -1)) / (2 * hz)
		fzz = (at(0, 0, 1) - 2*f + at(0, 0, -1)) / (hz * hz)
	}
	if use[0] && use[1] {
		fxy = (at(1, 1, 0) - at(1, -1, 0) - at(-1, 1, 0) + at(-1, -1, 0)) / (4 * hx * hy)
	}
	if use[0] && use[2] {
		fxz = (at(1, 0, 1) - at(1, 0, -1) - at(-1, 0, 1) + at(-1, 0, -1)) / (4 * hx * hz)
	}
	if use[1] && use[2] {
		fyz = (at(0, 1, 1) - at(0, 1, -1) - at(0, -1, 1) + at(0, -1, -1)) / (4 * hy * hz)
	}

	g2 := fx*fx + fy*fy + fz*fz
	// Distance fields have unit gradient; much flatter means a medial ridge
	if g2 < 0.25 {
		return 0, false
	}
	num := (fyy+fzz)*fx*fx + (fxx+fzz)*fy*fy + (fxx+fyy)*fz*fz -
		2*fx*fy*fxy - 2*fx*fz*fxz - 2*fy*fz*fyz
	k := num / (2 * g2 * math.Sqrt(g2))
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return 0, false
	}
	return k, true
}
