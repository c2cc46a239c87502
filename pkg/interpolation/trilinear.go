// Package interpolation provides the continuous-space primitives shared by the
// laminar stages: trilinear sampling of voxel fields, gradient and curvature
// estimation of level sets, and the search for a level set's zero crossing
// along its normal direction.
//
// Positions are expressed in voxel index space (voxel centres at integer
// coordinates) while derivatives are returned in physical units, using the
// voxel size of the sampled volume.
package interpolation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

// boundsEps tolerates positions that leave the grid by rounding error only.
const boundsEps = 1e-6

// Inside reports whether a voxel-space position lies within the sampled
// region of v.
func Inside(v *models.Volume, p r3.Vec) bool {
	c := [3]float64{p.X, p.Y, p.Z}
	for a := 0; a < 3; a++ {
		if c[a] < -boundsEps || c[a] > float64(v.Dims[a]-1)+boundsEps {
			return false
		}
	}
	return true
}

// Trilinear samples v at the voxel-space position p. It returns false when p
// lies outside the grid.
func Trilinear(v *models.Volume, p r3.Vec) (float64, bool) {
	if !Inside(v, p) {
		return 0, false
	}

	c := [3]float64{p.X, p.Y, p.Z}
	var base [3]int
	var frac [3]float64
	var step [3]int
	for a := 0; a < 3; a++ {
		n := v.Dims[a]
		if n == 1 {
			continue
		}
		x := math.Min(math.Max(c[a], 0), float64(n-1))
		i := int(math.Floor(x))
		if i >= n-1 {
			i = n - 2
		}
		base[a] = i
		frac[a] = x - float64(i)
		step[a] = 1
	}

	i0 := v.Index(base[0], base[1], base[2])
	sx := step[0]
	sy := step[1] * v.Dims[0]
	sz := step[2] * v.Dims[0] * v.Dims[1]
	fx, fy, fz := frac[0], frac[1], frac[2]
	d := v.Data

	c00 := d[i0]*(1-fx) + d[i0+sx]*fx
	c10 := d[i0+sy]*(1-fx) + d[i0+sy+sx]*fx
	c01 := d[i0+sz]*(1-fx) + d[i0+sz+sx]*fx
	c11 := d[i0+sz+sy]*(1-fx) + d[i0+sz+sy+sx]*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz, true
}

// ToVoxel converts a physical offset (mm) to a voxel-space offset.
func ToVoxel(v *models.Volume, d r3.Vec) r3.Vec {
	return r3.Vec{X: d.X / v.Res[0], Y: d.Y / v.Res[1], Z: d.Z / v.Res[2]}
}

// ToPhysical converts a voxel-space offset to a physical offset (mm).
func ToPhysical(v *models.Volume, d r3.Vec) r3.Vec {
	return r3.Vec{X: d.X * v.Res[0], Y: d.Y * v.Res[1], Z: d.Z * v.Res[2]}
}
