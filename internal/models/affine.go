package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Affine is a 4x4 homogeneous transform from voxel indices to world
// coordinates in mm. Only the first three rows are meaningful; the last row is
// always (0, 0, 0, 1).
type Affine [4][4]float64

// ScalingAffine returns the transform that scales voxel indices by the voxel
// size, placing voxel (0,0,0) at the world origin.
func ScalingAffine(res [3]float64) Affine {
	var a Affine
	a[0][0] = res[0]
	a[1][1] = res[1]
	a[2][2] = res[2]
	a[3][3] = 1
	return a
}

// IsZero reports whether the affine was never set.
func (a Affine) IsZero() bool {
	return a == Affine{}
}

// Apply maps a voxel-space point to world space.
func (a Affine) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0][0]*p.X + a[0][1]*p.Y + a[0][2]*p.Z + a[0][3],
		Y: a[1][0]*p.X + a[1][1]*p.Y + a[1][2]*p.Z + a[1][3],
		Z: a[2][0]*p.X + a[2][1]*p.Y + a[2][2]*p.Z + a[2][3],
	}
}

// Inverse returns the world-to-voxel transform.
func (a Affine) Inverse() (Affine, error) {
	m := mat.NewDense(4, 4, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, a[r][c])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Affine{}, fmt.Errorf("affine is not invertible: %w", err)
	}
	var out Affine
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r][c] = inv.At(r, c)
		}
	}
	out[3] = [4]float64{0, 0, 0, 1}
	return out, nil
}
