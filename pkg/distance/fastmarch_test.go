package distance

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(dims [3]int, f func(x, y, z int) float64) []float64 {
	out := make([]float64, dims[0]*dims[1]*dims[2])
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				out[x+dims[0]*(y+dims[1]*z)] = f(x, y, z)
			}
		}
	}
	return out
}

func TestSignedDistancePlaneIsExact(t *testing.T) {
	dims := [3]int{10, 3, 3}
	res := [3]float64{2, 1, 1}
	// Arbitrary positive scaling: only the crossing matters.
	phi := fill(dims, func(x, _, _ int) float64 { return 3 * (float64(x) - 4.5) })

	d, err := SignedDistance(phi, dims, res)
	require.NoError(t, err)

	for x := 0; x < dims[0]; x++ {
		want := (float64(x) - 4.5) * res[0]
		got := d[x+dims[0]*(1+dims[1]*1)]
		assert.InDeltaf(t, want, got, 1e-9, "x=%d", x)
	}
}

func TestSignedDistanceAnisotropicAxis(t *testing.T) {
	dims := [3]int{3, 3, 12}
	res := [3]float64{1, 1, 2.5}
	phi := fill(dims, func(_, _, z int) float64 { return float64(z) - 5.25 })

	d, err := SignedDistance(phi, dims, res)
	require.NoError(t, err)

	for z := 0; z < dims[2]; z++ {
		want := (float64(z) - 5.25) * res[2]
		assert.InDeltaf(t, want, d[1+3*(1+3*z)], 1e-9, "z=%d", z)
	}
}

func TestSignedDistanceSphere(t *testing.T) {
	dims := [3]int{32, 32, 32}
	res := [3]float64{1, 1, 1}
	const radius = 9.3
	c := 15.5
	radial := func(x, y, z int) float64 {
		dx, dy, dz := float64(x)-c, float64(y)-c, float64(z)-c
		return math.Sqrt(dx*dx+dy*dy+dz*dz) - radius
	}
	// Squash the field to make sure magnitudes are rebuilt from scratch.
	phi := fill(dims, func(x, y, z int) float64 { return math.Tanh(radial(x, y, z)) })

	d, err := SignedDistance(phi, dims, res)
	require.NoError(t, err)

	maxErr := 0.0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				want := radial(x, y, z)
				if math.Abs(want) > 6 {
					continue
				}
				got := d[x+dims[0]*(y+dims[1]*z)]
				require.Equal(t, want < 0, got < 0, "sign at (%d,%d,%d)", x, y, z)
				maxErr = math.Max(maxErr, math.Abs(got-want))
			}
		}
	}
	assert.Less(t, maxErr, 1.0)
}

func TestSignedDistanceNoCrossing(t *testing.T) {
	dims := [3]int{4, 4, 4}
	phi := fill(dims, func(_, _, _ int) float64 { return 1 })
	_, err := SignedDistance(phi, dims, [3]float64{1, 1, 1})
	assert.True(t, errors.Is(err, ErrNoCrossing))

	phi = fill(dims, func(_, _, _ int) float64 { return -0.2 })
	_, err = SignedDistance(phi, dims, [3]float64{1, 1, 1})
	assert.True(t, errors.Is(err, ErrNoCrossing))
}

func TestSignedDistanceLengthMismatch(t *testing.T) {
	_, err := SignedDistance(make([]float64, 5), [3]int{2, 2, 2}, [3]float64{1, 1, 1})
	assert.Error(t, err)
}
