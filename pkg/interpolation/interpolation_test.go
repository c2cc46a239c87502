package interpolation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

// createTestVolume fills a volume from a function of physical coordinates.
func createTestVolume(dims [3]int, res [3]float64, f func(x, y, z float64) float64) *models.Volume {
	v := models.NewVolume(dims, res)
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				v.Set(x, y, z, f(float64(x)*res[0], float64(y)*res[1], float64(z)*res[2]))
			}
		}
	}
	return v
}

func sphereDistance(c r3.Vec, radius float64) func(x, y, z float64) float64 {
	return func(x, y, z float64) float64 {
		return r3.Norm(r3.Sub(r3.Vec{X: x, Y: y, Z: z}, c)) - radius
	}
}

func TestTrilinearReproducesLinearFields(t *testing.T) {
	res := [3]float64{1, 2, 0.5}
	v := createTestVolume([3]int{5, 6, 7}, res, func(x, y, z float64) float64 {
		return 2*x - 3*y + 0.5*z + 1
	})

	for _, p := range []r3.Vec{{X: 0.3, Y: 1.7, Z: 2.2}, {X: 4, Y: 5, Z: 6}, {X: 0, Y: 0, Z: 0}, {X: 3.99, Y: 0.01, Z: 5.5}} {
		got, ok := Trilinear(v, p)
		require.True(t, ok)
		want := 2*p.X*res[0] - 3*p.Y*res[1] + 0.5*p.Z*res[2] + 1
		assert.InDelta(t, want, got, 1e-9)
	}
}

func TestTrilinearOutOfBounds(t *testing.T) {
	v := models.NewVolume([3]int{3, 3, 3}, [3]float64{1, 1, 1})
	_, ok := Trilinear(v, r3.Vec{X: -0.1, Y: 1, Z: 1})
	assert.False(t, ok)
	_, ok = Trilinear(v, r3.Vec{X: 1, Y: 2.5, Z: 1})
	assert.False(t, ok)
}

func TestTrilinearSingletonAxis(t *testing.T) {
	v := createTestVolume([3]int{4, 4, 1}, [3]float64{1, 1, 1}, func(x, y, _ float64) float64 {
		return x + 10*y
	})
	got, ok := Trilinear(v, r3.Vec{X: 1.5, Y: 2.25, Z: 0})
	require.True(t, ok)
	assert.InDelta(t, 1.5+22.5, got, 1e-9)
}

func TestGradientUsesPhysicalUnits(t *testing.T) {
	res := [3]float64{2, 1, 0.5}
	v := createTestVolume([3]int{6, 6, 6}, res, func(x, y, z float64) float64 {
		return 3*x - y + 4*z
	})

	for _, p := range []r3.Vec{{X: 2.5, Y: 2.5, Z: 2.5}, {X: 0, Y: 5, Z: 0}} {
		g := Gradient(v, p)
		assert.InDelta(t, 3, g.X, 1e-9)
		assert.InDelta(t, -1, g.Y, 1e-9)
		assert.InDelta(t, 4, g.Z, 1e-9)
	}
}

func TestFitGradientPlane(t *testing.T) {
	v := createTestVolume([3]int{5, 5, 5}, [3]float64{1, 1.5, 1}, func(x, y, z float64) float64 {
		return 0.5*x + 2*y - z
	})
	g, ok := FitGradient(v, 2, 2, 2)
	require.True(t, ok)
	assert.InDelta(t, 0.5, g.X, 1e-9)
	assert.InDelta(t, 2, g.Y, 1e-9)
	assert.InDelta(t, -1, g.Z, 1e-9)

	_, ok = FitGradient(models.NewVolume([3]int{5, 5, 1}, [3]float64{1, 1, 1}), 2, 2, 0)
	assert.False(t, ok)
}

func TestMeanCurvatureSphere(t *testing.T) {
	c := r3.Vec{X: 15, Y: 15, Z: 15}
	v := createTestVolume([3]int{31, 31, 31}, [3]float64{1, 1, 1}, sphereDistance(c, 8))

	for _, r := range []int{6, 9, 12} {
		k, ok := MeanCurvature(v, 15+r, 15, 15)
		require.True(t, ok)
		assert.InDelta(t, 1/float64(r), k, 0.02, "radius %d", r)
	}

	_, ok := MeanCurvature(v, 0, 15, 15)
	assert.False(t, ok, "border voxels have no curvature estimate")
}

func TestMeanCurvaturePlaneIsZero(t *testing.T) {
	v := createTestVolume([3]int{7, 7, 7}, [3]float64{1, 1, 1}, func(x, _, _ float64) float64 {
		return x - 3.2
	})
	k, ok := MeanCurvature(v, 3, 3, 3)
	require.True(t, ok)
	assert.InDelta(t, 0, k, 1e-12)
}

func TestProjectToZeroSphere(t *testing.T) {
	c := r3.Vec{X: 15, Y: 15, Z: 15}
	v := createTestVolume([3]int{31, 31, 31}, [3]float64{1, 1, 1}, sphereDistance(c, 8))

	for _, start := range []r3.Vec{{X: 20, Y: 15, Z: 15}, {X: 15, Y: 24.5, Z: 15}, {X: 11, Y: 12, Z: 13}} {
		p, ok := ProjectToZero(v, start, DefaultSearchOptions())
		require.True(t, ok, "start %v", start)
		r := r3.Norm(r3.Sub(p, c))
		assert.InDelta(t, 8, r, 0.05)
	}
}

func TestProjectToZeroRespectsRadius(t *testing.T) {
	v := createTestVolume([3]int{20, 5, 5}, [3]float64{1, 1, 1}, func(x, _, _ float64) float64 {
		return x - 15
	})
	start := r3.Vec{X: 2, Y: 2, Z: 2}

	_, ok := ProjectToZero(v, start, SearchOptions{Radius: 5, Tolerance: 1e-3, MaxIterations: 20})
	assert.False(t, ok)

	p, ok := ProjectToZero(v, start, SearchOptions{Radius: 20, Tolerance: 1e-3, MaxIterations: 20})
	require.True(t, ok)
	assert.InDelta(t, 15, p.X, 1e-3)
	assert.InDelta(t, 2, p.Y, 1e-9)
}

func TestProjectToZeroAnisotropic(t *testing.T) {
	res := [3]float64{1, 1, 2}
	v := createTestVolume([3]int{5, 5, 12}, res, func(_, _, z float64) float64 {
		return z - 9
	})
	p, ok := ProjectToZero(v, r3.Vec{X: 2, Y: 2, Z: 1}, DefaultSearchOptions())
	require.True(t, ok)
	assert.InDelta(t, 4.5, p.Z, 1e-3, "z=9mm is voxel 4.5 at 2mm spacing")
	assert.False(t, math.IsNaN(p.X))
}
