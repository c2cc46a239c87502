package layering

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrilaminar/internal/models"
	"mrilaminar/pkg/topology"
)

func createField(dims [3]int, res [3]float64, f func(x, y, z float64) float64) *models.Volume {
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

func sphereField(dims [3]int, c, radius float64) *models.Volume {
	return createField(dims, [3]float64{1, 1, 1}, func(x, y, z float64) float64 {
		return math.Sqrt((x-c)*(x-c)+(y-c)*(y-c)+(z-c)*(z-c)) - radius
	})
}

func slabFields() (inner, outer *models.Volume) {
	dims := [3]int{21, 5, 5}
	res := [3]float64{1, 1, 1}
	inner = createField(dims, res, func(x, _, _ float64) float64 { return x - 5 })
	outer = createField(dims, res, func(x, _, _ float64) float64 { return x - 15 })
	return inner, outer
}

// crossing returns the x position where the field turns non-negative walking
// along +x from x0 on the row (y, z).
func crossing(v *models.Volume, x0, y, z int) (float64, bool) {
	for x := x0; x < v.Dims[0]-1; x++ {
		a, b := v.At(x, y, z), v.At(x+1, y, z)
		if a < 0 && b >= 0 {
			return float64(x) + a/(a-b), true
		}
	}
	return 0, false
}

func TestLayerSphericalShell(t *testing.T) {
	const c = 17.0
	dims := [3]int{35, 35, 35}
	inner := sphereField(dims, c, 10)
	outer := sphereField(dims, c, 13)

	p := DefaultParams()
	p.NumLayers = 3
	p.NumWorkers = 2
	res, err := Layer(inner, outer, p)
	require.NoError(t, err)
	assert.Equal(t, Stage, res.Diagnostics.Stage)
	assert.Zero(t, res.Diagnostics.NestingCorrections)

	// Equivolume depth of a sphere shell: (r^3 - R0^3) / (R1^3 - R0^3)
	prev := -1.0
	for x := 27; x <= 30; x++ {
		r := float64(x) - c
		want := (r*r*r - 1000) / (2197 - 1000)
		got := res.Depth.At(x, 17, 17)
		assert.InDelta(t, want, got, 0.03, "r=%v", r)
		assert.Greater(t, got, prev, "depth increases outward")
		prev = got
	}

	require.Len(t, res.Boundaries.Surfaces, 4)
	radii := []float64{10, math.Cbrt(1000 + 1197.0/3), math.Cbrt(1000 + 2*1197.0/3), 13}
	last := 0.0
	for k, surf := range res.Boundaries.Surfaces {
		x, ok := crossing(surf, 17, 17, 17)
		require.True(t, ok, "surface %d", k)
		r := x - c
		assert.InDelta(t, radii[k], r, 0.5, "surface %d", k)
		assert.GreaterOrEqual(t, r, 10-1e-6)
		assert.LessOrEqual(t, r, 13+1e-6)
		assert.Greater(t, r, last, "surfaces are nested")
		last = r
	}
}

func TestLayerLabelsCoverDomain(t *testing.T) {
	dims := [3]int{25, 25, 25}
	inner := sphereField(dims, 12, 5)
	outer := sphereField(dims, 12, 9)

	p := DefaultParams()
	p.NumLayers = 4
	res, err := Layer(inner, outer, p)
	require.NoError(t, err)

	seen := map[int32]bool{}
	for i, d := range res.Depth.Data {
		inDomain := inner.Data[i] >= 0 && outer.Data[i] <= 0
		if !inDomain {
			assert.True(t, models.IsBackground(d), "voxel %d", i)
			assert.Equal(t, models.LabelBackground, res.Layers.Data[i])
			continue
		}
		require.False(t, math.IsNaN(d))
		assert.GreaterOrEqual(t, d, 0.0)
		assert.LessOrEqual(t, d, 1.0)
		l := res.Layers.Data[i]
		assert.Equal(t, label(d, p.NumLayers), l)
		seen[l] = true
	}
	assert.LessOrEqual(t, len(seen), p.NumLayers)
	for l := range seen {
		assert.True(t, l >= 0 && l < int32(p.NumLayers))
	}
}

func TestLayerPlanarSlab(t *testing.T) {
	for _, model := range []DepthModel{Equivolume, Equidistance} {
		t.Run(model.String(), func(t *testing.T) {
			inner, outer := slabFields()
			p := DefaultParams()
			p.NumLayers = 2
			p.Model = model

			res, err := Layer(inner, outer, p)
			require.NoError(t, err)

			for x := 5; x <= 15; x++ {
				assert.InDelta(t, float64(x-5)/10, res.Depth.At(x, 2, 2), 1e-9, "x=%d", x)
			}
			assert.True(t, models.IsBackground(res.Depth.At(4, 2, 2)))
			assert.True(t, models.IsBackground(res.Depth.At(16, 2, 2)))
			assert.Equal(t, int32(0), res.Layers.At(9, 2, 2))
			assert.Equal(t, int32(1), res.Layers.At(10, 2, 2))
			assert.Equal(t, int32(1), res.Layers.At(15, 2, 2))

			mid := res.Boundaries.Surfaces[1]
			x, ok := crossing(mid, 0, 2, 2)
			require.True(t, ok)
			assert.InDelta(t, 10, x, 0.1)
			assert.InDelta(t, -3, mid.At(7, 2, 2), 0.1)
		})
	}
}

func TestLayerDoesNotModifyInputs(t *testing.T) {
	inner, outer := slabFields()
	before := outer.Clone()
	outer.Data[outer.Index(2, 2, 2)] = 1
	before.Data[before.Index(2, 2, 2)] = 1

	res, err := Layer(inner, outer, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, before.Data, outer.Data)
	assert.Equal(t, 1, res.Diagnostics.NestingCorrections)
	assert.InDelta(t, -3, res.Boundaries.Surfaces[len(res.Boundaries.Surfaces)-1].At(2, 2, 2), 1e-9,
		"outer boundary is corrected to enclose the inner one")
}

func TestLayerConfigurationErrors(t *testing.T) {
	inner, outer := slabFields()

	p := DefaultParams()
	p.NumLayers = 0
	_, err := Layer(inner, outer, p)
	assert.True(t, models.IsKind(err, models.KindConfiguration))

	small := models.NewVolume([3]int{4, 4, 4}, [3]float64{1, 1, 1})
	_, err = Layer(inner, small, DefaultParams())
	assert.True(t, models.IsKind(err, models.KindConfiguration))

	// swapped boundaries violate the nesting everywhere
	_, err = Layer(outer, inner, DefaultParams())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfiguration))
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestLayerDegenerateInput(t *testing.T) {
	inner, outer := slabFields()
	for i := range inner.Data {
		inner.Data[i] = 1
	}
	_, err := Layer(inner, outer, DefaultParams())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindDegenerateInput))
}

func ball(cx, cy, cz, radius float64) func(x, y, z float64) float64 {
	return func(x, y, z float64) float64 {
		return math.Sqrt((x-cx)*(x-cx)+(y-cy)*(y-cy)+(z-cz)*(z-cz)) - radius
	}
}

// assertNested checks that every voxel inside a surface is inside the next.
func assertNested(t *testing.T, stack *models.LayerStack) {
	t.Helper()
	for k := 1; k < len(stack.Surfaces); k++ {
		below, above := stack.Surfaces[k-1].Data, stack.Surfaces[k].Data
		outside := 0
		for i := range below {
			if below[i] < 0 && above[i] >= 0 {
				outside++
			}
		}
		assert.Zero(t, outside, "surface %d not inside surface %d", k-1, k)
	}
}

func TestLayerTorusInnerBoundaryNests(t *testing.T) {
	dims := [3]int{40, 40, 40}
	res := [3]float64{1, 1, 1}
	inner := createField(dims, res, func(x, y, z float64) float64 {
		q := math.Hypot(x-20, y-20) - 9
		return math.Hypot(q, z-20) - 3
	})
	outer := createField(dims, res, ball(20, 20, 20, 17))

	p := DefaultParams()
	p.NumLayers = 6
	p.NumWorkers = 3
	result, err := Layer(inner, outer, p)
	require.NoError(t, err)
	assert.Zero(t, result.Diagnostics.NestingCorrections)

	require.Len(t, result.Boundaries.Surfaces, 7)
	assertNested(t, result.Boundaries)
	for k, surf := range result.Boundaries.Surfaces {
		assert.Less(t, surf.At(29, 20, 20), 0.0, "tube centre inside surface %d", k)
		assert.Greater(t, surf.At(1, 1, 1), 0.0, "corner outside surface %d", k)
	}
}

func TestLayerMergingInnerComponents(t *testing.T) {
	dims := [3]int{41, 41, 41}
	res := [3]float64{1, 1, 1}
	left, right := ball(12, 20, 20, 4), ball(28, 20, 20, 4)
	inner := createField(dims, res, func(x, y, z float64) float64 {
		return math.Min(left(x, y, z), right(x, y, z))
	})
	outer := createField(dims, res, ball(20, 20, 20, 17))

	p := DefaultParams()
	p.NumLayers = 4
	result, err := Layer(inner, outer, p)
	require.NoError(t, err, "topological irregularities do not fail the stage")

	diag := result.Diagnostics
	assert.Positive(t, diag.AmbiguousVoxels, "joining the two components is rejected")
	assert.Positive(t, diag.FallbackVoxels)
	assertNested(t, result.Boundaries)

	// Midway between the blobs both fields are flat, so the depth is linear
	d := result.Depth.At(20, 20, 20)
	assert.InDelta(t, 4.0/21.0, d, 1e-9)
	assert.Equal(t, label(d, p.NumLayers), result.Layers.At(20, 20, 20))

	// Each blob centre stays inside every surface
	for k, surf := range result.Boundaries.Surfaces {
		assert.Less(t, surf.At(12, 20, 20), 0.0, "surface %d", k)
		assert.Less(t, surf.At(28, 20, 20), 0.0, "surface %d", k)
	}
}

func TestGrowHomotopicKeepsSeed(t *testing.T) {
	ref := models.NewVolume([3]int{5, 5, 5}, [3]float64{1, 1, 1})
	raw := make([]float64, ref.Len())
	for i := range raw {
		raw[i] = 1
	}
	seed := make([]bool, ref.Len())
	seed[ref.Index(2, 2, 2)] = true
	raw[ref.Index(3, 2, 2)] = -0.5

	grown := growHomotopic(ref, seed, raw, 1, topology.NewTable())
	assert.True(t, grown[ref.Index(2, 2, 2)], "seed voxels stay inside even with raw >= 0")
	assert.True(t, grown[ref.Index(3, 2, 2)])
	assert.False(t, grown[ref.Index(1, 2, 2)])

	assert.Equal(t, 0, exclude(raw, grown, 1e-3))
	raw[ref.Index(0, 0, 0)] = -1
	assert.Equal(t, 1, exclude(raw, grown, 1e-3))
	assert.Equal(t, 1e-3, raw[ref.Index(0, 0, 0)])
}
