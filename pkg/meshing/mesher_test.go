package meshing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

func createField(dims [3]int, f func(x, y, z float64) float64) *models.Volume {
	v := models.NewVolume(dims, [3]float64{1, 1, 1})
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				v.Set(x, y, z, f(float64(x), float64(y), float64(z)))
			}
		}
	}
	return v
}

func sphereProfiles(c float64, radii ...float64) *models.ProfileVolume {
	dims := [3]int{25, 25, 25}
	stack := &models.LayerStack{}
	for _, r := range radii {
		r := r
		stack.Surfaces = append(stack.Surfaces, createField(dims, func(x, y, z float64) float64 {
			return math.Sqrt((x-c)*(x-c)+(y-c)*(y-c)+(z-c)*(z-c)) - r
		}))
	}
	return &models.ProfileVolume{Geometry: stack}
}

func slabProfiles(shift float64) *models.ProfileVolume {
	dims := [3]int{21, 5, 5}
	stack := &models.LayerStack{Surfaces: []*models.Volume{
		createField(dims, func(x, _, _ float64) float64 { return x - 5 }),
		createField(dims, func(x, _, _ float64) float64 { return x - 15 }),
	}}
	for _, s := range stack.Surfaces {
		s.Affine[0][3] = shift
	}
	return &models.ProfileVolume{Geometry: stack}
}

// octahedron returns a closed mesh with vertices at distance r from c.
func octahedron(c r3.Vec, r float64) *models.Mesh {
	pts := []r3.Vec{{X: r}, {X: -r}, {Y: r}, {Y: -r}, {Z: r}, {Z: -r}}
	for i := range pts {
		pts[i] = r3.Add(pts[i], c)
	}
	return &models.Mesh{
		Points: pts,
		Faces: [][3]int{
			{0, 2, 4}, {2, 1, 4}, {1, 3, 4}, {3, 0, 4},
			{2, 0, 5}, {1, 2, 5}, {3, 1, 5}, {0, 3, 5},
		},
	}
}

func TestMeshProfilesSphere(t *testing.T) {
	c := r3.Vec{X: 12, Y: 12, Z: 12}
	profiles := sphereProfiles(12, 6, 7.5, 9)
	base := octahedron(c, 6)

	seq, diag, err := MeshProfiles(profiles, base, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, Stage, diag.Stage)
	assert.Zero(t, diag.FailedSearches)
	require.Len(t, seq, 3)

	for k, want := range []float64{6, 7.5, 9} {
		m := seq[k]
		require.NoError(t, m.Validate())
		assert.Equal(t, base.Faces, m.Faces, "depth %d keeps the connectivity", k)
		require.Len(t, m.Points, len(base.Points))
		for i, p := range m.Points {
			assert.InDelta(t, want, r3.Norm(r3.Sub(p, c)), 0.05, "depth %d vertex %d", k, i)
		}
	}

	// the base mesh is left untouched
	assert.Equal(t, octahedron(c, 6).Points, base.Points)
}

func TestMeshProfilesWorldCoordinates(t *testing.T) {
	profiles := slabProfiles(100)
	base := &models.Mesh{
		Points: []r3.Vec{{X: 105, Y: 1, Z: 1}, {X: 105, Y: 3, Z: 1}, {X: 105, Y: 2, Z: 3}},
		Faces:  [][3]int{{0, 1, 2}},
	}

	p := DefaultParams()
	p.Search.Radius = 12
	seq, diag, err := MeshProfiles(profiles, base, p)
	require.NoError(t, err)
	assert.Zero(t, diag.FailedSearches)
	for i, pt := range seq[1].Points {
		assert.InDelta(t, 115, pt.X, 1e-3)
		assert.InDelta(t, base.Points[i].Y, pt.Y, 1e-9)
		assert.InDelta(t, base.Points[i].Z, pt.Z, 1e-9)
	}
}

func TestMeshProfilesKeepsPriorPositionOnFailure(t *testing.T) {
	profiles := slabProfiles(0)
	base := &models.Mesh{
		Points: []r3.Vec{{X: 5, Y: 1, Z: 1}, {X: 5, Y: 3, Z: 1}, {X: 5, Y: 2, Z: 3}},
		Faces:  [][3]int{{0, 1, 2}},
	}

	p := DefaultParams()
	p.Search.Radius = 2
	seq, diag, err := MeshProfiles(profiles, base, p)
	require.NoError(t, err)
	assert.Equal(t, len(base.Points), diag.FailedSearches)
	assert.Equal(t, seq[0].Points, seq[1].Points)
	assert.Equal(t, base.Faces, seq[1].Faces)
}

func TestMeshProfilesPreconditions(t *testing.T) {
	base := octahedron(r3.Vec{X: 12, Y: 12, Z: 12}, 6)

	_, _, err := MeshProfiles(&models.ProfileVolume{}, base, DefaultParams())
	assert.True(t, models.IsKind(err, models.KindConfiguration))

	outside := octahedron(r3.Vec{X: 12, Y: 12, Z: 12}, 40)
	_, _, err = MeshProfiles(sphereProfiles(12, 6, 9), outside, DefaultParams())
	assert.True(t, models.IsKind(err, models.KindConfiguration))

	broken := base.Clone()
	broken.Faces = append(broken.Faces, [3]int{0, 1, 99})
	_, _, err = MeshProfiles(sphereProfiles(12, 6, 9), broken, DefaultParams())
	assert.True(t, models.IsKind(err, models.KindConfiguration))
}

func TestLayerSpacing(t *testing.T) {
	c := r3.Vec{X: 12, Y: 12, Z: 12}
	seq := models.DepthMeshSequence{octahedron(c, 6), octahedron(c, 7.5), octahedron(c, 9)}

	sp := LayerSpacing(seq)
	require.Len(t, sp, 2)
	for i, s := range sp {
		assert.Equal(t, i+1, s.Depth)
		assert.InDelta(t, 1.5, s.Mean, 1e-9)
		assert.InDelta(t, 0, s.StdDev, 1e-9)
		assert.InDelta(t, 1.5, s.Min, 1e-9)
		assert.InDelta(t, 1.5, s.Max, 1e-9)
	}
}
