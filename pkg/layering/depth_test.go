package layering

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellDepthMatchesSphere(t *testing.T) {
	// Inner sphere radius 20, outer 24: curvature of the inner boundary 1/20
	sh, ok := newShell(2, 4, 1.0/20)
	require.True(t, ok)
	want := (math.Pow(22, 3) - math.Pow(20, 3)) / (math.Pow(24, 3) - math.Pow(20, 3))
	assert.InDelta(t, want, sh.depth(), 1e-12)
}

func TestShellDistanceInvertsDepth(t *testing.T) {
	for _, curv := range []float64{-0.15, -0.05, 0, 0.05, 0.3} {
		for _, dIn := range []float64{0, 0.7, 1.9, 3} {
			sh, ok := newShell(dIn, 3, curv)
			require.True(t, ok, "curv %v", curv)
			assert.InDelta(t, dIn, sh.distanceAt(sh.depth()), 1e-9, "curv %v dIn %v", curv, dIn)
		}
	}
}

func TestShellDegenerate(t *testing.T) {
	_, ok := newShell(1, 4, -0.25)
	assert.False(t, ok, "1+cT = 0 collapses the layer")

	_, ok = newShell(1, 4, math.NaN())
	assert.False(t, ok)

	sh, ok := newShell(1, 4, 1e-9)
	require.True(t, ok)
	assert.InDelta(t, 0.25, sh.depth(), 1e-12)
}

func TestInnerCurvature(t *testing.T) {
	// level set 3mm above a sphere of radius 10 has curvature 1/13
	c, ok := innerCurvature(1.0/13, 3)
	require.True(t, ok)
	assert.InDelta(t, 0.1, c, 1e-12)

	_, ok = innerCurvature(1, 2)
	assert.False(t, ok)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, int32(0), label(0, 10))
	assert.Equal(t, int32(3), label(0.35, 10))
	assert.Equal(t, int32(9), label(0.999, 10))
	assert.Equal(t, int32(9), label(1, 10))
	assert.Equal(t, int32(0), label(1, 1))
}

func TestParseDepthModel(t *testing.T) {
	m, err := ParseDepthModel("Equidistance")
	require.NoError(t, err)
	assert.Equal(t, Equidistance, m)

	m, err = ParseDepthModel("")
	require.NoError(t, err)
	assert.Equal(t, Equivolume, m)

	_, err = ParseDepthModel("laplace")
	assert.Error(t, err)
	assert.Equal(t, "equivolume", Equivolume.String())
}
