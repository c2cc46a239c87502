// Package meshing resamples a surface mesh onto every layer boundary of a
// profile volume, producing one mesh per depth with unchanged connectivity.
package meshing

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/logger"
	"mrilaminar/internal/models"
	"mrilaminar/internal/workers"
	"mrilaminar/pkg/interpolation"
)

// Stage is the name reported in errors and diagnostics.
const Stage = "meshing"

// Params controls the vertex search.
type Params struct {
	Search     interpolation.SearchOptions
	NumWorkers int
}

// DefaultParams returns the default search bounds.
func DefaultParams() Params {
	return Params{Search: interpolation.DefaultSearchOptions()}
}

// domainSlack is how far, in voxels, a base vertex may lie outside the grid.
const domainSlack = 0.5

// MeshProfiles moves every vertex of base onto each boundary surface of the
// profile volume's geometry, innermost first. At each depth the search starts
// from the vertex position found at the previous depth and follows the
// surface normal to the zero crossing; a vertex whose search fails keeps the
// previous position. Mesh coordinates are world coordinates.
func MeshProfiles(profiles *models.ProfileVolume, base *models.Mesh, p Params) (models.DepthMeshSequence, models.Diagnostics, error) {
	start := time.Now()
	diag := models.Diagnostics{Stage: Stage}

	if profiles == nil || profiles.Geometry == nil {
		return nil, diag, models.NewStageError(Stage, models.KindConfiguration, "profile volume carries layer geometry",
			"no layer boundaries attached to the profile volume")
	}
	stack := profiles.Geometry
	if err := stack.Validate(); err != nil {
		return nil, diag, &models.StageError{Stage: Stage, Kind: models.KindConfiguration, Precondition: "layer stack shape", Err: err}
	}
	if s := profiles.Samples; s != nil && s.Frames != len(stack.Surfaces) {
		return nil, diag, models.NewStageError(Stage, models.KindConfiguration, "one profile frame per boundary",
			"%d profile frames for %d boundaries", s.Frames, len(stack.Surfaces))
	}
	if err := base.Validate(); err != nil {
		return nil, diag, &models.StageError{Stage: Stage, Kind: models.KindConfiguration, Precondition: "base mesh faces", Err: err}
	}
	if !(p.Search.Radius > 0) {
		return nil, diag, models.NewStageError(Stage, models.KindConfiguration, "search radius > 0",
			"search radius %g", p.Search.Radius)
	}

	ref := stack.Surfaces[0]
	toWorld := ref.Affine
	if toWorld.IsZero() {
		toWorld = models.ScalingAffine(ref.Res)
	}
	toVoxel, err := toWorld.Inverse()
	if err != nil {
		return nil, diag, &models.StageError{Stage: Stage, Kind: models.KindConfiguration, Precondition: "invertible affine", Err: err}
	}

	// Step 1: base vertices in voxel space
	origins := make([]r3.Vec, len(base.Points))
	for i, pt := range base.Points {
		v := toVoxel.Apply(pt)
		if !withinGrid(ref, v) {
			return nil, diag, models.NewStageError(Stage, models.KindConfiguration, "base mesh lies within the volume",
				"vertex %d at %v maps to voxel %v outside %v", i, pt, v, ref.Dims)
		}
		origins[i] = clampVoxel(ref, v)
	}

	// Step 2: walk every vertex through the depths
	depths := len(stack.Surfaces)
	seq := make(models.DepthMeshSequence, depths)
	for k := range seq {
		seq[k] = &models.Mesh{
			Points: make([]r3.Vec, len(base.Points)),
			Faces:  make([][3]int, len(base.Faces)),
		}
		copy(seq[k].Faces, base.Faces)
	}

	var mu sync.Mutex
	failed := 0
	workers.Range(len(origins), p.NumWorkers, func(_, lo, hi int) {
		local := 0
		for i := lo; i < hi; i++ {
			pos := origins[i]
			for k, surf := range stack.Surfaces {
				if q, ok := interpolation.ProjectToZero(surf, pos, p.Search); ok {
					pos = q
				} else {
					local++
				}
				seq[k].Points[i] = toWorld.Apply(pos)
			}
		}
		mu.Lock()
		failed += local
		mu.Unlock()
	})

	diag.FailedSearches = failed
	diag.Elapsed = time.Since(start)
	logger.L().Debug("meshing.done",
		"vertices", len(base.Points),
		"faces", len(base.Faces),
		"depths", depths,
		"failedSearches", failed,
		"elapsed", diag.Elapsed)
	return seq, diag, nil
}

func withinGrid(v *models.Volume, p r3.Vec) bool {
	c := [3]float64{p.X, p.Y, p.Z}
	for a := 0; a < 3; a++ {
		if c[a] < -domainSlack || c[a] > float64(v.Dims[a]-1)+domainSlack {
			return false
		}
	}
	return true
}

func clampVoxel(v *models.Volume, p r3.Vec) r3.Vec {
	clamp := func(x float64, n int) float64 {
		if x < 0 {
			return 0
		}
		if m := float64(n - 1); x > m {
			return m
		}
		return x
	}
	return r3.Vec{X: clamp(p.X, v.Dims[0]), Y: clamp(p.Y, v.Dims[1]), Z: clamp(p.Z, v.Dims[2])}
}
