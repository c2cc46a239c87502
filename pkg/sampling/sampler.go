// Package sampling projects an intensity volume onto the layer boundaries of
// the laminar domain, producing one intensity sample per voxel and depth.
package sampling

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/logger"
	"mrilaminar/internal/models"
	"mrilaminar/internal/workers"
	"mrilaminar/pkg/interpolation"
)

// Stage is the name reported in errors and diagnostics.
const Stage = "sampling"

// Params controls the sampling.
type Params struct {
	Search     interpolation.SearchOptions
	NumWorkers int
}

// DefaultParams returns the default search bounds.
func DefaultParams() Params {
	return Params{Search: interpolation.DefaultSearchOptions()}
}

// SampleProfiles samples intensity on every surface of the stack. For each
// voxel of the laminar domain (outside the inner boundary, inside the outer
// one) the voxel centre is projected along the surface normal onto each
// boundary and the intensity is interpolated there. Voxels outside the domain
// and searches that find no crossing hold models.Background.
//
// The returned profile volume references stack as its geometry; neither input
// is modified.
func SampleProfiles(stack *models.LayerStack, intensity *models.Volume, p Params) (*models.ProfileVolume, models.Diagnostics, error) {
	start := time.Now()
	diag := models.Diagnostics{Stage: Stage}

	if err := stack.Validate(); err != nil {
		return nil, diag, &models.StageError{Stage: Stage, Kind: models.KindConfiguration, Precondition: "layer stack shape", Err: err}
	}
	if err := intensity.Validate(); err != nil {
		return nil, diag, &models.StageError{Stage: Stage, Kind: models.KindConfiguration, Precondition: "intensity volume shape", Err: err}
	}
	ref := stack.Surfaces[0]
	if !intensity.SameGrid(ref) {
		return nil, diag, models.NewStageError(Stage, models.KindConfiguration, "intensity shares the layer grid",
			"intensity %v@%v, layers %v@%v", intensity.Dims, intensity.Res, ref.Dims, ref.Res)
	}
	if !(p.Search.Radius > 0) {
		return nil, diag, models.NewStageError(Stage, models.KindConfiguration, "search radius > 0",
			"search radius %g", p.Search.Radius)
	}

	inner := stack.Surfaces[0]
	outer := stack.Surfaces[stack.NumLayers()]
	depths := len(stack.Surfaces)
	out := models.NewVolume4D(ref, depths)
	n := ref.Len()

	var mu sync.Mutex
	failed, domain := 0, 0
	workers.Range(n, p.NumWorkers, func(_, lo, hi int) {
		localFailed, localDomain := 0, 0
		for i := lo; i < hi; i++ {
			if !(inner.Data[i] >= 0 && outer.Data[i] <= 0) {
				for k := 0; k < depths; k++ {
					out.Data[k*n+i] = models.Background
				}
				continue
			}
			localDomain++
			x, y, z := ref.Coords(i)
			origin := r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}
			for k, surf := range stack.Surfaces {
				val, ok := sampleAt(surf, intensity, origin, p.Search)
				if !ok {
					localFailed++
					val = models.Background
				}
				out.Data[k*n+i] = val
			}
		}
		mu.Lock()
		failed += localFailed
		domain += localDomain
		mu.Unlock()
	})

	diag.FailedSearches = failed
	diag.Elapsed = time.Since(start)
	logger.L().Debug("sampling.done",
		"depths", depths,
		"domainVoxels", domain,
		"failedSearches", failed,
		"elapsed", diag.Elapsed)

	return &models.ProfileVolume{Samples: out, Geometry: stack}, diag, nil
}

// sampleAt projects origin onto the zero crossing of surf and interpolates
// intensity there.
func sampleAt(surf, intensity *models.Volume, origin r3.Vec, opts interpolation.SearchOptions) (float64, bool) {
	q, ok := interpolation.ProjectToZero(surf, origin, opts)
	if !ok {
		return 0, false
	}
	val, ok := interpolation.Trilinear(intensity, q)
	if !ok || math.IsNaN(val) {
		return 0, false
	}
	return val, true
}
