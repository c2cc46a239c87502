// Package levelset converts tissue probability maps into signed distance
// level sets.
package levelset

import (
	"errors"
	"fmt"
	"math"
	"time"

	"mrilaminar/internal/logger"
	"mrilaminar/internal/models"
	"mrilaminar/pkg/distance"
)

// Stage is the name reported in errors and diagnostics.
const Stage = "levelset"

// Params controls the conversion.
type Params struct {
	// IsoLevel is the probability of the target boundary
	IsoLevel float64

	// Clamp accepts probabilities marginally outside [0,1] by clamping them;
	// when false such values are rejected
	Clamp bool

	// ClampTolerance is how far outside [0,1] a value may lie before it is
	// rejected even when Clamp is set
	ClampTolerance float64
}

// DefaultParams targets the 0.5 iso-surface and clamps rounding noise.
func DefaultParams() Params {
	return Params{
		IsoLevel:       0.5,
		Clamp:          true,
		ClampTolerance: 0.05,
	}
}

// Build computes the signed distance (in mm) to the iso-surface of a tissue
// probability map. Voxels with probability above the iso level are inside
// and receive negative values. The input is not modified.
//
// A probability map that never crosses the iso level yields a
// DegenerateInput error; out of range values yield a DegenerateInput error
// unless they are within the clamp tolerance.
func Build(prob *models.Volume, p Params) (*models.Volume, models.Diagnostics, error) {
	start := time.Now()
	diag := models.Diagnostics{Stage: Stage}

	if err := prob.Validate(); err != nil {
		return nil, diag, &models.StageError{Stage: Stage, Kind: models.KindConfiguration, Precondition: "probability volume shape", Err: err}
	}
	if !(p.IsoLevel > 0 && p.IsoLevel < 1) {
		return nil, diag, models.NewStageError(Stage, models.KindConfiguration, "iso level in (0,1)",
			"iso level %g is outside (0,1)", p.IsoLevel)
	}

	// Step 1: shift the probabilities so the boundary is the zero crossing
	phi := make([]float64, prob.Len())
	inside, outside := 0, 0
	for i, v := range prob.Data {
		pv, err := checkProbability(v, p)
		if err != nil {
			x, y, z := prob.Coords(i)
			return nil, diag, &models.StageError{
				Stage:        Stage,
				Kind:         models.KindDegenerateInput,
				Precondition: "probabilities in [0,1]",
				Err:          fmt.Errorf("voxel (%d,%d,%d): %w", x, y, z, err),
			}
		}
		phi[i] = p.IsoLevel - pv
		if phi[i] < 0 {
			inside++
		} else {
			outside++
		}
	}
	if inside == 0 || outside == 0 {
		return nil, diag, models.NewStageError(Stage, models.KindDegenerateInput, "probability crosses iso level",
			"no voxel crosses probability %g (%d inside, %d outside)", p.IsoLevel, inside, outside)
	}

	// Step 2: rebuild physical distances from the crossing
	dist, err := distance.SignedDistance(phi, prob.Dims, prob.Res)
	if err != nil {
		if errors.Is(err, distance.ErrNoCrossing) {
			return nil, diag, &models.StageError{Stage: Stage, Kind: models.KindDegenerateInput, Precondition: "probability crosses iso level", Err: err}
		}
		return nil, diag, &models.StageError{Stage: Stage, Kind: models.KindResource, Precondition: "distance transform", Err: err}
	}

	out := models.NewVolumeLike(prob)
	out.Data = dist
	diag.Elapsed = time.Since(start)

	logger.L().Debug("levelset.built",
		"dims", prob.Dims, "inside", inside, "outside", outside, "elapsed", diag.Elapsed)
	return out, diag, nil
}

func checkProbability(v float64, p Params) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("probability is not finite")
	}
	if v >= 0 && v <= 1 {
		return v, nil
	}
	if p.Clamp && v >= -p.ClampTolerance && v <= 1+p.ClampTolerance {
		return math.Min(math.Max(v, 0), 1), nil
	}
	return 0, fmt.Errorf("probability %g outside [0,1]", v)
}
