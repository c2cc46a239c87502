// Package layering computes the laminar structure of the domain between two
// nested boundary level sets: a continuous depth map, discrete layer labels
// and the level sets of the intermediate layer boundaries.
package layering

import (
	"fmt"
	"math"
	"sync"
	"time"

	"mrilaminar/internal/logger"
	"mrilaminar/internal/models"
	"mrilaminar/internal/workers"
	"mrilaminar/pkg/interpolation"
	"mrilaminar/pkg/topology"
)

// Stage is the name reported in errors and diagnostics.
const Stage = "layering"

// Params controls the layering.
type Params struct {
	// NumLayers is the number of layers between the boundaries
	NumLayers int

	// Model selects the depth parameterization
	Model DepthModel

	// NestingTolerance is the fraction of the inner boundary's interior that
	// may lie outside the outer boundary and still be corrected locally
	NestingTolerance float64

	// TopologyPasses is how many times voxels rejected by the topology test
	// are retried while extracting a boundary surface
	TopologyPasses int

	// NumWorkers is the number of goroutines; below one uses every CPU
	NumWorkers int
}

// DefaultParams returns ten equivolume layers.
func DefaultParams() Params {
	return Params{
		NumLayers:        10,
		Model:            Equivolume,
		NestingTolerance: 0.05,
		TopologyPasses:   4,
	}
}

// Result holds the outputs of a layering run.
type Result struct {
	// Depth is 0 on the inner boundary and 1 on the outer boundary, NaN
	// outside the laminar domain
	Depth *models.Volume

	// Layers assigns each domain voxel a layer in [0, NumLayers)
	Layers *models.LabelVolume

	// Boundaries holds NumLayers+1 level sets, inner boundary first
	Boundaries *models.LayerStack

	Diagnostics models.Diagnostics
}

// geometry caches the per-voxel quantities shared by the depth map and the
// boundary extraction.
type geometry struct {
	inner, outer *models.Volume // outer is corrected to nest around inner
	dIn          []float64
	thickness    []float64
	shells       []shell
	shellOK      []bool
	inDomain     []bool
}

// Layer computes depth, layer labels and layer boundaries between the inner
// and outer level sets. Both inputs use the negative-inside convention and
// must share a grid. Neither input is modified.
func Layer(inner, outer *models.Volume, p Params) (*Result, error) {
	start := time.Now()
	diag := models.Diagnostics{Stage: Stage}

	// Step 1: check the preconditions
	if err := validate(inner, outer, p); err != nil {
		return nil, err
	}
	corrected, violations, err := nest(inner, outer, p.NestingTolerance)
	if err != nil {
		return nil, err
	}
	diag.NestingCorrections = violations

	// Step 2: local shell geometry and continuous depth
	geo, depth, labels, fallback := computeDepth(inner, corrected, p)
	diag.FallbackVoxels = fallback

	// Step 3: intermediate boundary surfaces
	stack, ambiguous, err := extractBoundaries(geo, p)
	if err != nil {
		return nil, err
	}
	diag.AmbiguousVoxels = ambiguous
	diag.Elapsed = time.Since(start)

	logger.L().Debug("layering.done",
		"layers", p.NumLayers,
		"model", p.Model.String(),
		"nestingCorrections", diag.NestingCorrections,
		"fallbackVoxels", diag.FallbackVoxels,
		"ambiguousVoxels", diag.AmbiguousVoxels,
		"elapsed", diag.Elapsed)

	return &Result{
		Depth:       depth,
		Layers:      labels,
		Boundaries:  stack,
		Diagnostics: diag,
	}, nil
}

func validate(inner, outer *models.Volume, p Params) error {
	if err := inner.Validate(); err != nil {
		return &models.StageError{Stage: Stage, Kind: models.KindConfiguration, Precondition: "inner level set shape", Err: err}
	}
	if err := outer.Validate(); err != nil {
		return &models.StageError{Stage: Stage, Kind: models.KindConfiguration, Precondition: "outer level set shape", Err: err}
	}
	if !inner.SameGrid(outer) {
		return models.NewStageError(Stage, models.KindConfiguration, "matching grids",
			"inner %v@%v and outer %v@%v differ", inner.Dims, inner.Res, outer.Dims, outer.Res)
	}
	if p.NumLayers < 1 {
		return models.NewStageError(Stage, models.KindConfiguration, "n_layers >= 1",
			"layer count %d", p.NumLayers)
	}
	if p.NestingTolerance < 0 || p.NestingTolerance > 1 {
		return models.NewStageError(Stage, models.KindConfiguration, "nesting tolerance in [0,1]",
			"nesting tolerance %g", p.NestingTolerance)
	}
	if !inner.HasSignChange() {
		return models.NewStageError(Stage, models.KindDegenerateInput, "inner level set delimits a volume",
			"inner level set has no interior or no exterior")
	}
	if !outer.HasSignChange() {
		return models.NewStageError(Stage, models.KindDegenerateInput, "outer level set delimits a volume",
			"outer level set has no interior or no exterior")
	}
	return nil
}

// nest returns a copy of outer that encloses inner everywhere. Voxels inside
// the inner boundary but outside the outer one are counted; when they exceed
// the tolerated fraction of the inner interior the boundaries are rejected.
func nest(inner, outer *models.Volume, tolerance float64) (*models.Volume, int, error) {
	interior, violations := 0, 0
	corrected := outer.Clone()
	for i, in := range inner.Data {
		if in < 0 {
			interior++
			if outer.Data[i] > 0 {
				violations++
			}
		}
		// Exact distance fields of nested surfaces satisfy outer <= inner
		if corrected.Data[i] > in {
			corrected.Data[i] = in
		}
	}
	if frac := float64(violations) / float64(interior); frac > tolerance {
		return nil, 0, models.NewStageError(Stage, models.KindConfiguration, "outer boundary encloses inner boundary",
			"%d of %d inner voxels (%.1f%%) lie outside the outer boundary", violations, interior, 100*frac)
	}
	return corrected, violations, nil
}

func computeDepth(inner, outer *models.Volume, p Params) (*geometry, *models.Volume, *models.LabelVolume, int) {
	n := inner.Len()
	geo := &geometry{
		inner:     inner,
		outer:     outer,
		dIn:       make([]float64, n),
		thickness: make([]float64, n),
		shells:    make([]shell, n),
		shellOK:   make([]bool, n),
		inDomain:  make([]bool, n),
	}
	depth := models.NewVolumeLike(inner)
	labels := models.NewLabelVolumeLike(inner)

	var mu sync.Mutex
	fallback := 0
	workers.Range(n, p.NumWorkers, func(_, start, end int) {
		local := 0
		for i := start; i < end; i++ {
			if inner.Data[i] < 0 || outer.Data[i] > 0 {
				depth.Data[i] = models.Background
				continue
			}
			dIn := inner.Data[i]
			thick := dIn - outer.Data[i]
			geo.inDomain[i] = true
			geo.dIn[i] = dIn
			geo.thickness[i] = thick

			d := linearDepth(dIn, thick)
			if p.Model == Equivolume && thick > 0 {
				x, y, z := inner.Coords(i)
				if sh, ok := localShell(inner, outer, x, y, z, dIn, thick); ok {
					geo.shells[i] = sh
					geo.shellOK[i] = true
					d = sh.depth()
				} else {
					local++
				}
			}
			d = clamp01(d)
			depth.Data[i] = d
			labels.Data[i] = label(d, p.NumLayers)
		}
		mu.Lock()
		fallback += local
		mu.Unlock()
	})
	return geo, depth, labels, fallback
}

// localShell estimates the curvature of the inner boundary below voxel
// (x, y, z) from the level sets of both boundaries passing through it.
func localShell(inner, outer *models.Volume, x, y, z int, dIn, thick float64) (shell, bool) {
	sum, count := 0.0, 0
	if k, ok := interpolation.MeanCurvature(inner, x, y, z); ok {
		sum += k
		count++
	}
	if k, ok := interpolation.MeanCurvature(outer, x, y, z); ok {
		sum += k
		count++
	}
	if count == 0 {
		return shell{}, false
	}
	c, ok := innerCurvature(sum/float64(count), dIn)
	if !ok {
		return shell{}, false
	}
	return newShell(dIn, thick, c)
}

func label(d float64, layers int) int32 {
	l := int(math.Floor(d * float64(layers)))
	if l >= layers {
		l = layers - 1
	}
	if l < 0 {
		l = 0
	}
	return int32(l)
}

// extractBoundaries builds the intermediate surfaces between the inner and
// outer boundaries. Surface k+1 is grown from the accepted interior of
// surface k, so every surface contains the previous one and keeps the
// topology of the inner boundary.
func extractBoundaries(geo *geometry, p Params) (*models.LayerStack, int, error) {
	n := p.NumLayers
	stack := &models.LayerStack{Surfaces: make([]*models.Volume, n+1)}
	stack.Surfaces[0] = geo.inner.Clone()
	stack.Surfaces[n] = geo.outer.Clone()
	if n == 1 {
		return stack, 0, nil
	}

	raws := make([][]float64, n+1)
	workers.Each(n-1, p.NumWorkers, func(j int) {
		k := j + 1
		raws[k] = rawField(geo, float64(k)/float64(n), p)
	})

	table := topology.NewTable()
	eps := 1e-3 * geo.inner.MinRes()
	seed := make([]bool, geo.inner.Len())
	for i, v := range geo.inner.Data {
		seed[i] = v < 0
	}
	ambiguous := 0
	for k := 1; k < n; k++ {
		grown := growHomotopic(geo.inner, seed, raws[k], p.TopologyPasses, table)
		ambiguous += exclude(raws[k], grown, eps)
		seed = grown
	}

	errs := make([]error, n+1)
	workers.Each(n-1, p.NumWorkers, func(j int) {
		k := j + 1
		stack.Surfaces[k], errs[k] = redistance(geo.inner, raws[k])
	})
	for k := range errs {
		if errs[k] != nil {
			return nil, 0, fmt.Errorf("boundary %d: %w", k, errs[k])
		}
	}

	// Re-distancing can move values near the crossing by a fraction of a
	// voxel; keep each surface at or below the one beneath it
	for k := 1; k < n; k++ {
		prev, cur := stack.Surfaces[k-1].Data, stack.Surfaces[k].Data
		for i := range cur {
			if cur[i] > prev[i] {
				cur[i] = prev[i]
			}
		}
	}

	lookups, evaluated := table.Stats()
	logger.L().Debug("layering.topology", "lookups", lookups, "configurations", evaluated, "ambiguousVoxels", ambiguous)
	return stack, ambiguous, nil
}
