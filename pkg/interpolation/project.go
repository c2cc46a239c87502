package interpolation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

// SearchOptions bounds the search for a zero crossing.
type SearchOptions struct {
	// Radius is the longest path, in mm, the search may travel
	Radius float64

	// Tolerance is the largest |phi| (mm) accepted as being on the surface
	Tolerance float64

	// MaxIterations caps the number of Newton steps
	MaxIterations int
}

// DefaultSearchOptions returns search bounds suited to cortical data at
// about 1mm resolution.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Radius:        10,
		Tolerance:     1e-3,
		MaxIterations: 50,
	}
}

// ProjectToZero follows the normal direction of the level set phi from the
// voxel-space position start to its zero crossing. Each step moves by
// -phi * grad / |grad|^2, the Newton update along the gradient, which lands
// on the surface in one step for an exact distance function. It returns the
// voxel-space position of the crossing and whether one was found within the
// search bounds.
func ProjectToZero(phi *models.Volume, start r3.Vec, opts SearchOptions) (r3.Vec, bool) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultSearchOptions().MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultSearchOptions().Tolerance
	}

	p := start
	travelled := 0.0
	for it := 0; it < opts.MaxIterations; it++ {
		val, ok := Trilinear(phi, p)
		if !ok || math.IsNaN(val) {
			return start, false
		}
		if math.Abs(val) <= opts.Tolerance {
			return p, true
		}

		g := Gradient(phi, p)
		n2 := r3.Norm2(g)
		if n2 < minGradient*minGradient {
			return start, false
		}

		step := r3.Scale(-val/n2, g)
		length := r3.Norm(step)
		if travelled+length > opts.Radius {
			return start, false
		}
		travelled += length

		next := r3.Add(p, ToVoxel(phi, step))
		if !Inside(phi, next) {
			// Stop at the border, the crossing may still be reachable there
			next = clampToGrid(phi, next)
		}
		p = next
	}

	if val, ok := Trilinear(phi, p); ok && math.Abs(val) <= opts.Tolerance {
		return p, true
	}
	return start, false
}

func clampToGrid(v *models.Volume, p r3.Vec) r3.Vec {
	clamp := func(x float64, n int) float64 {
		return math.Min(math.Max(x, 0), float64(n-1))
	}
	return r3.Vec{
		X: clamp(p.X, v.Dims[0]),
		Y: clamp(p.Y, v.Dims[1]),
		Z: clamp(p.Z, v.Dims[2]),
	}
}
