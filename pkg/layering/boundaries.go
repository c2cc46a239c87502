package layering

import (
	"container/heap"
	"errors"

	"mrilaminar/internal/models"
	"mrilaminar/pkg/distance"
	"mrilaminar/pkg/topology"
)

// rawField builds the unconstrained field of the surface at depth d: the
// signed distance to the inner boundary minus the distance at which the local
// shell model places depth d. Outside the laminar domain it follows the
// nearer boundary.
func rawField(geo *geometry, d float64, p Params) []float64 {
	inner, outer := geo.inner, geo.outer
	raw := make([]float64, inner.Len())
	for i := range raw {
		switch {
		case inner.Data[i] < 0:
			raw[i] = inner.Data[i]
		case !geo.inDomain[i]:
			raw[i] = outer.Data[i]
		case p.Model == Equivolume && geo.shellOK[i]:
			raw[i] = geo.dIn[i] - geo.shells[i].distanceAt(d)
		default:
			raw[i] = geo.dIn[i] - d*geo.thickness[i]
		}
	}
	return raw
}

// exclude moves every voxel of {raw < 0} that the growth rejected to just
// outside the surface, at eps, and returns how many there were.
func exclude(raw []float64, grown []bool, eps float64) int {
	rejected := 0
	for i, v := range raw {
		if v < 0 && !grown[i] {
			rejected++
			raw[i] = eps
		}
	}
	return rejected
}

// redistance rebuilds a signed distance field from the zero crossing of raw.
func redistance(ref *models.Volume, raw []float64) (*models.Volume, error) {
	dist, err := distance.SignedDistance(raw, ref.Dims, ref.Res)
	if err != nil {
		if errors.Is(err, distance.ErrNoCrossing) {
			return nil, &models.StageError{Stage: Stage, Kind: models.KindDegenerateInput, Precondition: "boundary surface has a crossing", Err: err}
		}
		return nil, err
	}
	out := models.NewVolumeLike(ref)
	out.Data = dist
	return out, nil
}

// growHomotopic returns the interior reachable from seed by adding simple
// points of {raw < 0}, cheapest first. Every seed voxel stays inside, so a
// surface grown from the interior of the one below it contains that surface
// and keeps its topology.
func growHomotopic(ref *models.Volume, seed []bool, raw []float64, passes int, table *topology.Table) []bool {
	n := ref.Len()
	in := make([]bool, n)
	queued := make([]bool, n)
	copy(in, seed)
	member := func(x, y, z int) bool {
		return ref.InBounds(x, y, z) && in[ref.Index(x, y, z)]
	}

	q := &candidates{}
	push := func(i int) {
		if in[i] || queued[i] || raw[i] >= 0 {
			return
		}
		queued[i] = true
		heap.Push(q, candidate{idx: i, val: raw[i]})
	}
	pushNeighbors := func(i int) {
		x, y, z := ref.Coords(i)
		for _, o := range faceOffsets {
			if ref.InBounds(x+o[0], y+o[1], z+o[2]) {
				push(ref.Index(x+o[0], y+o[1], z+o[2]))
			}
		}
	}

	for i := range in {
		if in[i] {
			pushNeighbors(i)
		}
	}

	var deferred []int
	drain := func() bool {
		added := false
		for q.Len() > 0 {
			c := heap.Pop(q).(candidate)
			queued[c.idx] = false
			if in[c.idx] {
				continue
			}
			x, y, z := ref.Coords(c.idx)
			if table.IsSimple(topology.Pattern(member, x, y, z)) {
				in[c.idx] = true
				added = true
				pushNeighbors(c.idx)
			} else {
				deferred = append(deferred, c.idx)
			}
		}
		return added
	}

	drain()
	for pass := 0; pass < passes && len(deferred) > 0; pass++ {
		pending := deferred
		deferred = nil
		for _, i := range pending {
			push(i)
		}
		if !drain() {
			break
		}
	}
	return in
}

var faceOffsets = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

type candidate struct {
	idx int
	val float64
}

type candidates []candidate

func (c candidates) Len() int           { return len(c) }
func (c candidates) Less(i, j int) bool { return c[i].val < c[j].val }
func (c candidates) Swap(i, j int)      { c[i], c[j] = c[j], c[i] }
func (c *candidates) Push(x any)        { *c = append(*c, x.(candidate)) }
func (c *candidates) Pop() any {
	old := *c
	n := len(old)
	it := old[n-1]
	*c = old[:n-1]
	return it
}
