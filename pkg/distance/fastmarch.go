// Package distance computes signed distance fields on anisotropic voxel grids.
//
// SignedDistance rebuilds a distance function from the zero crossing of an
// arbitrary field using the fast marching method: voxels adjacent to the
// crossing are initialised with a sub-voxel estimate obtained by linear
// interpolation along each axis, then distances are propagated outward with
// a first order upwind scheme that uses the physical voxel size on every
// axis.
package distance

import (
	"container/heap"
	"errors"
	"math"
	"sort"
)

// ErrNoCrossing is returned when the field is entirely negative or entirely
// non-negative, so there is no surface to measure distances from.
var ErrNoCrossing = errors.New("field has no zero crossing")

const (
	far uint8 = iota
	trial
	frozen
)

// SignedDistance returns a field of the same layout as phi whose magnitude
// approximates the physical distance (in units of res) to the zero crossing
// of phi. Voxels with phi < 0 are inside and receive negative distances.
// phi is stored in column-major order with dimensions dims.
func SignedDistance(phi []float64, dims [3]int, res [3]float64) ([]float64, error) {
	n := dims[0] * dims[1] * dims[2]
	if len(phi) != n {
		return nil, errors.New("field length does not match dimensions")
	}

	g := grid{dims: dims, res: res}
	dist := make([]float64, n)
	state := make([]uint8, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}

	// Step 1: initialise the voxels straddling the interface
	band := 0
	for i := 0; i < n; i++ {
		d, ok := g.interfaceDistance(phi, i)
		if !ok {
			continue
		}
		dist[i] = d
		state[i] = frozen
		band++
	}
	if band == 0 {
		return nil, ErrNoCrossing
	}

	// Step 2: seed the narrow band around the frozen interface
	q := &queue{}
	var nb [6]int
	for i := 0; i < n; i++ {
		if state[i] != frozen {
			continue
		}
		for _, j := range g.neighbors(i, nb[:0]) {
			if state[j] == frozen {
				continue
			}
			if u := g.solve(dist, state, j); u < dist[j] {
				dist[j] = u
				state[j] = trial
				heap.Push(q, item{idx: j, d: u})
			}
		}
	}

	// Step 3: march outward in order of increasing distance
	for q.Len() > 0 {
		it := heap.Pop(q).(item)
		if state[it.idx] == frozen || it.d > dist[it.idx] {
			continue
		}
		state[it.idx] = frozen
		for _, j := range g.neighbors(it.idx, nb[:0]) {
			if state[j] == frozen {
				continue
			}
			if u := g.solve(dist, state, j); u < dist[j] {
				dist[j] = u
				state[j] = trial
				heap.Push(q, item{idx: j, d: u})
			}
		}
	}

	for i := range dist {
		if phi[i] < 0 {
			dist[i] = -dist[i]
		}
	}
	return dist, nil
}

type grid struct {
	dims [3]int
	res  [3]float64
}

func (g grid) stride(axis int) int {
	switch axis {
	case 0:
		return 1
	case 1:
		return g.dims[0]
	}
	return g.dims[0] * g.dims[1]
}

func (g grid) coord(i, axis int) int {
	switch axis {
	case 0:
		return i % g.dims[0]
	case 1:
		return (i / g.dims[0]) % g.dims[1]
	}
	return i / (g.dims[0] * g.dims[1])
}

// neighbors appends the face neighbours of voxel i to buf.
func (g grid) neighbors(i int, buf []int) []int {
	for a := 0; a < 3; a++ {
		c := g.coord(i, a)
		s := g.stride(a)
		if c > 0 {
			buf = append(buf, i-s)
		}
		if c < g.dims[a]-1 {
			buf = append(buf, i+s)
		}
	}
	return buf
}

// interfaceDistance estimates the distance from voxel i to the zero crossing
// when one of its face neighbours lies on the other side of it.
func (g grid) interfaceDistance(phi []float64, i int) (float64, bool) {
	in := phi[i] < 0
	var inv2 float64
	found := false
	for a := 0; a < 3; a++ {
		c := g.coord(i, a)
		s := g.stride(a)
		best := math.Inf(1)
		for _, dir := range [2]int{-1, 1} {
			if (dir < 0 && c == 0) || (dir > 0 && c == g.dims[a]-1) {
				continue
			}
			j := i + dir*s
			if (phi[j] < 0) == in {
				continue
			}
			t := phi[i] / (phi[i] - phi[j])
			if d := t * g.res[a]; d < best {
				best = d
			}
		}
		if math.IsInf(best, 1) {
			continue
		}
		found = true
		if best <= 0 {
			return 0, true
		}
		inv2 += 1 / (best * best)
	}
	if !found {
		return 0, false
	}
	return 1 / math.Sqrt(inv2), true
}

type upwind struct {
	a, h float64
}

// solve evaluates the upwind Eikonal update for voxel i from its frozen
// neighbours.
func (g grid) solve(dist []float64, state []uint8, i int) float64 {
	var terms [3]upwind
	m := 0
	for a := 0; a < 3; a++ {
		c := g.coord(i, a)
		s := g.stride(a)
		best := math.Inf(1)
		if c > 0 && state[i-s] == frozen {
			best = dist[i-s]
		}
		if c < g.dims[a]-1 && state[i+s] == frozen && dist[i+s] < best {
			best = dist[i+s]
		}
		if !math.IsInf(best, 1) {
			terms[m] = upwind{a: best, h: g.res[a]}
			m++
		}
	}
	if m == 0 {
		return math.Inf(1)
	}
	ts := terms[:m]
	sort.Slice(ts, func(x, y int) bool { return ts[x].a < ts[y].a })

	u := ts[0].a + ts[0].h
	for k := 2; k <= m; k++ {
		if u <= ts[k-1].a {
			break
		}
		var qa, qb, qc float64
		for _, t := range ts[:k] {
			w := 1 / (t.h * t.h)
			qa += w
			qb -= 2 * t.a * w
			qc += t.a * t.a * w
		}
		qc -= 1
		disc := qb*qb - 4*qa*qc
		if disc < 0 {
			break
		}
		u = (-qb + math.Sqrt(disc)) / (2 * qa)
	}
	return u
}

type item struct {
	idx int
	d   float64
}

// queue is a min-heap of trial voxels keyed by tentative distance. Stale
// entries are skipped on pop instead of being updated in place.
type queue []item

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].d < q[j].d }
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)        { *q = append(*q, x.(item)) }
func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
