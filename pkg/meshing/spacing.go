package meshing

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"mrilaminar/internal/models"
)

// Spacing summarizes the distance from each vertex of one depth mesh to the
// nearest vertex of the previous depth mesh.
type Spacing struct {
	Depth  int     `json:"depth"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// LayerSpacing measures how far consecutive meshes of seq lie from each other.
// Entry k-1 compares depth k against depth k-1. Meshes without vertices are
// skipped.
func LayerSpacing(seq models.DepthMeshSequence) []Spacing {
	var out []Spacing
	for k := 1; k < len(seq); k++ {
		prev, cur := seq[k-1], seq[k]
		if len(prev.Points) == 0 || len(cur.Points) == 0 {
			continue
		}
		pts := make(vertices, len(prev.Points))
		for i, p := range prev.Points {
			pts[i] = vertex(p)
		}
		tree := kdtree.New(pts, false)

		dists := make([]float64, len(cur.Points))
		for i, p := range cur.Points {
			_, d2 := tree.Nearest(vertex(p))
			dists[i] = math.Sqrt(d2)
		}
		mean, std := stat.MeanStdDev(dists, nil)
		s := Spacing{Depth: k, Mean: mean, StdDev: std, Min: dists[0], Max: dists[0]}
		for _, d := range dists {
			s.Min = math.Min(s.Min, d)
			s.Max = math.Max(s.Max, d)
		}
		if len(dists) == 1 {
			s.StdDev = 0
		}
		out = append(out, s)
	}
	return out
}

// vertex implements kdtree.Comparable for mesh points.
type vertex r3.Vec

func (p vertex) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(vertex)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

func (p vertex) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (p vertex) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(r3.Vec(p), r3.Vec(c.(vertex))))
}

// vertices satisfies kdtree.Interface.
type vertices []vertex

func (p vertices) Index(i int) kdtree.Comparable         { return p[i] }
func (p vertices) Len() int                              { return len(p) }
func (p vertices) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p vertices) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{vertices: p, Dim: d}, kdtree.MedianOfMedians(plane{vertices: p, Dim: d}))
}

// plane sorts vertices along one dimension.
type plane struct {
	vertices
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.vertices[i].X < p.vertices[j].X
	case 1:
		return p.vertices[i].Y < p.vertices[j].Y
	case 2:
		return p.vertices[i].Z < p.vertices[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{vertices: p.vertices[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.vertices[i], p.vertices[j] = p.vertices[j], p.vertices[i]
}
