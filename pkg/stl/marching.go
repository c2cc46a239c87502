// Package stl extracts iso-surfaces of level sets as indexed triangle meshes
// and writes them as binary STL files.
package stl

import (
	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

// MarchingTetrahedra extracts the iso-surface of a volume. Every voxel cube is
// split into six tetrahedra sharing the cube's main diagonal; neighbouring
// cubes split their shared faces along the same diagonal, so the surface is
// closed wherever it does not leave the grid.
type MarchingTetrahedra struct {
	vol      *models.Volume
	isoLevel float64
	toWorld  models.Affine
}

// cubeCorners are the voxel offsets of the eight cube corners.
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// cubeTetrahedra splits a cube around the diagonal from corner 0 to corner 6.
var cubeTetrahedra = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

// NewMarchingTetrahedra creates an extractor for the isoLevel surface of v.
// Values below isoLevel are inside. Vertices are placed in world coordinates
// using the affine of v.
func NewMarchingTetrahedra(v *models.Volume, isoLevel float64) *MarchingTetrahedra {
	a := v.Affine
	if a.IsZero() {
		a = models.ScalingAffine(v.Res)
	}
	return &MarchingTetrahedra{vol: v, isoLevel: isoLevel, toWorld: a}
}

// SetAffine overrides the voxel-to-world transform.
func (mt *MarchingTetrahedra) SetAffine(a models.Affine) {
	mt.toWorld = a
}

// edgeKey identifies a surface vertex by the grid edge it lies on. A vertex
// that coincides with a grid point uses that point with b = -1.
type edgeKey struct{ a, b int }

// Extract returns the iso-surface as an indexed mesh. Triangles are wound so
// their normals point from the inside towards the outside.
func (mt *MarchingTetrahedra) Extract() *models.Mesh {
	v := mt.vol
	mesh := &models.Mesh{}
	index := make(map[edgeKey]int)

	vertexOn := func(a, b int) int {
		va, vb := v.Data[a], v.Data[b]
		t := (mt.isoLevel - va) / (vb - va)
		key := edgeKey{a, b}
		if a > b {
			key = edgeKey{b, a}
		}
		switch {
		case t <= 0:
			key = edgeKey{a, -1}
		case t >= 1:
			key = edgeKey{b, -1}
		}
		if idx, ok := index[key]; ok {
			return idx
		}

		ax, ay, az := v.Coords(a)
		bx, by, bz := v.Coords(b)
		pa := r3.Vec{X: float64(ax), Y: float64(ay), Z: float64(az)}
		pb := r3.Vec{X: float64(bx), Y: float64(by), Z: float64(bz)}
		var p r3.Vec
		switch {
		case t <= 0:
			p = pa
		case t >= 1:
			p = pb
		default:
			p = r3.Add(pa, r3.Scale(t, r3.Sub(pb, pa)))
		}
		idx := len(mesh.Points)
		mesh.Points = append(mesh.Points, mt.toWorld.Apply(p))
		index[key] = idx
		return idx
	}

	var corner [8]int
	for z := 0; z+1 < v.Dims[2]; z++ {
		for y := 0; y+1 < v.Dims[1]; y++ {
			for x := 0; x+1 < v.Dims[0]; x++ {
				for c, o := range cubeCorners {
					corner[c] = v.Index(x+o[0], y+o[1], z+o[2])
				}
				for _, tet := range cubeTetrahedra {
					mt.polygonize(mesh, [4]int{corner[tet[0]], corner[tet[1]], corner[tet[2]], corner[tet[3]]}, vertexOn)
				}
			}
		}
	}
	return mesh
}

// polygonize emits the part of the surface crossing one tetrahedron.
func (mt *MarchingTetrahedra) polygonize(mesh *models.Mesh, tet [4]int, vertexOn func(a, b int) int) {
	var in, out []int
	for _, c := range tet {
		if mt.vol.Data[c] < mt.isoLevel {
			in = append(in, c)
		} else {
			out = append(out, c)
		}
	}

	switch len(in) {
	case 1:
		mt.addFace(mesh, in, out, vertexOn(in[0], out[0]), vertexOn(in[0], out[1]), vertexOn(in[0], out[2]))
	case 3:
		mt.addFace(mesh, in, out, vertexOn(in[0], out[0]), vertexOn(in[1], out[0]), vertexOn(in[2], out[0]))
	case 2:
		// The crossing is a quad with corners on the four in-out edges
		a := vertexOn(in[0], out[0])
		b := vertexOn(in[0], out[1])
		c := vertexOn(in[1], out[1])
		d := vertexOn(in[1], out[0])
		mt.addFace(mesh, in, out, a, b, c)
		mt.addFace(mesh, in, out, a, c, d)
	}
}

// addFace appends a triangle oriented away from the inside corners. Faces
// collapsed onto a grid point are dropped.
func (mt *MarchingTetrahedra) addFace(mesh *models.Mesh, in, out []int, a, b, c int) {
	if a == b || b == c || a == c {
		return
	}
	outward := r3.Sub(mt.centroid(out), mt.centroid(in))
	pa, pb, pc := mesh.Points[a], mesh.Points[b], mesh.Points[c]
	n := r3.Cross(r3.Sub(pb, pa), r3.Sub(pc, pa))
	if r3.Dot(n, outward) < 0 {
		b, c = c, b
	}
	mesh.Faces = append(mesh.Faces, [3]int{a, b, c})
}

func (mt *MarchingTetrahedra) centroid(idx []int) r3.Vec {
	var s r3.Vec
	for _, i := range idx {
		x, y, z := mt.vol.Coords(i)
		s = r3.Add(s, r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)})
	}
	return mt.toWorld.Apply(r3.Scale(1/float64(len(idx)), s))
}
