package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

// Triangle is one facet of an STL file.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Triangles converts an indexed mesh into STL facets with unit normals.
func Triangles(m *models.Mesh) []Triangle {
	out := make([]Triangle, 0, len(m.Faces))
	for _, f := range m.Faces {
		a, b, c := m.Points[f[0]], m.Points[f[1]], m.Points[f[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		if l := r3.Norm(n); l > 0 {
			n = r3.Scale(1/l, n)
		}
		out = append(out, Triangle{
			Normal:  vec32(n),
			Vertex1: vec32(a),
			Vertex2: vec32(b),
			Vertex3: vec32(c),
		})
	}
	return out
}

func vec32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// SaveToSTL writes triangles to a binary STL file.
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	header := make([]byte, 80)
	copy(header, "mrilaminar iso-surface")
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %w", err)
	}

	buf := make([]byte, 50)
	for _, t := range triangles {
		off := 0
		for _, v := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, c := range v {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(c))
				off += 4
			}
		}
		// attribute byte count
		buf[48], buf[49] = 0, 0
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to write triangle: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush STL file: %w", err)
	}
	return nil
}

// SaveMesh extracts facets from m and writes them to filename.
func SaveMesh(filename string, m *models.Mesh) error {
	return SaveToSTL(filename, Triangles(m))
}
