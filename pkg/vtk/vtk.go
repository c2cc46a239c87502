// Package vtk reads and writes triangle meshes as legacy ASCII VTK polydata.
package vtk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

const version = "# vtk DataFile Version 3.0"

// Encode writes m as ASCII polydata. The title is truncated to one line.
func Encode(w io.Writer, m *models.Mesh, title string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if title == "" {
		title = "mesh"
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, version)
	fmt.Fprintln(bw, title)
	fmt.Fprintln(bw, "ASCII")
	fmt.Fprintln(bw, "DATASET POLYDATA")
	fmt.Fprintf(bw, "POINTS %d double\n", len(m.Points))
	for _, p := range m.Points {
		fmt.Fprintf(bw, "%s %s %s\n", num(p.X), num(p.Y), num(p.Z))
	}
	fmt.Fprintf(bw, "POLYGONS %d %d\n", len(m.Faces), 4*len(m.Faces))
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "3 %d %d %d\n", f[0], f[1], f[2])
	}
	return bw.Flush()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Decode reads ASCII polydata. Polygons with more than three vertices are
// split into triangle fans; point and cell attributes are ignored.
func Decode(r io.Reader) (*models.Mesh, error) {
	br := bufio.NewReader(r)

	// header: version, title, format
	var header []string
	for len(header) < 3 {
		line, err := br.ReadString('\n')
		if line != "" || err == nil {
			header = append(header, strings.TrimSpace(line))
		}
		if err != nil {
			break
		}
	}
	if len(header) < 3 || !strings.HasPrefix(header[0], "# vtk DataFile") {
		return nil, fmt.Errorf("not a legacy VTK file")
	}
	if !strings.EqualFold(header[2], "ASCII") {
		return nil, fmt.Errorf("unsupported VTK encoding %q", header[2])
	}

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)
	tok := &tokens{sc: sc}
	mesh := &models.Mesh{}

	for {
		word, ok := tok.next()
		if !ok {
			break
		}
		switch strings.ToUpper(word) {
		case "DATASET":
			kind, _ := tok.next()
			if !strings.EqualFold(kind, "POLYDATA") {
				return nil, fmt.Errorf("unsupported dataset %q", kind)
			}
		case "POINTS":
			n, err := tok.readInt()
			if err != nil {
				return nil, fmt.Errorf("POINTS: %w", err)
			}
			tok.next() // data type
			mesh.Points = make([]r3.Vec, n)
			for i := range mesh.Points {
				var c [3]float64
				for a := range c {
					if c[a], err = tok.readFloat(); err != nil {
						return nil, fmt.Errorf("point %d: %w", i, err)
					}
				}
				mesh.Points[i] = r3.Vec{X: c[0], Y: c[1], Z: c[2]}
			}
		case "POLYGONS", "TRIANGLE_STRIPS":
			strips := strings.EqualFold(word, "TRIANGLE_STRIPS")
			n, err := tok.readInt()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", word, err)
			}
			if _, err := tok.readInt(); err != nil {
				return nil, fmt.Errorf("%s: %w", word, err)
			}
			for c := 0; c < n; c++ {
				k, err := tok.readInt()
				if err != nil {
					return nil, fmt.Errorf("cell %d: %w", c, err)
				}
				idx := make([]int, k)
				for j := range idx {
					if idx[j], err = tok.readInt(); err != nil {
						return nil, fmt.Errorf("cell %d: %w", c, err)
					}
				}
				mesh.Faces = append(mesh.Faces, triangulate(idx, strips)...)
			}
		case "POINT_DATA", "CELL_DATA":
			return mesh, mesh.Validate()
		}
	}
	if err := tok.err(); err != nil {
		return nil, err
	}
	return mesh, mesh.Validate()
}

func triangulate(idx []int, strip bool) [][3]int {
	var out [][3]int
	for j := 2; j < len(idx); j++ {
		switch {
		case !strip:
			out = append(out, [3]int{idx[0], idx[j-1], idx[j]})
		case j%2 == 0:
			out = append(out, [3]int{idx[j-2], idx[j-1], idx[j]})
		default:
			out = append(out, [3]int{idx[j-1], idx[j-2], idx[j]})
		}
	}
	return out
}

type tokens struct {
	sc *bufio.Scanner
}

func (t *tokens) next() (string, bool) {
	if !t.sc.Scan() {
		return "", false
	}
	return t.sc.Text(), true
}

func (t *tokens) readInt() (int, error) {
	s, ok := t.next()
	if !ok {
		return 0, io.ErrUnexpectedEOF
	}
	return strconv.Atoi(s)
}

func (t *tokens) readFloat() (float64, error) {
	s, ok := t.next()
	if !ok {
		return 0, io.ErrUnexpectedEOF
	}
	return strconv.ParseFloat(s, 64)
}

func (t *tokens) err() error {
	return t.sc.Err()
}

// Load reads a mesh file.
func Load(path string) (*models.Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save writes a mesh file.
func Save(path string, m *models.Mesh, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := Encode(f, m, title); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
