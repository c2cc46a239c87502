package vtk

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"mrilaminar/internal/models"
)

func square() *models.Mesh {
	return &models.Mesh{
		Points: []r3.Vec{{}, {X: 1.5}, {X: 1.5, Y: 2, Z: -0.25}, {Y: 2, Z: 10}},
		Faces:  [][3]int{{0, 1, 2}, {0, 2, 3}},
	}
}

func TestEncodeGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, square(), "depth 0"))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "square", buf.Bytes())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.vtk")
	require.NoError(t, Save(path, square(), "round trip"))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, square(), got)
}

func TestDecodeSplitsPolygons(t *testing.T) {
	src := `# vtk DataFile Version 2.0
quad and strip
ASCII
DATASET POLYDATA
POINTS 5 float
0 0 0  1 0 0  1 1 0
0 1 0  2 1 0
POLYGONS 1 5
4 0 1 2 3
TRIANGLE_STRIPS 1 5
4 0 1 3 2
POINT_DATA 5
SCALARS depth float
`
	m, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, m.Points, 5)
	assert.Equal(t, [][3]int{{0, 1, 2}, {0, 2, 3}, {0, 1, 3}, {3, 1, 2}}, m.Faces)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(strings.NewReader("hello\nworld\nASCII\n"))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("# vtk DataFile Version 3.0\nx\nBINARY\n"))
	assert.Error(t, err)

	bad := "# vtk DataFile Version 3.0\nx\nASCII\nDATASET POLYDATA\nPOINTS 1 double\n0 0 0\nPOLYGONS 1 4\n3 0 1 2\n"
	_, err = Decode(strings.NewReader(bad))
	assert.Error(t, err, "faces must reference existing points")

	err = Encode(&bytes.Buffer{}, &models.Mesh{Faces: [][3]int{{0, 0, 0}}}, "")
	assert.Error(t, err)
}
