package models

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// LayerStack is the ordered set of layer boundary level sets: index 0 is the
// inner boundary, index NumLayers() the outer boundary. Every surface lives
// on the same grid.
type LayerStack struct {
	Surfaces []*Volume
}

// NumLayers returns the number of layers delimited by the stack.
func (s *LayerStack) NumLayers() int {
	return len(s.Surfaces) - 1
}

// Validate checks that the stack holds at least two surfaces sharing a grid.
func (s *LayerStack) Validate() error {
	if s == nil || len(s.Surfaces) < 2 {
		return fmt.Errorf("layer stack needs at least 2 surfaces")
	}
	for k, surf := range s.Surfaces {
		if err := surf.Validate(); err != nil {
			return fmt.Errorf("surface %d: %w", k, err)
		}
		if !surf.SameGrid(s.Surfaces[0]) {
			return fmt.Errorf("surface %d does not share the grid of surface 0", k)
		}
	}
	return nil
}

// Volume4D packs the stack into a single 4D volume, one frame per surface.
func (s *LayerStack) Volume4D() *Volume4D {
	v := NewVolume4D(s.Surfaces[0], len(s.Surfaces))
	for k, surf := range s.Surfaces {
		v.SetFrame(k, surf)
	}
	return v
}

// StackFromVolume4D unpacks a 4D boundary volume into a layer stack.
func StackFromVolume4D(v *Volume4D) (*LayerStack, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if v.Frames < 2 {
		return nil, fmt.Errorf("boundary volume needs at least 2 frames, got %d", v.Frames)
	}
	s := &LayerStack{Surfaces: make([]*Volume, v.Frames)}
	for k := range s.Surfaces {
		s.Surfaces[k] = v.Frame(k)
	}
	return s, nil
}

// ProfileVolume holds intensities sampled at each layer boundary. Samples has
// one frame per boundary surface (depth index 0 = inner boundary). Geometry is
// the layer stack the samples were taken on; the mesher follows it to place
// vertices at each depth.
type ProfileVolume struct {
	Samples  *Volume4D
	Geometry *LayerStack
}

// Depths returns the length of the depth axis.
func (p *ProfileVolume) Depths() int {
	if p.Samples != nil {
		return p.Samples.Frames
	}
	if p.Geometry != nil {
		return len(p.Geometry.Surfaces)
	}
	return 0
}

// Mesh is a triangle surface with vertices in world coordinates.
type Mesh struct {
	Points []r3.Vec
	Faces  [][3]int
}

// Validate checks that every face references an existing vertex.
func (m *Mesh) Validate() error {
	if m == nil {
		return fmt.Errorf("mesh is nil")
	}
	for f, face := range m.Faces {
		for _, idx := range face {
			if idx < 0 || idx >= len(m.Points) {
				return fmt.Errorf("face %d references vertex %d, mesh has %d vertices", f, idx, len(m.Points))
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the mesh.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Points: make([]r3.Vec, len(m.Points)),
		Faces:  make([][3]int, len(m.Faces)),
	}
	copy(c.Points, m.Points)
	copy(c.Faces, m.Faces)
	return c
}

// DepthMeshSequence holds one mesh per depth index, innermost first. All
// meshes share the face connectivity of the mesh they were derived from.
type DepthMeshSequence []*Mesh

// Diagnostics counts the locally recovered ambiguities of a stage run.
// None of these are failures; they make fallback policies observable.
type Diagnostics struct {
	Stage string `json:"stage"`

	// NestingCorrections counts voxels inside the inner boundary that the
	// outer boundary failed to enclose
	NestingCorrections int `json:"nestingCorrections,omitempty"`

	// FallbackVoxels counts voxels whose depth used the linear estimate
	// because the equivolume model was ill-conditioned there
	FallbackVoxels int `json:"fallbackVoxels,omitempty"`

	// AmbiguousVoxels counts voxels rejected by the topology table while
	// extracting layer boundaries
	AmbiguousVoxels int `json:"ambiguousVoxels,omitempty"`

	// FailedSearches counts zero-crossing searches that found no crossing
	FailedSearches int `json:"failedSearches,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

// Merge adds the counters of o to d.
func (d *Diagnostics) Merge(o Diagnostics) {
	d.NestingCorrections += o.NestingCorrections
	d.FallbackVoxels += o.FallbackVoxels
	d.AmbiguousVoxels += o.AmbiguousVoxels
	d.FailedSearches += o.FailedSearches
}
