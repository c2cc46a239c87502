package models

import (
	"fmt"
	"math"
)

// Background marks voxels of floating point volumes that lie outside the
// laminar domain (depth maps, profile samples).
var Background = math.NaN()

// IsBackground reports whether v is the floating point background marker.
func IsBackground(v float64) bool {
	return math.IsNaN(v)
}

// Volume represents a 3D scalar field sampled on a regular voxel grid.
//
// It is used for probability maps, level sets, depth maps and intensity
// images alike. Data is stored in column-major (Fortran) order: the x index
// varies fastest, followed by y and then z, which is the layout volumes have
// on disk.
type Volume struct {
	// Data holds Dims[0]*Dims[1]*Dims[2] values in column-major order
	Data []float64

	// Dims is the number of voxels along x, y and z
	Dims [3]int

	// Res is the physical size of each voxel in mm along x, y and z
	Res [3]float64

	// Affine maps voxel indices to world (scanner) coordinates
	Affine Affine
}

// NewVolume allocates a zero-filled volume with the default affine for the
// given resolution.
func NewVolume(dims [3]int, res [3]float64) *Volume {
	return &Volume{
		Data:   make([]float64, dims[0]*dims[1]*dims[2]),
		Dims:   dims,
		Res:    res,
		Affine: ScalingAffine(res),
	}
}

// NewVolumeLike allocates a zero-filled volume on the same grid as ref.
func NewVolumeLike(ref *Volume) *Volume {
	return &Volume{
		Data:   make([]float64, len(ref.Data)),
		Dims:   ref.Dims,
		Res:    ref.Res,
		Affine: ref.Affine,
	}
}

// Validate checks that the data length matches the declared dimensions and
// that the resolutions are strictly positive.
func (v *Volume) Validate() error {
	if v == nil {
		return fmt.Errorf("volume is nil")
	}
	return validateGrid(v.Dims, v.Res, len(v.Data))
}

func validateGrid(dims [3]int, res [3]float64, n int) error {
	for a := 0; a < 3; a++ {
		if dims[a] <= 0 {
			return fmt.Errorf("dimension %d must be positive, got %d", a, dims[a])
		}
		if !(res[a] > 0) || math.IsInf(res[a], 0) {
			return fmt.Errorf("resolution %d must be strictly positive, got %g", a, res[a])
		}
	}
	if want := dims[0] * dims[1] * dims[2]; n != want {
		return fmt.Errorf("data length %d does not match dimensions %v (%d voxels)", n, dims, want)
	}
	return nil
}

// Len returns the number of voxels.
func (v *Volume) Len() int { return len(v.Data) }

// Index converts voxel coordinates to a flat column-major index.
func (v *Volume) Index(x, y, z int) int {
	return x + v.Dims[0]*(y+v.Dims[1]*z)
}

// Coords converts a flat column-major index back to voxel coordinates.
func (v *Volume) Coords(i int) (x, y, z int) {
	x = i % v.Dims[0]
	i /= v.Dims[0]
	y = i % v.Dims[1]
	z = i / v.Dims[1]
	return x, y, z
}

// InBounds reports whether the voxel coordinates lie inside the grid.
func (v *Volume) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Dims[0] && y < v.Dims[1] && z < v.Dims[2]
}

// At returns the value at voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a value at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[v.Index(x, y, z)] = val
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	c := NewVolumeLike(v)
	copy(c.Data, v.Data)
	return c
}

// SameGrid reports whether two volumes share dimensions and resolution.
func (v *Volume) SameGrid(o *Volume) bool {
	if v == nil || o == nil {
		return false
	}
	if v.Dims != o.Dims {
		return false
	}
	for a := 0; a < 3; a++ {
		if math.Abs(v.Res[a]-o.Res[a]) > 1e-6*math.Max(v.Res[a], o.Res[a]) {
			return false
		}
	}
	return true
}

// MinRes returns the smallest voxel edge length.
func (v *Volume) MinRes() float64 {
	return math.Min(v.Res[0], math.Min(v.Res[1], v.Res[2]))
}

// HasSignChange reports whether the field holds both negative and
// non-negative values, i.e. whether it delimits an interior and an exterior.
func (v *Volume) HasSignChange() bool {
	neg, pos := false, false
	for _, val := range v.Data {
		if val < 0 {
			neg = true
		} else if val >= 0 {
			pos = true
		}
		if neg && pos {
			return true
		}
	}
	return false
}

// LabelBackground is the label assigned to voxels outside the laminar domain.
const LabelBackground int32 = -1

// LabelVolume holds one integer label per voxel, stored like Volume.
type LabelVolume struct {
	Data   []int32
	Dims   [3]int
	Res    [3]float64
	Affine Affine
}

// NewLabelVolumeLike allocates a label volume on the grid of ref with every
// voxel set to LabelBackground.
func NewLabelVolumeLike(ref *Volume) *LabelVolume {
	l := &LabelVolume{
		Data:   make([]int32, len(ref.Data)),
		Dims:   ref.Dims,
		Res:    ref.Res,
		Affine: ref.Affine,
	}
	for i := range l.Data {
		l.Data[i] = LabelBackground
	}
	return l
}

// At returns the label at voxel (x, y, z).
func (l *LabelVolume) At(x, y, z int) int32 {
	return l.Data[x+l.Dims[0]*(y+l.Dims[1]*z)]
}

// Validate checks the label volume shape.
func (l *LabelVolume) Validate() error {
	if l == nil {
		return fmt.Errorf("label volume is nil")
	}
	return validateGrid(l.Dims, l.Res, len(l.Data))
}

// Volume4D is a stack of 3D frames on a shared grid, stored in column-major
// order with the frame index varying slowest.
type Volume4D struct {
	Data   []float64
	Dims   [3]int
	Frames int
	Res    [3]float64
	Affine Affine
}

// NewVolume4D allocates a zero-filled 4D volume with frames copies of the grid
// of ref.
func NewVolume4D(ref *Volume, frames int) *Volume4D {
	return &Volume4D{
		Data:   make([]float64, len(ref.Data)*frames),
		Dims:   ref.Dims,
		Res:    ref.Res,
		Frames: frames,
		Affine: ref.Affine,
	}
}

// Validate checks the 4D volume shape.
func (v *Volume4D) Validate() error {
	if v == nil {
		return fmt.Errorf("4D volume is nil")
	}
	if v.Frames <= 0 {
		return fmt.Errorf("frame count must be positive, got %d", v.Frames)
	}
	if len(v.Data)%v.Frames != 0 {
		return fmt.Errorf("data length %d is not a multiple of %d frames", len(v.Data), v.Frames)
	}
	return validateGrid(v.Dims, v.Res, len(v.Data)/v.Frames)
}

// FrameLen returns the number of voxels in a single frame.
func (v *Volume4D) FrameLen() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Frame returns a copy of frame t as a 3D volume.
func (v *Volume4D) Frame(t int) *Volume {
	n := v.FrameLen()
	f := &Volume{
		Data:   make([]float64, n),
		Dims:   v.Dims,
		Res:    v.Res,
		Affine: v.Affine,
	}
	copy(f.Data, v.Data[t*n:(t+1)*n])
	return f
}

// SetFrame copies a 3D volume into frame t.
func (v *Volume4D) SetFrame(t int, f *Volume) {
	n := v.FrameLen()
	copy(v.Data[t*n:(t+1)*n], f.Data)
}
