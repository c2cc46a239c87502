// Package nifti reads and writes NIfTI-1 single-file images (.nii and
// .nii.gz) as volumes. Voxel data is kept in the file's column-major order.
package nifti

import (
	"fmt"
	"math"

	"mrilaminar/internal/models"
)

// Header is the 348-byte NIfTI-1 header.
type Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

const headerSize = 348

// Datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

// unitsMM is the xyzt_units code for millimetres.
const unitsMM = 2

// bytesPer returns the size of one voxel for a datatype.
func bytesPer(dt int16) (int, error) {
	switch dt {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported NIfTI datatype %d", dt)
}

// shape returns the spatial dimensions and the number of frames. Dimensions
// beyond the fourth must be singleton.
func (h *Header) shape() ([3]int, int, error) {
	nd := int(h.Dim[0])
	if nd < 1 || nd > 7 {
		return [3]int{}, 0, fmt.Errorf("invalid dimension count %d", nd)
	}
	dims := [3]int{1, 1, 1}
	frames := 1
	for a := 1; a <= nd; a++ {
		n := int(h.Dim[a])
		if n < 1 {
			return [3]int{}, 0, fmt.Errorf("dimension %d has size %d", a, n)
		}
		switch {
		case a <= 3:
			dims[a-1] = n
		case a == 4:
			frames = n
		case n != 1:
			return [3]int{}, 0, fmt.Errorf("dimension %d has size %d, only 4D images are supported", a, n)
		}
	}
	return dims, frames, nil
}

// resolution returns the voxel size, treating missing spacing as 1mm.
func (h *Header) resolution() [3]float64 {
	var res [3]float64
	for a := 0; a < 3; a++ {
		r := math.Abs(float64(h.Pixdim[a+1]))
		if r == 0 || math.IsNaN(r) {
			r = 1
		}
		res[a] = r
	}
	return res
}

// affine returns the voxel-to-world transform, preferring the sform.
func (h *Header) affine() models.Affine {
	res := h.resolution()
	switch {
	case h.SformCode > 0:
		var a models.Affine
		for c := 0; c < 4; c++ {
			a[0][c] = float64(h.SrowX[c])
			a[1][c] = float64(h.SrowY[c])
			a[2][c] = float64(h.SrowZ[c])
		}
		a[3][3] = 1
		return a
	case h.QformCode > 0:
		return quaternAffine(h, res)
	}
	return models.ScalingAffine(res)
}

func quaternAffine(h *Header, res [3]float64) models.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// 180 degree rotation: renormalize (b, c, d)
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d = b/n, c/n, d/n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := 1.0
	if h.Pixdim[0] < 0 {
		qfac = -1
	}
	r := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b},
	}
	scale := [3]float64{res[0], res[1], res[2] * qfac}

	var out models.Affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[i][j] * scale[j]
		}
	}
	out[0][3] = float64(h.QoffsetX)
	out[1][3] = float64(h.QoffsetY)
	out[2][3] = float64(h.QoffsetZ)
	out[3][3] = 1
	return out
}

// newHeader fills a header for a float or integer image with an sform equal
// to the given affine.
func newHeader(dims [3]int, frames int, res [3]float64, a models.Affine, dt int16) (*Header, error) {
	size, err := bytesPer(dt)
	if err != nil {
		return nil, err
	}
	h := &Header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  dt,
		Bitpix:    int16(8 * size),
		VoxOffset: headerSize + 4,
		SclSlope:  1,
		XYZTUnits: unitsMM,
		SformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim[0] = 3
	if frames > 1 {
		h.Dim[0] = 4
	}
	for i := range h.Dim[1:] {
		h.Dim[i+1] = 1
	}
	for ax := 0; ax < 3; ax++ {
		if dims[ax] > math.MaxInt16 {
			return nil, fmt.Errorf("dimension %d of size %d does not fit a NIfTI-1 header", ax, dims[ax])
		}
		h.Dim[ax+1] = int16(dims[ax])
		h.Pixdim[ax+1] = float32(res[ax])
	}
	h.Dim[4] = int16(frames)
	h.Pixdim[0] = 1
	h.Pixdim[4] = 1

	if a.IsZero() {
		a = models.ScalingAffine(res)
	}
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(a[0][c])
		h.SrowY[c] = float32(a[1][c])
		h.SrowZ[c] = float32(a[2][c])
	}
	copy(h.Descrip[:], "mrilaminar")
	return h, nil
}
