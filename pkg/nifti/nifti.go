package nifti

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"mrilaminar/internal/models"
)

// Image is a decoded NIfTI image: scaled voxel values in column-major order
// with the frame index varying slowest.
type Image struct {
	Header *Header
	Data   []float64
	Dims   [3]int
	Frames int
	Res    [3]float64
	Affine models.Affine
}

// Decode reads a single-file NIfTI-1 image.
func Decode(r io.Reader) (*Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("file too short for a NIfTI header (%d bytes)", len(raw))
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != headerSize {
		if int32(binary.BigEndian.Uint32(raw)) != headerSize {
			return nil, fmt.Errorf("not a NIfTI-1 file")
		}
		order = binary.BigEndian
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, h); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("unsupported NIfTI magic %q, only single-file images are read", h.Magic[:3])
	}

	dims, frames, err := h.shape()
	if err != nil {
		return nil, err
	}
	size, err := bytesPer(h.Datatype)
	if err != nil {
		return nil, err
	}
	n := dims[0] * dims[1] * dims[2] * frames
	off := int(h.VoxOffset)
	if off < headerSize {
		off = headerSize + 4
	}
	if len(raw) < off+n*size {
		return nil, fmt.Errorf("image data truncated: need %d bytes after offset %d, have %d", n*size, off, len(raw)-off)
	}

	data := make([]float64, n)
	decodeVoxels(raw[off:off+n*size], order, h.Datatype, data)

	// scl_slope of zero means no scaling
	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && !math.IsNaN(slope) && (slope != 1 || inter != 0) {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	return &Image{
		Header: h,
		Data:   data,
		Dims:   dims,
		Frames: frames,
		Res:    h.resolution(),
		Affine: h.affine(),
	}, nil
}

func decodeVoxels(b []byte, order binary.ByteOrder, dt int16, out []float64) {
	for i := range out {
		switch dt {
		case DTUint8:
			out[i] = float64(b[i])
		case DTInt8:
			out[i] = float64(int8(b[i]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(b[2*i:])))
		case DTUint16:
			out[i] = float64(order.Uint16(b[2*i:]))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(b[4*i:])))
		case DTUint32:
			out[i] = float64(order.Uint32(b[4*i:]))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(b[4*i:])))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(b[8*i:]))
		}
	}
}

// Encode writes a little-endian single-file image with the given datatype.
// Only DTFloat32, DTFloat64 and DTInt32 are written.
func Encode(w io.Writer, img *Image, dt int16) error {
	switch dt {
	case DTFloat32, DTFloat64, DTInt32:
	default:
		return fmt.Errorf("writing datatype %d is not supported", dt)
	}
	frames := img.Frames
	if frames < 1 {
		frames = 1
	}
	if want := img.Dims[0] * img.Dims[1] * img.Dims[2] * frames; len(img.Data) != want {
		return fmt.Errorf("data length %d does not match %v x %d", len(img.Data), img.Dims, frames)
	}
	h, err := newHeader(img.Dims, frames, img.Res, img.Affine, dt)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	// empty extension block
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to write extension: %w", err)
	}

	size, _ := bytesPer(dt)
	buf := make([]byte, size)
	for _, v := range img.Data {
		switch dt {
		case DTFloat32:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		case DTFloat64:
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		case DTInt32:
			binary.LittleEndian.PutUint32(buf, uint32(int32(math.Round(v))))
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("failed to write voxel data: %w", err)
		}
	}
	return bw.Flush()
}

// Load reads a .nii or .nii.gz file.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	img, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Save writes img to a .nii or .nii.gz file.
func Save(path string, img *Image, dt int16) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		if err := Encode(f, img, dt); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return f.Close()
	}

	gz := gzip.NewWriter(f)
	if err := Encode(gz, img, dt); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// LoadVolume reads a 3D image.
func LoadVolume(path string) (*models.Volume, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	if img.Frames != 1 {
		return nil, fmt.Errorf("%s: expected a 3D image, found %d frames", path, img.Frames)
	}
	return &models.Volume{Data: img.Data, Dims: img.Dims, Res: img.Res, Affine: img.Affine}, nil
}

// LoadVolume4D reads an image with any number of frames.
func LoadVolume4D(path string) (*models.Volume4D, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &models.Volume4D{Data: img.Data, Dims: img.Dims, Frames: img.Frames, Res: img.Res, Affine: img.Affine}, nil
}

// LoadLabels reads a 3D label image.
func LoadLabels(path string) (*models.LabelVolume, error) {
	v, err := LoadVolume(path)
	if err != nil {
		return nil, err
	}
	l := &models.LabelVolume{Data: make([]int32, len(v.Data)), Dims: v.Dims, Res: v.Res, Affine: v.Affine}
	for i, x := range v.Data {
		l.Data[i] = int32(math.Round(x))
	}
	return l, nil
}

// SaveVolume writes a 3D volume as float32.
func SaveVolume(path string, v *models.Volume) error {
	return Save(path, &Image{Data: v.Data, Dims: v.Dims, Frames: 1, Res: v.Res, Affine: v.Affine}, DTFloat32)
}

// SaveVolume4D writes a 4D volume as float32.
func SaveVolume4D(path string, v *models.Volume4D) error {
	return Save(path, &Image{Data: v.Data, Dims: v.Dims, Frames: v.Frames, Res: v.Res, Affine: v.Affine}, DTFloat32)
}

// SaveLabels writes a label volume as int32.
func SaveLabels(path string, l *models.LabelVolume) error {
	data := make([]float64, len(l.Data))
	for i, x := range l.Data {
		data[i] = float64(x)
	}
	return Save(path, &Image{Data: data, Dims: l.Dims, Frames: 1, Res: l.Res, Affine: l.Affine}, DTInt32)
}
