// Package visualization renders slices of volumes (probability maps, level
// sets, depth maps, labels and profiles) as preview images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"

	"mrilaminar/internal/models"
)

// Viewer extracts 2D slices from a volume and writes them as images.
// Background (NaN) voxels render black; other values are windowed linearly
// between the window bounds.
type Viewer struct {
	vol *models.Volume

	// window bounds mapped to black and white
	lo, hi float64

	// scale enlarges saved slices; 1 keeps one pixel per voxel
	scale float64
}

// NewViewer creates a viewer windowed to the finite value range of v.
func NewViewer(v *models.Volume) *Viewer {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v.Data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	if lo > hi {
		lo, hi = 0, 1
	}
	return &Viewer{vol: v, lo: lo, hi: hi, scale: 1}
}

// SetWindow overrides the intensity window.
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

// Window returns the intensity window.
func (v *Viewer) Window() (lo, hi float64) {
	return v.lo, v.hi
}

// SetScale sets the enlargement applied when saving slices.
func (v *Viewer) SetScale(s float64) {
	if s > 0 {
		v.scale = s
	}
}

func (v *Viewer) gray(x float64) color.Gray16 {
	if math.IsNaN(x) {
		return color.Gray16{}
	}
	span := v.hi - v.lo
	t := 1.0
	if span > 0 {
		t = (x - v.lo) / span
	}
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, t*65535)))}
}

// ExtractSlice extracts a 2D slice perpendicular to the given axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	d := v.vol.Dims

	var img *image.Gray16
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= d[0] {
			return nil, fmt.Errorf("position %d exceeds width %d", position, d[0])
		}
		img = image.NewGray16(image.Rect(0, 0, d[2], d[1]))
		for y := 0; y < d[1]; y++ {
			for z := 0; z < d[2]; z++ {
				img.SetGray16(z, y, v.gray(v.vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= d[1] {
			return nil, fmt.Errorf("position %d exceeds height %d", position, d[1])
		}
		img = image.NewGray16(image.Rect(0, 0, d[0], d[2]))
		for z := 0; z < d[2]; z++ {
			for x := 0; x < d[0]; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= d[2] {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d[2])
		}
		img = image.NewGray16(image.Rect(0, 0, d[0], d[1]))
		for y := 0; y < d[1]; y++ {
			for x := 0; x < d[0]; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion copies a box of voxels into a new volume with the same
// voxel size.
func (v *Viewer) ExtractRegion(start, size [3]int) (*models.Volume, error) {
	for a := 0; a < 3; a++ {
		if start[a] < 0 {
			return nil, fmt.Errorf("start coordinates must be non-negative")
		}
		if size[a] <= 0 {
			return nil, fmt.Errorf("size dimensions must be positive")
		}
		if start[a]+size[a] > v.vol.Dims[a] {
			return nil, fmt.Errorf("region extends beyond volume boundaries")
		}
	}

	region := models.NewVolume(size, v.vol.Res)
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				region.Set(x, y, z, v.vol.At(start[0]+x, start[1]+y, start[2]+z))
			}
		}
	}
	return region, nil
}

// Scale resizes img by factor with Catmull-Rom filtering.
func Scale(img image.Image, factor float64) image.Image {
	if factor == 1 || factor <= 0 {
		return img
	}
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	if w < 1 || h < 1 {
		return img
	}
	dst := image.NewGray16(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// SaveSlice saves a slice, choosing JPEG or WebP from the file extension.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	img = Scale(img, v.scale)

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".webp":
		err = nativewebp.Encode(file, img, nil)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return fmt.Errorf("unsupported preview format %q", filepath.Ext(filename))
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return file.Close()
}

// Extension returns the file extension for a preview format name.
func Extension(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "jpeg", "jpg":
		return ".jpg", nil
	case "webp":
		return ".webp", nil
	}
	return "", fmt.Errorf("unsupported preview format %q (must be jpeg or webp)", format)
}

// SaveSliceSequence extracts and saves every slice along the given axis.
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) error {
	ext, err := Extension(format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Dims[0]
	case "y", "Y":
		maxPos = v.vol.Dims[1]
	case "z", "Z":
		maxPos = v.vol.Dims[2]
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d%s", axis, pos, ext))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SavePreview writes the three central orthogonal slices as
// <prefix>_x, <prefix>_y and <prefix>_z images and returns their paths.
func (v *Viewer) SavePreview(prefix, format string) ([]string, error) {
	ext, err := Extension(format)
	if err != nil {
		return nil, err
	}
	var paths []string
	for a, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, v.vol.Dims[a]/2)
		if err != nil {
			return paths, err
		}
		path := prefix + "_" + axis + ext
		if err := v.SaveSlice(img, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
