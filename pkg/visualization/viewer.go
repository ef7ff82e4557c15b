// Package visualization renders 2D slices of volumes and masks for quality
// checks of the produced outputs.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"medimagetools/internal/models"
)

// Viewer extracts 2D slices from a z-major volume.
type Viewer struct {
	// volumeData holds the voxel values, index = z*W*H + y*W + x
	volumeData []float64

	// dimensions of the volume
	width  int
	height int
	depth  int

	// intensity window mapped to black..white
	low, high float64
}

// NewViewer creates a viewer over an image, windowed to its value range.
func NewViewer(img *models.Image) *Viewer {
	low, high := valueRange(img.Data)
	return &Viewer{
		volumeData: img.Data,
		width:      img.Geometry.Size[0],
		height:     img.Geometry.Size[1],
		depth:      img.Geometry.Size[2],
		low:        low,
		high:       high,
	}
}

// NewMaskViewer creates a viewer over a binary mask.
func NewMaskViewer(m *models.Mask) *Viewer {
	data := make([]float64, len(m.Data))
	for i, v := range m.Data {
		data[i] = float64(v)
	}
	return &Viewer{
		volumeData: data,
		width:      m.Geometry.Size[0],
		height:     m.Geometry.Size[1],
		depth:      m.Geometry.Size[2],
		low:        0,
		high:       1,
	}
}

func valueRange(data []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if len(data) == 0 {
		return 0, 1
	}
	return lo, hi
}

func (v *Viewer) gray(idx int) color.Gray16 {
	if idx >= len(v.volumeData) || v.high <= v.low {
		return color.Gray16{}
	}
	n := (v.volumeData[idx] - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, n*65535)))}
}

// ExtractSlice extracts a 2D slice from the 3D volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.gray(z*v.width*v.height+y*v.width+position))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.gray(z*v.width*v.height+position*v.width+x))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(position*v.width*v.height+y*v.width+x))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return savePNG(img, filename)
}

func savePNG(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// BusiestSlice returns the axial slice with the most foreground voxels, or
// -1 for an empty mask.
func BusiestSlice(m *models.Mask) int {
	best, bestSum := -1, 0
	for z := 0; z < m.Geometry.Size[2]; z++ {
		if s := m.SliceSum(z); s > bestSum {
			best, bestSum = z, s
		}
	}
	return best
}

// overlayColor is blended over the background where the mask is set.
var overlayColor = color.RGBA{R: 255, G: 40, B: 40, A: 255}

// Overlay draws axial slice z of m over base, which must have the mask's
// X by Y bounds.
func Overlay(base image.Image, m *models.Mask, z int) *image.RGBA {
	b := base.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(base.At(x, y)).(color.RGBA)
			if m.Geometry.Contains(x, y, z) && m.At(x, y, z) != 0 {
				c.R = uint8((uint16(c.R) + uint16(overlayColor.R)) / 2)
				c.G = uint8((uint16(c.G) + uint16(overlayColor.G)) / 2)
				c.B = uint8((uint16(c.B) + uint16(overlayColor.B)) / 2)
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out
}

// Snapshot writes a PNG of the busiest axial slice of m drawn over the
// matching slice of ref. ref may be nil, in which case the mask alone is
// drawn. It returns the slice index, or -1 and no file for an empty mask.
func Snapshot(path string, ref *models.Image, m *models.Mask) (int, error) {
	z := BusiestSlice(m)
	if z < 0 {
		return -1, nil
	}
	var v *Viewer
	if ref != nil && ref.Geometry.Equal(m.Geometry) {
		v = NewViewer(ref)
	} else {
		v = NewMaskViewer(m)
	}
	base, err := v.ExtractSlice("z", z)
	if err != nil {
		return -1, err
	}
	if err := savePNG(Overlay(base, m, z), path); err != nil {
		return -1, err
	}
	return z, nil
}
