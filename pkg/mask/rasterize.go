// Package mask turns planar contours into binary volumes aligned to a
// reference image and assembles them into multi-channel masks.
package mask

import (
	"fmt"
	"math"
	"sort"

	"medimagetools/internal/models"
)

// IntegerTolerance is how far a continuous slice index may be from an
// integer and still count as lying on that slice.
const IntegerTolerance = 1e-4

// Rasterizer converts contours to masks on a fixed reference grid.
type Rasterizer struct {
	Geometry models.Geometry

	// Filler fills the 2D polygons. ScanlineFiller is used when nil.
	Filler Filler

	// Continuous keeps fractional indices when mapping points to the grid.
	// It exists for diagnostics; production rasterization snaps to integers.
	Continuous bool
}

// NewRasterizer returns a Rasterizer with integer-snapped conversion and the
// scanline filler.
func NewRasterizer(g models.Geometry) *Rasterizer {
	return &Rasterizer{Geometry: g, Filler: ScanlineFiller{}}
}

// RasterizeROI fills every contour of one ROI into a single mask. Contours
// of the same ROI accumulate with logical OR.
func (r *Rasterizer) RasterizeROI(name string, contours []models.Contour) (*models.Mask, error) {
	filler := r.Filler
	if filler == nil {
		filler = ScanlineFiller{}
	}
	out := models.NewMask(r.Geometry)
	width, height := r.Geometry.Size[0], r.Geometry.Size[1]

	for i, c := range contours {
		if len(c.Points) == 0 {
			continue
		}
		idx, err := r.Geometry.PhysicalToIndex(c.Points, r.Continuous)
		if err != nil {
			return nil, fmt.Errorf("roi %q contour %d: %w", name, i, err)
		}
		z, err := r.sliceIndex(name, i, idx)
		if err != nil {
			return nil, err
		}

		poly := make([][2]float64, len(idx))
		for j, p := range idx {
			poly[j] = [2]float64{p[0], p[1]}
		}
		out.OrSlice(z, filler.Fill(poly, height, width))
	}
	return out, nil
}

// sliceIndex checks that the z column of a converted contour collapses to a
// single in-bounds slice and returns it.
func (r *Rasterizer) sliceIndex(name string, contour int, idx [][3]float64) (int, error) {
	seen := make(map[float64]bool)
	var zs []float64
	for _, p := range idx {
		if !seen[p[2]] {
			seen[p[2]] = true
			zs = append(zs, p[2])
		}
	}
	sort.Float64s(zs)
	ref := ContourRef{ROI: name, ContourIndex: contour, ZValues: zs}

	slices := make(map[int]bool)
	for _, z := range zs {
		rz := math.Round(z)
		if r.Continuous && math.Abs(z-rz) > IntegerTolerance {
			return 0, &NonIntegerZSliceError{ContourRef: ref}
		}
		slices[int(rz)] = true
	}
	if len(slices) > 1 {
		return 0, &ContourAcrossSlicesError{ContourRef: ref}
	}

	var z int
	for k := range slices {
		z = k
	}
	if z < 0 || z >= r.Geometry.Size[2] {
		return 0, &MaskOutOfBoundsError{ContourRef: ref, Depth: r.Geometry.Size[2]}
	}
	return z, nil
}
