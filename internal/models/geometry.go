package models

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingularDirection is returned when a geometry's direction/spacing matrix
// cannot be inverted.
var ErrSingularDirection = errors.New("geometry direction matrix is singular")

// Geometry describes the voxel grid of an image in patient space.
//
// Physical coordinates relate to voxel indices by
//
//	p = Origin + Direction * diag(Spacing) * index
//
// where Direction is a row-major 3x3 matrix whose columns are the direction
// cosines of the x, y and z axes.
type Geometry struct {
	// Size is the number of voxels along x, y and z.
	Size [3]int `json:"size"`

	// Spacing is the voxel size in mm along x, y and z.
	Spacing [3]float64 `json:"spacing"`

	// Origin is the physical position of voxel (0, 0, 0).
	Origin [3]float64 `json:"origin"`

	// Direction is the row-major orientation matrix.
	Direction [9]float64 `json:"direction"`
}

// IdentityDirection is the axis-aligned orientation matrix.
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// NewGeometry returns an axis-aligned geometry.
func NewGeometry(size [3]int, spacing, origin [3]float64) Geometry {
	return Geometry{Size: size, Spacing: spacing, Origin: origin, Direction: IdentityDirection}
}

// Shape returns the array shape in (Z, Y, X) order.
func (g Geometry) Shape() [3]int {
	return [3]int{g.Size[2], g.Size[1], g.Size[0]}
}

// NumVoxels returns X*Y*Z.
func (g Geometry) NumVoxels() int {
	return g.Size[0] * g.Size[1] * g.Size[2]
}

// Equal reports exact equality of size, spacing, origin and direction.
func (g Geometry) Equal(o Geometry) bool {
	return g == o
}

// Key returns a string usable as a map key for caches tied to this grid.
func (g Geometry) Key() string {
	return fmt.Sprintf("%v|%v|%v|%v", g.Size, g.Spacing, g.Origin, g.Direction)
}

// Contains reports whether the integer index lies inside the grid.
func (g Geometry) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < g.Size[0] && y < g.Size[1] && z < g.Size[2]
}

func (g Geometry) String() string {
	return fmt.Sprintf("size=%v spacing=%v origin=%v", g.Size, g.Spacing, g.Origin)
}

func (g Geometry) affine() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, g.Direction[r*3+c]*g.Spacing[c])
		}
	}
	return m
}

// IndexToPhysical maps a (possibly fractional) voxel index to patient space.
func (g Geometry) IndexToPhysical(idx [3]float64) [3]float64 {
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = g.Origin[r]
		for c := 0; c < 3; c++ {
			p[r] += g.Direction[r*3+c] * g.Spacing[c] * idx[c]
		}
	}
	return p
}

// PhysicalToIndex maps physical points to index space. When continuous is
// false every coordinate is snapped to the nearest integer (halves round up).
func (g Geometry) PhysicalToIndex(points [][3]float64, continuous bool) ([][3]float64, error) {
	var inv mat.Dense
	if err := inv.Inverse(g.affine()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularDirection, err)
	}

	out := make([][3]float64, len(points))
	for i, p := range points {
		d := [3]float64{p[0] - g.Origin[0], p[1] - g.Origin[1], p[2] - g.Origin[2]}
		for r := 0; r < 3; r++ {
			v := inv.At(r, 0)*d[0] + inv.At(r, 1)*d[1] + inv.At(r, 2)*d[2]
			if !continuous {
				v = math.Floor(v + 0.5)
			}
			out[i][r] = v
		}
	}
	return out, nil
}
