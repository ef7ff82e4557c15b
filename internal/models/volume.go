package models

import "fmt"

// Image is a scalar 3D volume on a voxel grid.
type Image struct {
	// Geometry is the voxel grid of the image.
	Geometry Geometry

	// Data holds the voxel values as a 1D array in z-major order:
	// index = z*Y*X + y*X + x.
	Data []float64

	// Modality is the modality of the series the image was read from.
	Modality Modality

	// Metadata carries selected DICOM attributes of the source series.
	Metadata map[string]string
}

// NewImage allocates a zero-filled image on g.
func NewImage(g Geometry, modality Modality) *Image {
	return &Image{
		Geometry: g,
		Data:     make([]float64, g.NumVoxels()),
		Modality: modality,
		Metadata: make(map[string]string),
	}
}

// At returns the voxel value at (x, y, z).
func (im *Image) At(x, y, z int) float64 {
	return im.Data[offset(im.Geometry, x, y, z)]
}

// Set stores v at (x, y, z).
func (im *Image) Set(x, y, z int, v float64) {
	im.Data[offset(im.Geometry, x, y, z)] = v
}

// Mask is a binary 3D volume. Voxels hold 0 or 1 only.
type Mask struct {
	Geometry Geometry
	Data     []uint8
}

// NewMask allocates an empty mask on g.
func NewMask(g Geometry) *Mask {
	return &Mask{Geometry: g, Data: make([]uint8, g.NumVoxels())}
}

// At returns the voxel value at (x, y, z).
func (m *Mask) At(x, y, z int) uint8 {
	return m.Data[offset(m.Geometry, x, y, z)]
}

// Set marks (x, y, z) as foreground.
func (m *Mask) Set(x, y, z int) {
	m.Data[offset(m.Geometry, x, y, z)] = 1
}

// OrSlice merges a (Y, X) boolean plane into slice z.
func (m *Mask) OrSlice(z int, plane []bool) {
	n := m.Geometry.Size[0] * m.Geometry.Size[1]
	base := z * n
	for i := 0; i < n && i < len(plane); i++ {
		if plane[i] {
			m.Data[base+i] = 1
		}
	}
}

// Or merges other into m. Both masks must share a geometry.
func (m *Mask) Or(other *Mask) error {
	if !m.Geometry.Equal(other.Geometry) {
		return fmt.Errorf("cannot merge masks with different geometry: %s vs %s", m.Geometry, other.Geometry)
	}
	for i, v := range other.Data {
		if v != 0 {
			m.Data[i] = 1
		}
	}
	return nil
}

// Clone returns a deep copy of m.
func (m *Mask) Clone() *Mask {
	data := make([]uint8, len(m.Data))
	copy(data, m.Data)
	return &Mask{Geometry: m.Geometry, Data: data}
}

// Sum returns the number of foreground voxels.
func (m *Mask) Sum() int {
	n := 0
	for _, v := range m.Data {
		n += int(v)
	}
	return n
}

// SliceSum returns the number of foreground voxels on slice z.
func (m *Mask) SliceSum(z int) int {
	n := m.Geometry.Size[0] * m.Geometry.Size[1]
	sum := 0
	for _, v := range m.Data[z*n : (z+1)*n] {
		sum += int(v)
	}
	return sum
}

func offset(g Geometry, x, y, z int) int {
	return z*g.Size[0]*g.Size[1] + y*g.Size[0] + x
}

// Contour is a single planar contour in patient space.
type Contour struct {
	Points [][3]float64
}
