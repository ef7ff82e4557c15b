package imageio

import (
	"fmt"

	"medimagetools/internal/models"
)

// ResampleResult is the outcome of Resample. Resampled is false when the
// image was returned on its own grid.
type ResampleResult struct {
	Image     *models.Image
	Resampled bool
}

// Resample maps img onto ref with nearest-neighbour interpolation. Voxels
// of ref that fall outside img are zero. With a nil ref, or a ref equal to
// the image grid, the input image is returned unchanged.
func Resample(img *models.Image, ref *models.Geometry) (ResampleResult, error) {
	if ref == nil || img.Geometry.Equal(*ref) {
		return ResampleResult{Image: img}, nil
	}
	out := models.NewImage(*ref, img.Modality)
	for k, v := range img.Metadata {
		out.Metadata[k] = v
	}
	err := eachSource(img.Geometry, *ref, func(dst, src int) {
		out.Data[dst] = img.Data[src]
	})
	if err != nil {
		return ResampleResult{}, err
	}
	return ResampleResult{Image: out, Resampled: true}, nil
}

// ResampleMask maps m onto ref with nearest-neighbour interpolation.
func ResampleMask(m *models.Mask, ref models.Geometry) (*models.Mask, error) {
	if m.Geometry.Equal(ref) {
		return m, nil
	}
	out := models.NewMask(ref)
	err := eachSource(m.Geometry, ref, func(dst, src int) {
		out.Data[dst] = m.Data[src]
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// eachSource calls fn with the flat offsets of every ref voxel and the
// nearest src voxel, skipping ref voxels outside src.
func eachSource(src, ref models.Geometry, fn func(dst, src int)) error {
	nx, ny := ref.Size[0], ref.Size[1]
	points := make([][3]float64, nx*ny)
	for z := 0; z < ref.Size[2]; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				points[y*nx+x] = ref.IndexToPhysical([3]float64{float64(x), float64(y), float64(z)})
			}
		}
		idx, err := src.PhysicalToIndex(points, false)
		if err != nil {
			return fmt.Errorf("resample: %w", err)
		}
		for i, p := range idx {
			sx, sy, sz := int(p[0]), int(p[1]), int(p[2])
			if !src.Contains(sx, sy, sz) {
				continue
			}
			fn(z*nx*ny+i, sz*src.Size[0]*src.Size[1]+sy*src.Size[0]+sx)
		}
	}
	return nil
}
