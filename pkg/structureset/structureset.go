// Package structureset loads RTSTRUCT contour data, keeps per-ROI failures
// apart from usable ROIs and rasterizes matched ROIs into vector masks.
package structureset

import (
	"medimagetools/internal/models"
	"medimagetools/pkg/mask"
	"medimagetools/pkg/roimatch"
)

// StructureSet is the contour content of one RTSTRUCT series.
//
// It memoizes rasterized ROIs per reference grid. The cache lives and dies
// with the StructureSet; a StructureSet is used by one sample at a time and
// is not safe for concurrent use.
type StructureSet struct {
	// ROIs holds the contours of every ROI that extracted cleanly.
	ROIs map[string][]models.Contour

	// Errors holds the extraction failure of every other ROI.
	Errors map[string]error

	// Metadata carries selected attributes of the source series.
	Metadata map[string]string

	names []string
	cache map[cacheKey]*models.Mask
}

type cacheKey struct {
	grid       string
	continuous bool
	roi        string
}

// Load extracts every ROI of src. Failing ROIs land in Errors and do not
// affect the others.
func Load(src ContourSource, meta map[string]string) *StructureSet {
	s := &StructureSet{
		ROIs:     make(map[string][]models.Contour),
		Errors:   make(map[string]error),
		Metadata: make(map[string]string, len(meta)),
		cache:    make(map[cacheKey]*models.Mask),
	}
	for k, v := range meta {
		s.Metadata[k] = v
	}

	for _, name := range src.ROINames() {
		if _, dup := s.ROIs[name]; dup {
			continue
		}
		if _, dup := s.Errors[name]; dup {
			continue
		}
		data, err := src.ROIContours(name)
		if err != nil {
			s.Errors[name] = err
			continue
		}
		contours, err := ExtractROI(name, data)
		if err != nil {
			s.Errors[name] = err
			continue
		}
		s.ROIs[name] = contours
		s.names = append(s.names, name)
	}
	return s
}

// ROINames lists the usable ROIs in source order.
func (s *StructureSet) ROINames() []string {
	return append([]string(nil), s.names...)
}

// Rasterize returns the mask of one ROI on r's grid, computing it at most
// once per grid.
func (s *StructureSet) Rasterize(r *mask.Rasterizer, roi string) (*models.Mask, error) {
	key := cacheKey{grid: r.Geometry.Key(), continuous: r.Continuous, roi: roi}
	if m, ok := s.cache[key]; ok {
		return m, nil
	}
	contours, ok := s.ROIs[roi]
	if !ok {
		if err, failed := s.Errors[roi]; failed {
			return nil, err
		}
		return nil, &ExtractionError{ROI: roi, ContourIndex: -1, Err: ErrROINotFound}
	}
	m, err := r.RasterizeROI(roi, contours)
	if err != nil {
		return nil, err
	}
	s.cache[key] = m
	return m, nil
}

// VectorMask rasterizes the matched ROIs into one channel per match on the
// rasterizer's grid. The result copies the structure set metadata.
func (s *StructureSet) VectorMask(r *mask.Rasterizer, matches []roimatch.Match) (*mask.VectorMask, error) {
	vm, err := mask.Assemble(r.Geometry, matches, func(name string) (*models.Mask, error) {
		return s.Rasterize(r, name)
	})
	if err != nil {
		return nil, err
	}
	for k, v := range s.Metadata {
		vm.Metadata[k] = v
	}
	return vm, nil
}
