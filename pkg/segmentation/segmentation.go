// Package segmentation turns DICOM SEG label volumes into vector masks.
package segmentation

import (
	"fmt"

	"medimagetools/internal/models"
	"medimagetools/pkg/imageio"
	"medimagetools/pkg/mask"
	"medimagetools/pkg/roimatch"
)

// Segment is one labelled binary volume of a segmentation.
type Segment struct {
	Number int
	Label  string
	Mask   *models.Mask
}

// Segmentation is the content of one SEG series. All segments share
// Geometry.
type Segmentation struct {
	Geometry models.Geometry
	Segments []Segment
	Metadata map[string]string
}

// Labels returns the segment labels in segment order. They play the role of
// ROI names for matching.
func (s *Segmentation) Labels() []string {
	out := make([]string, 0, len(s.Segments))
	for _, seg := range s.Segments {
		out = append(out, seg.Label)
	}
	return out
}

func (s *Segmentation) segment(label string) (*Segment, bool) {
	for i := range s.Segments {
		if s.Segments[i].Label == label {
			return &s.Segments[i], true
		}
	}
	return nil, false
}

// ToVectorMask builds one channel per match on the reference grid.
// Segments on a different grid are resampled with nearest neighbour.
func (s *Segmentation) ToVectorMask(ref models.Geometry, matches []roimatch.Match) (*mask.VectorMask, error) {
	resampled := make(map[string]*models.Mask)
	vm, err := mask.Assemble(ref, matches, func(label string) (*models.Mask, error) {
		if m, ok := resampled[label]; ok {
			return m, nil
		}
		seg, ok := s.segment(label)
		if !ok {
			return nil, fmt.Errorf("segment %q not found", label)
		}
		m, err := imageio.ResampleMask(seg.Mask, ref)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", label, err)
		}
		resampled[label] = m
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	for k, v := range s.Metadata {
		vm.Metadata[k] = v
	}
	return vm, nil
}
