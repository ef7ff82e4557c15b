package mask

import (
	"fmt"

	"medimagetools/internal/models"
	"medimagetools/pkg/roimatch"
)

// ROIMapping describes what feeds one channel of a VectorMask.
type ROIMapping struct {
	Key   string   `json:"key"`
	Names []string `json:"rois"`
}

// VectorMask is a multi-channel binary volume, one channel per matched key.
// Its geometry always equals the reference image's geometry.
type VectorMask struct {
	Geometry   models.Geometry
	Channels   []*models.Mask
	ROIMapping map[int]ROIMapping
	Metadata   map[string]string
}

// Shape returns the per-channel array shape (Z, Y, X).
func (v *VectorMask) Shape() [3]int { return v.Geometry.Shape() }

// NumChannels returns the number of channels.
func (v *VectorMask) NumChannels() int { return len(v.Channels) }

// Channel returns channel i.
func (v *VectorMask) Channel(i int) *models.Mask { return v.Channels[i] }

// Keys returns the output key of every channel in channel order.
func (v *VectorMask) Keys() []string {
	keys := make([]string, len(v.Channels))
	for i := range v.Channels {
		keys[i] = v.ROIMapping[i].Key
	}
	return keys
}

// Lookup returns the binary volume of one source ROI on the reference grid.
type Lookup func(roiName string) (*models.Mask, error)

// Assemble builds a VectorMask from matcher output. Each match becomes one
// channel holding the OR of its ROIs; overlap between ROIs of one channel is
// merged silently and no check is made across channels.
func Assemble(ref models.Geometry, matches []roimatch.Match, lookup Lookup) (*VectorMask, error) {
	if len(matches) == 0 {
		return nil, ErrNoMatchedROIs
	}
	vm := &VectorMask{
		Geometry:   ref,
		ROIMapping: make(map[int]ROIMapping, len(matches)),
		Metadata:   make(map[string]string),
	}
	for i, m := range matches {
		channel := models.NewMask(ref)
		for _, name := range m.Names {
			roi, err := lookup(name)
			if err != nil {
				return nil, err
			}
			if err := channel.Or(roi); err != nil {
				return nil, fmt.Errorf("channel %q roi %q: %w", m.OutputKey(), name, err)
			}
		}
		vm.Channels = append(vm.Channels, channel)
		vm.ROIMapping[i] = ROIMapping{Key: m.OutputKey(), Names: append([]string(nil), m.Names...)}
	}
	return vm, nil
}
