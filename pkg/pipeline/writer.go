package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/stat"

	"medimagetools/internal/models"
	"medimagetools/pkg/visualization"
)

// OutputFile describes one written file.
type OutputFile struct {
	Path      string          `json:"path"`
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	Modality  models.Modality `json:"modality"`
	SeriesUID string          `json:"series_uid"`
	Bytes     int64           `json:"bytes"`

	// Image outputs.
	Resampled bool `json:"resampled,omitempty"`

	// Mask channel outputs.
	Key      string      `json:"key,omitempty"`
	ROIs     []string    `json:"rois,omitempty"`
	Voxels   int         `json:"voxels,omitempty"`
	Centroid *[3]float64 `json:"centroid,omitempty"`
}

// Output kinds.
const (
	KindImage    = "image"
	KindMask     = "mask"
	KindSnapshot = "snapshot"
)

// save writes every loaded image and mask channel of one sample into dir.
func (p *Pipeline) save(dir string, ls *LoadedSample) ([]OutputFile, error) {
	var files []OutputFile

	images := ls.Images
	if ls.Reference != nil {
		images = append([]LoadedImage{*ls.Reference}, images...)
	}
	for _, li := range images {
		path := p.writer.Path(dir, li.ID)
		n, err := p.writer.WriteImage(path, li.Image)
		if err != nil {
			return files, err
		}
		p.metrics.ObserveWrite(n)
		files = append(files, OutputFile{
			Path: path, Kind: KindImage, ID: li.ID,
			Modality: li.Record.Modality, SeriesUID: li.Record.SeriesInstanceUID,
			Bytes: n, Resampled: li.Resampled,
		})
	}

	for _, lm := range ls.Masks {
		used := make(map[string]bool, len(lm.Mask.Channels))
		for i, ch := range lm.Mask.Channels {
			mapping := lm.Mask.ROIMapping[i]
			base := filepath.Join(lm.ID, uniqueName(safeName(mapping.Key), i, used))
			path := p.writer.Path(dir, base)
			n, err := p.writer.WriteMask(path, ch, mapping.Key)
			if err != nil {
				return files, err
			}
			p.metrics.ObserveWrite(n)
			voxels, centroid := channelStats(ch)
			of := OutputFile{
				Path: path, Kind: KindMask, ID: lm.ID,
				Modality: lm.Record.Modality, SeriesUID: lm.Record.SeriesInstanceUID,
				Bytes: n, Key: mapping.Key, ROIs: mapping.Names, Voxels: voxels,
			}
			if voxels > 0 {
				of.Centroid = &centroid
			}
			files = append(files, of)

			if !p.params.QASnapshots {
				continue
			}
			var ref *models.Image
			if ls.Reference != nil {
				ref = ls.Reference.Image
			}
			png := filepath.Join(dir, base+".png")
			z, err := visualization.Snapshot(png, ref, ch)
			if err != nil {
				return files, fmt.Errorf("snapshot %s: %w", png, err)
			}
			if z >= 0 {
				files = append(files, OutputFile{
					Path: png, Kind: KindSnapshot, ID: lm.ID,
					Modality: lm.Record.Modality, SeriesUID: lm.Record.SeriesInstanceUID, Key: mapping.Key,
				})
			}
		}
	}
	return files, nil
}

// channelStats returns the foreground voxel count and the physical centroid
// of a mask.
func channelStats(m *models.Mask) (int, [3]float64) {
	var xs, ys, zs []float64
	nx, ny := m.Geometry.Size[0], m.Geometry.Size[1]
	for i, v := range m.Data {
		if v == 0 {
			continue
		}
		xs = append(xs, float64(i%nx))
		ys = append(ys, float64((i/nx)%ny))
		zs = append(zs, float64(i/(nx*ny)))
	}
	if len(xs) == 0 {
		return 0, [3]float64{}
	}
	idx := [3]float64{stat.Mean(xs, nil), stat.Mean(ys, nil), stat.Mean(zs, nil)}
	return len(xs), m.Geometry.IndexToPhysical(idx)
}

// uniqueName returns name, or name suffixed with the channel index when an
// earlier channel of the same mask already took it.
func uniqueName(name string, channel int, used map[string]bool) string {
	candidate := name
	for n := 0; used[strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s_%d", name, channel)
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d_%d", name, channel, n)
		}
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

// safeName turns a channel key into a file name.
func safeName(key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("._-[]", r):
			return r
		}
		return '_'
	}, key)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}
