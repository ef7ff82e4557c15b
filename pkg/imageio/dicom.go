// Package imageio reads DICOM image series into volumes, resamples volumes
// onto a reference grid and writes NIfTI-1 files.
package imageio

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"medimagetools/internal/dicomutil"
	"medimagetools/internal/models"
)

var (
	ErrNoSlices          = errors.New("series has no image slices")
	ErrEncapsulatedPixel = errors.New("encapsulated (compressed) pixel data is not supported")
	ErrInconsistentSlice = errors.New("slices do not share rows, columns and orientation")
)

type slice struct {
	position    [3]float64
	orientation [6]float64
	rows, cols  int
	pixels      []float64
}

// ReadSeries parses the files of one image series and stacks them into a
// volume. Multi-frame files (RTDOSE) are expanded using their frame offsets.
func ReadSeries(folder string, files []string) (*models.Image, error) {
	datasets := make([]dicom.Dataset, 0, len(files))
	for _, f := range files {
		path := f
		if !filepath.IsAbs(f) {
			path = filepath.Join(folder, f)
		}
		ds, err := dicomutil.ParseFile(path, true)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	return FromDatasets(datasets)
}

// FromDatasets builds a volume from already parsed datasets of one series.
func FromDatasets(datasets []dicom.Dataset) (*models.Image, error) {
	if len(datasets) == 0 {
		return nil, ErrNoSlices
	}

	var slices []slice
	for i, ds := range datasets {
		s, err := readSlices(ds.Elements)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
		slices = append(slices, s...)
	}
	if len(slices) == 0 {
		return nil, ErrNoSlices
	}

	first := slices[0]
	for _, s := range slices[1:] {
		if s.rows != first.rows || s.cols != first.cols || s.orientation != first.orientation {
			return nil, ErrInconsistentSlice
		}
	}

	row, col, normal := dicomutil.SliceAxes(first.orientation[:])
	along := func(s slice) float64 { return normal.Dot(dicomutil.Vector(s.position)) }
	sort.SliceStable(slices, func(i, j int) bool {
		return along(slices[i]) < along(slices[j])
	})

	elems := datasets[0].Elements
	spacing, _ := dicomutil.Floats(elems, dicomutil.PixelSpacing)
	g := models.Geometry{
		Size:    [3]int{first.cols, first.rows, len(slices)},
		Spacing: [3]float64{1, 1, 1},
		Origin:  slices[0].position,
	}
	if len(spacing) == 2 {
		// PixelSpacing is row spacing (y) then column spacing (x).
		g.Spacing[0], g.Spacing[1] = spacing[1], spacing[0]
	}
	if len(slices) > 1 {
		g.Spacing[2] = along(slices[1]) - along(slices[0])
	} else if th, ok := dicomutil.Float(elems, dicomutil.SliceThickness); ok && th > 0 {
		g.Spacing[2] = th
	}
	if g.Spacing[2] <= 0 {
		g.Spacing[2] = 1
	}
	g.Direction = dicomutil.Direction(row, col, normal)

	modality, err := models.ParseModality(dicomutil.String(elems, dicomutil.Modality))
	if err != nil {
		return nil, err
	}
	img := models.NewImage(g, modality)
	plane := first.rows * first.cols
	for z, s := range slices {
		copy(img.Data[z*plane:(z+1)*plane], s.pixels)
	}
	for key, t := range metadataTags {
		if v := dicomutil.String(elems, t); v != "" {
			img.Metadata[key] = v
		}
	}
	return img, nil
}

// readSlices decodes the frames of one instance and rescales them.
func readSlices(elems []*dicom.Element) ([]slice, error) {
	pos, err := dicomutil.Floats(elems, dicomutil.ImagePositionPatient)
	if err != nil || len(pos) != 3 {
		return nil, fmt.Errorf("bad ImagePositionPatient: %v", pos)
	}
	iop, err := dicomutil.Floats(elems, dicomutil.ImageOrientationPatient)
	if err != nil || len(iop) != 6 {
		return nil, fmt.Errorf("bad ImageOrientationPatient: %v", iop)
	}

	e := dicomutil.Find(elems, dicomutil.PixelData)
	if e == nil {
		return nil, fmt.Errorf("no pixel data")
	}
	info, ok := e.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value %T", e.Value.GetValue())
	}

	slope, intercept := 1.0, 0.0
	if v, ok := dicomutil.Float(elems, dicomutil.RescaleSlope); ok && v != 0 {
		slope = v
	}
	if v, ok := dicomutil.Float(elems, dicomutil.RescaleIntercept); ok {
		intercept = v
	}
	if v, ok := dicomutil.Float(elems, dicomutil.DoseGridScaling); ok && v != 0 {
		slope = v
	}
	signed := false
	if v, ok := dicomutil.Int(elems, dicomutil.PixelRepresentation); ok {
		signed = v == 1
	}
	bits := 16
	if v, ok := dicomutil.Int(elems, dicomutil.BitsAllocated); ok && v > 0 {
		bits = v
	}

	offsets, _ := dicomutil.Floats(elems, dicomutil.GridFrameOffsetVector)
	_, _, normal := dicomutil.SliceAxes(iop)

	out := make([]slice, 0, len(info.Frames))
	for i, fr := range info.Frames {
		if fr.Encapsulated {
			return nil, ErrEncapsulatedPixel
		}
		native, err := fr.GetNativeFrame()
		if err != nil {
			return nil, err
		}
		s := slice{rows: native.Rows(), cols: native.Cols()}
		copy(s.orientation[:], iop)
		copy(s.position[:], pos)
		if i < len(offsets) {
			s.position = dicomutil.Triple(dicomutil.Vector(s.position).Add(normal.Mul(offsets[i])))
		}

		s.pixels = make([]float64, s.rows*s.cols)
		for y := 0; y < s.rows; y++ {
			for x := 0; x < s.cols; x++ {
				px, err := native.GetPixel(x, y)
				if err != nil {
					return nil, err
				}
				v := px[0]
				if signed && v >= 1<<(bits-1) {
					v -= 1 << bits
				}
				s.pixels[y*s.cols+x] = float64(v)*slope + intercept
			}
		}
		out = append(out, s)
	}
	return out, nil
}

var metadataTags = map[string]tag.Tag{
	"PatientID":           dicomutil.PatientID,
	"StudyInstanceUID":    dicomutil.StudyInstanceUID,
	"SeriesInstanceUID":   dicomutil.SeriesInstanceUID,
	"FrameOfReferenceUID": dicomutil.FrameOfReferenceUID,
	"SeriesDescription":   dicomutil.SeriesDescription,
}
