package segmentation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/suyashkumar/dicom"

	"medimagetools/internal/dicomutil"
	"medimagetools/internal/models"
)

var ErrNoSegments = errors.New("segmentation has no segments")

type segFrame struct {
	segment  int
	position [3]float64
}

// ReadDICOM parses a SEG file.
func ReadDICOM(path string) (*Segmentation, error) {
	ds, err := dicomutil.ParseFile(path, true)
	if err != nil {
		return nil, err
	}
	s, err := FromElements(ds.Elements)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// FromElements builds a Segmentation from the elements of a SEG instance.
// Frames are placed on slices by their ImagePositionPatient and routed to
// segments by ReferencedSegmentNumber.
func FromElements(elems []*dicom.Element) (*Segmentation, error) {
	segItems, _ := dicomutil.Items(elems, dicomutil.SegmentSequence)
	if len(segItems) == 0 {
		return nil, ErrNoSegments
	}

	shared := dicomutil.Nested(elems, dicomutil.SharedFunctionalGroups)
	iop, _ := dicomutil.Floats(dicomutil.Nested(shared, dicomutil.PlaneOrientationSequence), dicomutil.ImageOrientationPatient)
	if len(iop) != 6 {
		iop = []float64{1, 0, 0, 0, 1, 0}
	}
	measures := dicomutil.Nested(shared, dicomutil.PixelMeasuresSequence)
	pixelSpacing, _ := dicomutil.Floats(measures, dicomutil.PixelSpacing)
	thickness, _ := dicomutil.Float(measures, dicomutil.SliceThickness)

	row, col, normal := dicomutil.SliceAxes(iop)
	along := func(p [3]float64) float64 { return normal.Dot(dicomutil.Vector(p)) }

	perFrame, _ := dicomutil.Items(elems, dicomutil.PerFrameFunctionalGroups)
	frames := make([]segFrame, len(perFrame))
	for i, item := range perFrame {
		ref := dicomutil.Nested(item, dicomutil.SegmentIdentificationSeq)
		n, ok := dicomutil.Int(ref, dicomutil.ReferencedSegmentNumber)
		if !ok {
			return nil, fmt.Errorf("frame %d: no ReferencedSegmentNumber", i)
		}
		pos, _ := dicomutil.Floats(dicomutil.Nested(item, dicomutil.PlanePositionSequence), dicomutil.ImagePositionPatient)
		if len(pos) != 3 {
			return nil, fmt.Errorf("frame %d: bad ImagePositionPatient", i)
		}
		frames[i] = segFrame{segment: n, position: [3]float64{pos[0], pos[1], pos[2]}}
	}

	// Distinct slice positions along the normal, ascending.
	if len(frames) == 0 {
		return nil, fmt.Errorf("no per-frame functional groups")
	}
	var levels []float64
	origin := frames[0].position
	for _, f := range frames {
		d := along(f.position)
		if indexOf(levels, d) < 0 {
			levels = append(levels, d)
		}
		if d < along(origin) {
			origin = f.position
		}
	}
	sort.Float64s(levels)

	rows, _ := dicomutil.Int(elems, dicomutil.Rows)
	cols, _ := dicomutil.Int(elems, dicomutil.Columns)
	g := models.Geometry{
		Size:    [3]int{cols, rows, len(levels)},
		Spacing: [3]float64{1, 1, 1},
		Origin:  origin,
	}
	if len(pixelSpacing) == 2 {
		g.Spacing[0], g.Spacing[1] = pixelSpacing[1], pixelSpacing[0]
	}
	switch {
	case len(levels) > 1:
		g.Spacing[2] = minGap(levels)
		g.Size[2] = int(math.Round((levels[len(levels)-1]-levels[0])/g.Spacing[2])) + 1
	case thickness > 0:
		g.Spacing[2] = thickness
	}
	g.Direction = dicomutil.Direction(row, col, normal)

	s := &Segmentation{Geometry: g, Metadata: map[string]string{
		"PatientID":           dicomutil.String(elems, dicomutil.PatientID),
		"StudyInstanceUID":    dicomutil.String(elems, dicomutil.StudyInstanceUID),
		"SeriesInstanceUID":   dicomutil.String(elems, dicomutil.SeriesInstanceUID),
		"Modality":            dicomutil.String(elems, dicomutil.Modality),
		"ReferencedSeriesUID": ReferencedSeriesUID(elems),
	}}
	byNumber := make(map[int]int)
	for _, item := range segItems {
		n, _ := dicomutil.Int(item, dicomutil.SegmentNumber)
		label := dicomutil.String(item, dicomutil.SegmentLabel)
		if label == "" {
			label = "Segment_" + strconv.Itoa(n)
		}
		byNumber[n] = len(s.Segments)
		s.Segments = append(s.Segments, Segment{Number: n, Label: label, Mask: models.NewMask(g)})
	}

	pix := dicomutil.Find(elems, dicomutil.PixelData)
	if pix == nil {
		return nil, fmt.Errorf("no pixel data")
	}
	info, ok := pix.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value %T", pix.Value.GetValue())
	}
	if len(info.Frames) != len(frames) {
		return nil, fmt.Errorf("%d frames but %d per-frame groups", len(info.Frames), len(frames))
	}

	for i, fr := range info.Frames {
		segIdx, ok := byNumber[frames[i].segment]
		if !ok {
			return nil, fmt.Errorf("frame %d references unknown segment %d", i, frames[i].segment)
		}
		native, err := fr.GetNativeFrame()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		z := int(math.Round((along(frames[i].position) - levels[0]) / g.Spacing[2]))
		plane := make([]bool, rows*cols)
		for y := 0; y < rows && y < native.Rows(); y++ {
			for x := 0; x < cols && x < native.Cols(); x++ {
				px, err := native.GetPixel(x, y)
				if err != nil {
					return nil, fmt.Errorf("frame %d: %w", i, err)
				}
				plane[y*cols+x] = px[0] != 0
			}
		}
		s.Segments[segIdx].Mask.OrSlice(z, plane)
	}
	return s, nil
}

// ReferencedSeriesUID returns the source image series of a SEG.
func ReferencedSeriesUID(elems []*dicom.Element) string {
	return dicomutil.String(dicomutil.Nested(elems, dicomutil.ReferencedSeriesSequence), dicomutil.SeriesInstanceUID)
}

func indexOf(levels []float64, v float64) int {
	for i, l := range levels {
		if math.Abs(l-v) < 1e-4 {
			return i
		}
	}
	return -1
}

func minGap(levels []float64) float64 {
	gap := math.Inf(1)
	for i := 1; i < len(levels); i++ {
		if d := levels[i] - levels[i-1]; d < gap {
			gap = d
		}
	}
	return gap
}
