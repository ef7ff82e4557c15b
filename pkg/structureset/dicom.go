package structureset

import (
	"fmt"
	"strconv"

	"github.com/suyashkumar/dicom"

	"medimagetools/internal/dicomutil"
)

// DICOMSource is a ContourSource over the elements of an RTSTRUCT file.
type DICOMSource struct {
	names  []string
	byName map[string]ROIContourData
}

// NewDICOMSource joins StructureSetROISequence and ROIContourSequence on the
// ROI number. ROIs without a contour entry report a missing sequence.
func NewDICOMSource(elems []*dicom.Element) (*DICOMSource, error) {
	rois, ok := dicomutil.Items(elems, dicomutil.StructureSetROISequence)
	if !ok {
		return nil, fmt.Errorf("structure set has no StructureSetROISequence")
	}

	contoursByNumber := make(map[string]ROIContourData)
	roiContours, _ := dicomutil.Items(elems, dicomutil.ROIContourSequence)
	for _, item := range roiContours {
		number := dicomutil.String(item, dicomutil.ReferencedROINumber)
		seq, present := dicomutil.Items(item, dicomutil.ContourSequence)
		data := ROIContourData{Present: present}
		for _, c := range seq {
			pts, err := dicomutil.Floats(c, dicomutil.ContourData)
			data.Contours = append(data.Contours, ContourItem{
				GeometricType: dicomutil.String(c, dicomutil.ContourGeometricType),
				Points:        pts,
				HasData:       dicomutil.Has(c, dicomutil.ContourData),
				DecodeErr:     err,
			})
		}
		contoursByNumber[number] = data
	}

	src := &DICOMSource{byName: make(map[string]ROIContourData)}
	for i, item := range rois {
		name := dicomutil.String(item, dicomutil.ROIName)
		if name == "" {
			name = "ROI_" + strconv.Itoa(i)
		}
		if _, dup := src.byName[name]; dup {
			continue
		}
		number := dicomutil.String(item, dicomutil.ROINumber)
		src.names = append(src.names, name)
		src.byName[name] = contoursByNumber[number]
	}
	return src, nil
}

// ROINames implements ContourSource.
func (s *DICOMSource) ROINames() []string { return append([]string(nil), s.names...) }

// ROIContours implements ContourSource.
func (s *DICOMSource) ROIContours(name string) (ROIContourData, error) {
	data, ok := s.byName[name]
	if !ok {
		return ROIContourData{}, &ExtractionError{ROI: name, ContourIndex: -1, Err: ErrROINotFound}
	}
	return data, nil
}

// ReferencedSeriesUID returns the image series an RTSTRUCT was drawn on,
// read from ReferencedFrameOfReferenceSequence.
func ReferencedSeriesUID(elems []*dicom.Element) string {
	leaf := dicomutil.Nested(elems,
		dicomutil.ReferencedFrameOfRefSeq,
		dicomutil.RTReferencedStudySequence,
		dicomutil.RTReferencedSeriesSeq,
	)
	return dicomutil.String(leaf, dicomutil.SeriesInstanceUID)
}

// ReadDICOM parses an RTSTRUCT file and loads its structure set.
func ReadDICOM(path string) (*StructureSet, error) {
	ds, err := dicomutil.ParseFile(path, false)
	if err != nil {
		return nil, err
	}
	src, err := NewDICOMSource(ds.Elements)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	meta := map[string]string{
		"PatientID":           dicomutil.String(ds.Elements, dicomutil.PatientID),
		"StudyInstanceUID":    dicomutil.String(ds.Elements, dicomutil.StudyInstanceUID),
		"SeriesInstanceUID":   dicomutil.String(ds.Elements, dicomutil.SeriesInstanceUID),
		"Modality":            dicomutil.String(ds.Elements, dicomutil.Modality),
		"SeriesDescription":   dicomutil.String(ds.Elements, dicomutil.SeriesDescription),
		"ReferencedSeriesUID": ReferencedSeriesUID(ds.Elements),
	}
	return Load(src, meta), nil
}
