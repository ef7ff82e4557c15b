// Package dicomutil wraps the element lookups shared by the DICOM readers.
package dicomutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Tags used across the readers. Declared by group/element so the readers do
// not depend on generated dictionary identifiers.
var (
	Modality                  = tag.Tag{Group: 0x0008, Element: 0x0060}
	SOPInstanceUID            = tag.Tag{Group: 0x0008, Element: 0x0018}
	SeriesDescription         = tag.Tag{Group: 0x0008, Element: 0x103E}
	PatientID                 = tag.Tag{Group: 0x0010, Element: 0x0020}
	StudyInstanceUID          = tag.Tag{Group: 0x0020, Element: 0x000D}
	SeriesInstanceUID         = tag.Tag{Group: 0x0020, Element: 0x000E}
	InstanceNumber            = tag.Tag{Group: 0x0020, Element: 0x0013}
	ImagePositionPatient      = tag.Tag{Group: 0x0020, Element: 0x0032}
	ImageOrientationPatient   = tag.Tag{Group: 0x0020, Element: 0x0037}
	FrameOfReferenceUID       = tag.Tag{Group: 0x0020, Element: 0x0052}
	SliceThickness            = tag.Tag{Group: 0x0018, Element: 0x0050}
	Rows                      = tag.Tag{Group: 0x0028, Element: 0x0010}
	Columns                   = tag.Tag{Group: 0x0028, Element: 0x0011}
	PixelSpacing              = tag.Tag{Group: 0x0028, Element: 0x0030}
	NumberOfFrames            = tag.Tag{Group: 0x0028, Element: 0x0008}
	RescaleIntercept          = tag.Tag{Group: 0x0028, Element: 0x1052}
	RescaleSlope              = tag.Tag{Group: 0x0028, Element: 0x1053}
	PixelData                 = tag.Tag{Group: 0x7FE0, Element: 0x0010}
	BitsAllocated             = tag.Tag{Group: 0x0028, Element: 0x0100}
	PixelRepresentation       = tag.Tag{Group: 0x0028, Element: 0x0103}
	ReferencedStructureSetSeq = tag.Tag{Group: 0x300C, Element: 0x0060}
	ReferencedSeriesSequence  = tag.Tag{Group: 0x0008, Element: 0x1115}
	ReferencedSOPInstanceUID  = tag.Tag{Group: 0x0008, Element: 0x1155}
	ReferencedRTPlanSequence  = tag.Tag{Group: 0x300C, Element: 0x0002}
	GridFrameOffsetVector     = tag.Tag{Group: 0x3004, Element: 0x000C}
	DoseGridScaling           = tag.Tag{Group: 0x3004, Element: 0x000E}
	StructureSetROISequence   = tag.Tag{Group: 0x3006, Element: 0x0020}
	ROINumber                 = tag.Tag{Group: 0x3006, Element: 0x0022}
	ROIName                   = tag.Tag{Group: 0x3006, Element: 0x0026}
	ROIContourSequence        = tag.Tag{Group: 0x3006, Element: 0x0039}
	ContourSequence           = tag.Tag{Group: 0x3006, Element: 0x0040}
	ContourGeometricType      = tag.Tag{Group: 0x3006, Element: 0x0042}
	ContourData               = tag.Tag{Group: 0x3006, Element: 0x0050}
	ReferencedROINumber       = tag.Tag{Group: 0x3006, Element: 0x0084}
	ReferencedFrameOfRefSeq   = tag.Tag{Group: 0x3006, Element: 0x0010}
	RTReferencedStudySequence = tag.Tag{Group: 0x3006, Element: 0x0012}
	RTReferencedSeriesSeq     = tag.Tag{Group: 0x3006, Element: 0x0014}
	SegmentSequence           = tag.Tag{Group: 0x0062, Element: 0x0002}
	SegmentNumber             = tag.Tag{Group: 0x0062, Element: 0x0004}
	SegmentLabel              = tag.Tag{Group: 0x0062, Element: 0x0005}
	SegmentIdentificationSeq  = tag.Tag{Group: 0x0062, Element: 0x000A}
	ReferencedSegmentNumber   = tag.Tag{Group: 0x0062, Element: 0x000B}
	PerFrameFunctionalGroups  = tag.Tag{Group: 0x5200, Element: 0x9230}
	SharedFunctionalGroups    = tag.Tag{Group: 0x5200, Element: 0x9229}
	PlanePositionSequence     = tag.Tag{Group: 0x0020, Element: 0x9113}
	PlaneOrientationSequence  = tag.Tag{Group: 0x0020, Element: 0x9116}
	PixelMeasuresSequence     = tag.Tag{Group: 0x0028, Element: 0x9110}
)

// ParseFile reads a DICOM file. Pixel data is skipped unless withPixels.
func ParseFile(path string, withPixels bool) (dicom.Dataset, error) {
	var opts []dicom.ParseOption
	if !withPixels {
		opts = append(opts, dicom.SkipPixelData())
	}
	ds, err := dicom.ParseFile(path, nil, opts...)
	if err != nil {
		return dicom.Dataset{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return ds, nil
}

// Find returns the first element with tag t, or nil.
func Find(elems []*dicom.Element, t tag.Tag) *dicom.Element {
	for _, e := range elems {
		if e != nil && e.Tag == t {
			return e
		}
	}
	return nil
}

// Has reports whether an element with tag t is present.
func Has(elems []*dicom.Element, t tag.Tag) bool {
	return Find(elems, t) != nil
}

// Strings returns the string values of t, or nil.
func Strings(elems []*dicom.Element, t tag.Tag) []string {
	e := Find(elems, t)
	if e == nil || e.Value == nil {
		return nil
	}
	switch v := e.Value.GetValue().(type) {
	case []string:
		return v
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out
	}
	return nil
}

// String returns the first string value of t, trimmed, or "".
func String(elems []*dicom.Element, t tag.Tag) string {
	vals := Strings(elems, t)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(vals[0], "\x00"))
}

// Floats returns the numeric values of t. Decimal strings are parsed. A
// missing element yields nil without error.
func Floats(elems []*dicom.Element, t tag.Tag) ([]float64, error) {
	e := Find(elems, t)
	if e == nil || e.Value == nil {
		return nil, nil
	}
	switch v := e.Value.GetValue().(type) {
	case []float64:
		return v, nil
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			for _, part := range strings.Split(s, `\`) {
				part = strings.TrimSpace(strings.TrimRight(part, "\x00"))
				if part == "" {
					continue
				}
				f, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return nil, fmt.Errorf("tag %v: %w", t, err)
				}
				out = append(out, f)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("tag %v: unexpected value type %T", t, e.Value.GetValue())
}

// Float returns the first numeric value of t.
func Float(elems []*dicom.Element, t tag.Tag) (float64, bool) {
	vals, err := Floats(elems, t)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// Int returns the first value of t as an integer.
func Int(elems []*dicom.Element, t tag.Tag) (int, bool) {
	f, ok := Float(elems, t)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Items returns the element lists of each item of sequence t. The second
// result is false when the sequence is absent.
func Items(elems []*dicom.Element, t tag.Tag) ([][]*dicom.Element, bool) {
	e := Find(elems, t)
	if e == nil || e.Value == nil {
		return nil, false
	}
	seq, ok := e.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil, false
	}
	out := make([][]*dicom.Element, 0, len(seq))
	for _, item := range seq {
		if elems, ok := item.GetValue().([]*dicom.Element); ok {
			out = append(out, elems)
		}
	}
	return out, true
}

// Nested follows a path of sequences, taking the first item at each level.
func Nested(elems []*dicom.Element, path ...tag.Tag) []*dicom.Element {
	cur := elems
	for _, t := range path {
		items, ok := Items(cur, t)
		if !ok || len(items) == 0 {
			return nil
		}
		cur = items[0]
	}
	return cur
}
