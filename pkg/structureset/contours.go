package structureset

import (
	"errors"
	"fmt"
	"strings"

	"medimagetools/internal/models"
)

// ClosedPlanar is the only contour geometric type that is rasterized.
const ClosedPlanar = "CLOSED_PLANAR"

var (
	ErrContourSequenceMissing  = errors.New("contour sequence missing")
	ErrContourSequenceEmpty    = errors.New("contour sequence empty")
	ErrContourDataMissing      = errors.New("contour data missing")
	ErrUnexpectedGeometricType = errors.New("unexpected contour geometric type")
	ErrMalformedContourData    = errors.New("contour data is not a list of xyz triples")
	ErrROINotFound             = errors.New("roi not found")
)

// ContourItem is one contour as stored in the source.
type ContourItem struct {
	GeometricType string
	// Points holds flat x, y, z triples in patient coordinates.
	Points  []float64
	HasData bool
	// DecodeErr is set when the point data is present but unreadable.
	DecodeErr error
}

// ROIContourData is the raw contour payload of one ROI.
type ROIContourData struct {
	// Present is false when the ROI has no contour sequence at all.
	Present  bool
	Contours []ContourItem
}

// ContourSource exposes per-ROI contour payloads keyed by ROI name.
type ContourSource interface {
	ROINames() []string
	ROIContours(name string) (ROIContourData, error)
}

// ExtractionError is a per-ROI extraction failure.
type ExtractionError struct {
	ROI string
	// ContourIndex is -1 when the failure concerns the whole ROI.
	ContourIndex int
	Detail       string
	Err          error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("roi %q", e.ROI)
	if e.ContourIndex >= 0 {
		msg += fmt.Sprintf(" contour %d", e.ContourIndex)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ExtractROI validates the contours of one ROI and returns them as point
// lists. No coordinate conversion happens here.
func ExtractROI(name string, data ROIContourData) ([]models.Contour, error) {
	if !data.Present {
		return nil, &ExtractionError{ROI: name, ContourIndex: -1, Err: ErrContourSequenceMissing}
	}
	if len(data.Contours) == 0 {
		return nil, &ExtractionError{ROI: name, ContourIndex: -1, Err: ErrContourSequenceEmpty}
	}

	out := make([]models.Contour, 0, len(data.Contours))
	for i, item := range data.Contours {
		if item.DecodeErr != nil {
			return nil, &ExtractionError{ROI: name, ContourIndex: i, Detail: item.DecodeErr.Error(), Err: ErrMalformedContourData}
		}
		if !item.HasData || len(item.Points) == 0 {
			return nil, &ExtractionError{ROI: name, ContourIndex: i, Err: ErrContourDataMissing}
		}
		if gt := strings.ToUpper(strings.TrimSpace(item.GeometricType)); gt != ClosedPlanar {
			return nil, &ExtractionError{ROI: name, ContourIndex: i, Detail: gt, Err: ErrUnexpectedGeometricType}
		}
		if len(item.Points)%3 != 0 {
			return nil, &ExtractionError{
				ROI: name, ContourIndex: i,
				Detail: fmt.Sprintf("%d values", len(item.Points)),
				Err:    ErrMalformedContourData,
			}
		}
		pts := make([][3]float64, len(item.Points)/3)
		for j := range pts {
			pts[j] = [3]float64{item.Points[3*j], item.Points[3*j+1], item.Points[3*j+2]}
		}
		out = append(out, models.Contour{Points: pts})
	}
	return out, nil
}
