package mask

import (
	"errors"
	"fmt"
)

var (
	// ErrContourAcrossSlices marks a contour whose points fall on more than
	// one axial slice of the reference grid.
	ErrContourAcrossSlices = errors.New("contour spans multiple slices")

	// ErrMaskOutOfBounds marks a contour whose slice lies outside the grid.
	ErrMaskOutOfBounds = errors.New("contour slice outside image bounds")

	// ErrNonIntegerZSlice marks a contour whose continuous slice index is
	// fractional.
	ErrNonIntegerZSlice = errors.New("contour slice index is not an integer")

	// ErrNoMatchedROIs is returned when a mask is requested without any
	// matched ROI.
	ErrNoMatchedROIs = errors.New("no matched ROIs to rasterize")
)

// ContourRef locates an offending contour.
type ContourRef struct {
	ROI          string
	ContourIndex int
	ZValues      []float64
}

func (c ContourRef) describe() string {
	return fmt.Sprintf("roi %q contour %d z=%v", c.ROI, c.ContourIndex, c.ZValues)
}

// ContourAcrossSlicesError reports a contour spanning several slices.
type ContourAcrossSlicesError struct{ ContourRef }

func (e *ContourAcrossSlicesError) Error() string {
	return fmt.Sprintf("%v: %s", ErrContourAcrossSlices, e.describe())
}

func (e *ContourAcrossSlicesError) Unwrap() error { return ErrContourAcrossSlices }

// MaskOutOfBoundsError reports a contour whose slice is outside [0, Depth).
type MaskOutOfBoundsError struct {
	ContourRef
	Depth int
}

func (e *MaskOutOfBoundsError) Error() string {
	return fmt.Sprintf("%v: %s depth=%d", ErrMaskOutOfBounds, e.describe(), e.Depth)
}

func (e *MaskOutOfBoundsError) Unwrap() error { return ErrMaskOutOfBounds }

// NonIntegerZSliceError reports a fractional slice index in continuous mode.
type NonIntegerZSliceError struct{ ContourRef }

func (e *NonIntegerZSliceError) Error() string {
	return fmt.Sprintf("%v: %s", ErrNonIntegerZSlice, e.describe())
}

func (e *NonIntegerZSliceError) Unwrap() error { return ErrNonIntegerZSlice }
