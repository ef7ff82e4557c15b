package pipeline

import (
	"errors"
	"fmt"

	"medimagetools/internal/models"
	"medimagetools/pkg/imageio"
	"medimagetools/pkg/mask"
	"medimagetools/pkg/roimatch"
	"medimagetools/pkg/structureset"
)

// Stage names the step of sample processing that failed.
type Stage string

const (
	StageLoad      Stage = "load"
	StageMatch     Stage = "match"
	StageRasterize Stage = "rasterize"
	StageTransform Stage = "transform"
	StageSave      Stage = "save"
)

var (
	ErrNoReferenceImage = errors.New("sample has no reference image")
	ErrSeriesNotFound   = errors.New("series not in crawl")
)

// StageError attaches the failing stage to a sample error.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: s, Err: err}
}

// errorKinds maps known failures to the error type recorded in results.
// Earlier entries win.
var errorKinds = []struct {
	err  error
	name string
}{
	{mask.ErrContourAcrossSlices, "ContourAcrossSlicesError"},
	{mask.ErrMaskOutOfBounds, "MaskOutOfBoundsError"},
	{mask.ErrNonIntegerZSlice, "NonIntegerZSliceError"},
	{mask.ErrNoMatchedROIs, "NoMatchedROIsError"},
	{roimatch.ErrROIMatching, "ROIMatchingError"},
	{structureset.ErrContourSequenceMissing, "ContourSequenceMissing"},
	{structureset.ErrContourSequenceEmpty, "ContourSequenceEmpty"},
	{structureset.ErrContourDataMissing, "ContourDataMissing"},
	{structureset.ErrUnexpectedGeometricType, "UnexpectedGeometricType"},
	{models.ErrSingularDirection, "SingularDirectionError"},
	{imageio.ErrNoSlices, "NoSlicesError"},
	{imageio.ErrEncapsulatedPixel, "EncapsulatedPixelDataError"},
	{imageio.ErrInconsistentSlice, "InconsistentSliceError"},
	{ErrNoReferenceImage, "NoReferenceImageError"},
	{ErrSeriesNotFound, "SeriesNotFoundError"},
}

// classify returns the stage and error type of a sample failure.
func classify(err error) (Stage, string) {
	stage := StageLoad
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return stage, k.name
		}
	}
	inner := err
	if se != nil {
		inner = se.Err
	}
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	return stage, fmt.Sprintf("%T", inner)
}
