package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"medimagetools/internal/logging"
	"medimagetools/internal/models"
	"medimagetools/pkg/graph"
	"medimagetools/pkg/imageio"
	"medimagetools/pkg/mask"
	"medimagetools/pkg/roimatch"
	"medimagetools/pkg/segmentation"
	"medimagetools/pkg/structureset"
)

// Reader loads the content of one series.
type Reader interface {
	ReadImage(rec models.SeriesRecord) (*models.Image, error)
	ReadStructureSet(rec models.SeriesRecord) (*structureset.StructureSet, error)
	ReadSegmentation(rec models.SeriesRecord) (*segmentation.Segmentation, error)
}

// DICOMReader reads series from the files listed in their records.
type DICOMReader struct{}

func (DICOMReader) ReadImage(rec models.SeriesRecord) (*models.Image, error) {
	return imageio.ReadSeries(rec.Folder, rec.Files)
}

func (DICOMReader) ReadStructureSet(rec models.SeriesRecord) (*structureset.StructureSet, error) {
	path, err := singleFile(rec)
	if err != nil {
		return nil, err
	}
	return structureset.ReadDICOM(path)
}

func (DICOMReader) ReadSegmentation(rec models.SeriesRecord) (*segmentation.Segmentation, error) {
	path, err := singleFile(rec)
	if err != nil {
		return nil, err
	}
	return segmentation.ReadDICOM(path)
}

func singleFile(rec models.SeriesRecord) (string, error) {
	if len(rec.Files) == 0 {
		return "", fmt.Errorf("series %s has no files", rec.SeriesInstanceUID)
	}
	if filepath.IsAbs(rec.Files[0]) {
		return rec.Files[0], nil
	}
	return filepath.Join(rec.Folder, rec.Files[0]), nil
}

// LoadedImage is an image series of a sample, on the reference grid when
// one is available.
type LoadedImage struct {
	ID        string
	Record    models.SeriesRecord
	Image     *models.Image
	Resampled bool
}

// LoadedMask is the vector mask built from one RTSTRUCT or SEG series.
type LoadedMask struct {
	ID     string
	Record models.SeriesRecord
	Mask   *mask.VectorMask
}

// LoadedSample is everything loaded for one sample.
type LoadedSample struct {
	Reference *LoadedImage
	Images    []LoadedImage
	Masks     []LoadedMask

	Requested int
	Loaded    int
	// Failures holds one message per series that could not be read.
	Failures []string
}

// Loader loads one sample: the reference image first, then every
// dependent series, matching and rasterizing ROIs on the reference grid.
type Loader struct {
	Graph   *graph.Graph
	Reader  Reader
	Matcher *roimatch.Matcher

	// Filler and Continuous configure the contour rasterizer.
	Filler     mask.Filler
	Continuous bool

	Logger *slog.Logger
}

// referenceOrder ranks image modalities for the choice of reference.
var referenceOrder = []models.Modality{models.CT, models.MR, models.PT}

func pickReference(s graph.Sample) int {
	for _, m := range referenceOrder {
		for i, it := range s {
			if it.Modality == m {
				return i
			}
		}
	}
	return -1
}

// Load reads sample. Series that cannot be read are skipped with a warning;
// a failing reference image and any match, rasterize or transform failure
// abort the sample with a *StageError.
func (l *Loader) Load(sampleID string, sample graph.Sample) (*LoadedSample, error) {
	logger := logging.OrDefault(l.Logger).With("sample", sampleID)
	reader := l.Reader
	if reader == nil {
		reader = DICOMReader{}
	}

	out := &LoadedSample{Requested: len(sample)}
	counters := make(map[models.Modality]int)
	ids := make([]string, len(sample))
	for i, it := range sample {
		ids[i] = fmt.Sprintf("%s_%d", it.Modality, counters[it.Modality])
		counters[it.Modality]++
	}

	records := make([]models.SeriesRecord, len(sample))
	for i, it := range sample {
		n, ok := l.Graph.Node(it.Series)
		if !ok {
			return nil, stageErr(StageLoad, fmt.Errorf("%w: %s", ErrSeriesNotFound, it.Series))
		}
		records[i] = n.Record
	}

	refIdx := pickReference(sample)
	var refGeom *models.Geometry
	if refIdx >= 0 {
		img, err := reader.ReadImage(records[refIdx])
		if err != nil {
			return nil, stageErr(StageLoad, fmt.Errorf("reference %s: %w", sample[refIdx].Series, err))
		}
		out.Reference = &LoadedImage{ID: ids[refIdx], Record: records[refIdx], Image: img}
		out.Loaded++
		refGeom = &img.Geometry
	}

	skip := func(i int, err error) {
		msg := fmt.Sprintf("%s %s: %v", sample[i].Modality, sample[i].Series, err)
		out.Failures = append(out.Failures, msg)
		logger.Warn("could not read series", "series", sample[i].Series, "modality", sample[i].Modality, "error", err)
	}

	for i, it := range sample {
		if i == refIdx {
			continue
		}
		rec := records[i]
		switch it.Modality.Kind() {
		case models.KindImage, models.KindDose:
			img, err := reader.ReadImage(rec)
			if err != nil {
				skip(i, err)
				continue
			}
			res, err := imageio.Resample(img, refGeom)
			if err != nil {
				return nil, stageErr(StageTransform, fmt.Errorf("%s: %w", ids[i], err))
			}
			if refGeom == nil {
				logger.Warn("no reference image, keeping native grid", "series", it.Series, "modality", it.Modality)
			}
			out.Images = append(out.Images, LoadedImage{ID: ids[i], Record: rec, Image: res.Image, Resampled: res.Resampled})
			out.Loaded++

		case models.KindContour:
			if refGeom == nil {
				return nil, stageErr(StageLoad, fmt.Errorf("%s: %w", ids[i], ErrNoReferenceImage))
			}
			ss, err := reader.ReadStructureSet(rec)
			if err != nil {
				skip(i, err)
				continue
			}
			out.Loaded++
			for roi, err := range ss.Errors {
				logger.Warn("roi skipped", "series", it.Series, "roi", roi, "error", err)
			}
			matches, err := l.Matcher.Match(ss.ROINames())
			if err != nil {
				return nil, stageErr(StageMatch, fmt.Errorf("%s: %w", ids[i], err))
			}
			if len(matches) == 0 {
				continue
			}
			r := &mask.Rasterizer{Geometry: *refGeom, Filler: l.Filler, Continuous: l.Continuous}
			vm, err := ss.VectorMask(r, matches)
			if err != nil {
				return nil, stageErr(StageRasterize, fmt.Errorf("%s: %w", ids[i], err))
			}
			out.Masks = append(out.Masks, LoadedMask{ID: ids[i], Record: rec, Mask: vm})

		case models.KindLabel:
			if refGeom == nil {
				return nil, stageErr(StageLoad, fmt.Errorf("%s: %w", ids[i], ErrNoReferenceImage))
			}
			seg, err := reader.ReadSegmentation(rec)
			if err != nil {
				skip(i, err)
				continue
			}
			out.Loaded++
			matches, err := l.Matcher.Match(seg.Labels())
			if err != nil {
				return nil, stageErr(StageMatch, fmt.Errorf("%s: %w", ids[i], err))
			}
			if len(matches) == 0 {
				continue
			}
			vm, err := seg.ToVectorMask(*refGeom, matches)
			if err != nil {
				return nil, stageErr(StageTransform, fmt.Errorf("%s: %w", ids[i], err))
			}
			out.Masks = append(out.Masks, LoadedMask{ID: ids[i], Record: rec, Mask: vm})

		case models.KindPlan:
			// Plans carry no voxel data; they only link dose to structures.
			out.Loaded++
		}
	}

	if out.Loaded < out.Requested {
		logger.Warn("partial load", "requested", out.Requested, "loaded", out.Loaded, "failures", out.Failures)
	}
	return out, nil
}
