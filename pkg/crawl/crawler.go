package crawl

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/suyashkumar/dicom"
	"golang.org/x/sync/errgroup"

	"medimagetools/internal/dicomutil"
	"medimagetools/internal/logging"
	"medimagetools/internal/models"
	"medimagetools/pkg/metrics"
	"medimagetools/pkg/segmentation"
	"medimagetools/pkg/structureset"
)

// ParseFunc reads the header elements of one file.
type ParseFunc func(path string) ([]*dicom.Element, error)

// Crawler walks a directory tree and groups DICOM instances into series.
type Crawler struct {
	NumWorkers int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	// Parse reads file headers; pixel data is never needed. Defaults to
	// dicomutil.ParseFile without pixels.
	Parse ParseFunc

	// Skip lists directories (absolute or relative to the root) left out
	// of the walk, such as the crawl cache itself.
	Skip []string
}

// instance is the header data of one file that the crawl needs.
type instance struct {
	path        string
	seriesUID   string
	sopUID      string
	modality    string
	patientID   string
	studyUID    string
	frameOfRef  string
	description string

	// refSeries is a direct series reference (RTSTRUCT, SEG, PT).
	refSeries string
	// refSOP is an instance reference resolved through the SOP index
	// (RTDOSE to RTPLAN, RTPLAN to RTSTRUCT).
	refSOP string
}

// Crawl indexes every readable DICOM file under root. Unreadable files and
// unknown modalities are skipped and logged at debug level.
func (c *Crawler) Crawl(ctx context.Context, root string) (*Table, error) {
	logger := logging.OrDefault(c.Logger)
	parse := c.Parse
	if parse == nil {
		parse = func(path string) ([]*dicom.Element, error) {
			ds, err := dicomutil.ParseFile(path, false)
			return ds.Elements, err
		}
	}

	paths, err := c.walk(root)
	if err != nil {
		return nil, err
	}
	logger.Info("crawling", "root", root, "files", len(paths))

	workers := c.NumWorkers
	if workers < 1 {
		workers = 1
	}
	found := make([]*instance, len(paths))
	var mu sync.Mutex
	skipped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			elems, err := parse(p)
			if err != nil {
				logger.Debug("skipping unreadable file", "path", p, "error", err)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			found[i] = readInstance(p, elems)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var instances []*instance
	for _, in := range found {
		if in != nil {
			instances = append(instances, in)
		}
	}
	table := assemble(instances, logger)
	for _, r := range table.Records() {
		c.Metrics.IncrementSeries(string(r.Modality))
	}
	logger.Info("crawl finished", "series", table.Len(), "instances", len(instances), "skipped", skipped)
	return table, nil
}

// walk lists regular files under root in lexical order.
func (c *Crawler) walk(root string) ([]string, error) {
	skip := make(map[string]bool, len(c.Skip))
	for _, s := range c.Skip {
		if !filepath.IsAbs(s) {
			s = filepath.Join(root, s)
		}
		if abs, err := filepath.Abs(s); err == nil {
			s = abs
		}
		skip[filepath.Clean(s)] = true
	}
	excluded := func(path string) bool {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return skip[filepath.Clean(path)]
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), ".") || excluded(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func readInstance(path string, elems []*dicom.Element) *instance {
	in := &instance{
		path:        path,
		seriesUID:   dicomutil.String(elems, dicomutil.SeriesInstanceUID),
		sopUID:      dicomutil.String(elems, dicomutil.SOPInstanceUID),
		modality:    strings.ToUpper(dicomutil.String(elems, dicomutil.Modality)),
		patientID:   dicomutil.String(elems, dicomutil.PatientID),
		studyUID:    dicomutil.String(elems, dicomutil.StudyInstanceUID),
		frameOfRef:  dicomutil.String(elems, dicomutil.FrameOfReferenceUID),
		description: dicomutil.String(elems, dicomutil.SeriesDescription),
	}
	switch models.Modality(in.modality) {
	case models.RTSTRUCT:
		in.refSeries = structureset.ReferencedSeriesUID(elems)
		if fr := dicomutil.Nested(elems, dicomutil.ReferencedFrameOfRefSeq); fr != nil && in.frameOfRef == "" {
			in.frameOfRef = dicomutil.String(fr, dicomutil.FrameOfReferenceUID)
		}
	case models.SEG:
		in.refSeries = segmentation.ReferencedSeriesUID(elems)
	case models.PT:
		in.refSeries = dicomutil.String(dicomutil.Nested(elems, dicomutil.ReferencedSeriesSequence), dicomutil.SeriesInstanceUID)
	case models.RTDOSE:
		in.refSOP = dicomutil.String(dicomutil.Nested(elems, dicomutil.ReferencedRTPlanSequence), dicomutil.ReferencedSOPInstanceUID)
		if in.refSOP == "" {
			in.refSOP = dicomutil.String(dicomutil.Nested(elems, dicomutil.ReferencedStructureSetSeq), dicomutil.ReferencedSOPInstanceUID)
		}
	case models.RTPLAN:
		in.refSOP = dicomutil.String(dicomutil.Nested(elems, dicomutil.ReferencedStructureSetSeq), dicomutil.ReferencedSOPInstanceUID)
	}
	return in
}

// assemble groups instances into series records and resolves references.
// Instances must be in a stable order; series appear in order of their
// first instance.
func assemble(instances []*instance, logger *slog.Logger) *Table {
	sopToSeries := make(map[string]string, len(instances))
	type series struct {
		first *instance
		files []string
	}
	bySeries := make(map[string]*series)
	var order []string

	for _, in := range instances {
		if in.seriesUID == "" {
			continue
		}
		if _, err := models.ParseModality(in.modality); err != nil {
			logger.Debug("skipping unsupported modality", "path", in.path, "modality", in.modality)
			continue
		}
		if in.sopUID != "" {
			sopToSeries[in.sopUID] = in.seriesUID
		}
		s, ok := bySeries[in.seriesUID]
		if !ok {
			s = &series{first: in}
			bySeries[in.seriesUID] = s
			order = append(order, in.seriesUID)
		}
		s.files = append(s.files, in.path)
	}

	table := &Table{index: make(map[string]int, len(order))}
	for _, uid := range order {
		s := bySeries[uid]
		in := s.first
		folder := filepath.Dir(in.path)
		files := make([]string, len(s.files))
		for i, f := range s.files {
			rel, err := filepath.Rel(folder, f)
			if err != nil {
				rel = f
			}
			files[i] = rel
		}

		ref := in.refSeries
		if in.refSOP != "" {
			ref = sopToSeries[in.refSOP]
			if ref == "" {
				logger.Debug("referenced instance not crawled", "series", uid, "sop", in.refSOP)
			}
		}
		if ref == uid {
			ref = ""
		}
		table.Add(models.SeriesRecord{
			SeriesInstanceUID:   uid,
			Modality:            models.Modality(in.modality),
			PatientID:           in.patientID,
			StudyInstanceUID:    in.studyUID,
			ReferencedSeriesUID: ref,
			Folder:              folder,
			Files:               files,
			SeriesDescription:   in.description,
			FrameOfReferenceUID: in.frameOfRef,
		})
	}
	return table
}
