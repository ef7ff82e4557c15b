package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Index file names inside the output directory.
const (
	IndexFile  = "index.csv"
	ReportFile = "report.json"
)

var indexHeader = []string{
	"sample_id", "series_uid", "modality", "output_id", "kind", "key", "rois",
	"path", "bytes", "voxels", "centroid_x", "centroid_y", "centroid_z", "resampled",
}

// WriteIndex writes index.csv, one row per output file of the successful
// samples, and report.json with every sample result.
func WriteIndex(dir string, r *Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	succeeded := append([]SampleResult(nil), r.Succeeded...)
	sort.Slice(succeeded, func(i, j int) bool { return succeeded[i].SampleID < succeeded[j].SampleID })

	f, err := os.Create(filepath.Join(dir, IndexFile))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(indexHeader); err != nil {
		f.Close()
		return err
	}
	for _, s := range succeeded {
		for _, of := range s.OutputFiles {
			if err := w.Write(indexRow(dir, s.SampleID, of)); err != nil {
				f.Close()
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ReportFile), data, 0644)
}

func indexRow(dir, sampleID string, of OutputFile) []string {
	path := of.Path
	if rel, err := filepath.Rel(dir, of.Path); err == nil {
		path = rel
	}
	row := []string{
		sampleID, of.SeriesUID, string(of.Modality), of.ID, of.Kind, of.Key,
		strings.Join(of.ROIs, "|"), filepath.ToSlash(path),
		strconv.FormatInt(of.Bytes, 10), strconv.Itoa(of.Voxels),
		"", "", "", strconv.FormatBool(of.Resampled),
	}
	if of.Centroid != nil {
		for i, v := range of.Centroid {
			row[10+i] = strconv.FormatFloat(v, 'f', 3, 64)
		}
	}
	return row
}
