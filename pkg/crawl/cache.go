package crawl

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medimagetools/internal/logging"
	"medimagetools/internal/models"
)

// Cache file names inside the cache directory.
const (
	TableFile   = "crawl.csv"
	SummaryFile = "crawl.json"
)

var csvHeader = []string{
	"SeriesInstanceUID", "Modality", "PatientID", "StudyInstanceUID",
	"ReferencedSeriesUID", "FrameOfReferenceUID", "SeriesDescription",
	"folder", "files",
}

// fileSep joins instance file names in one CSV cell.
const fileSep = "|"

// Summary is the crawl.json companion of crawl.csv.
type Summary struct {
	Root       string         `json:"root"`
	CrawledAt  time.Time      `json:"crawled_at"`
	Series     int            `json:"series"`
	ByModality map[string]int `json:"by_modality"`
}

// WriteCSV writes the table in the cache format.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range t.Records() {
		row := []string{
			r.SeriesInstanceUID, string(r.Modality), r.PatientID, r.StudyInstanceUID,
			r.ReferencedSeriesUID, r.FrameOfReferenceUID, r.SeriesDescription,
			r.Folder, strings.Join(r.Files, fileSep),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a table written by WriteCSV.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read crawl header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(csvHeader, ",") {
		return nil, fmt.Errorf("unexpected crawl header %v", header)
	}

	t := NewTable(nil)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("crawl line %d: %w", line, err)
		}
		mod, err := models.ParseModality(row[1])
		if err != nil {
			return nil, fmt.Errorf("crawl line %d: %w", line, err)
		}
		var files []string
		if row[8] != "" {
			files = strings.Split(row[8], fileSep)
		}
		t.Add(models.SeriesRecord{
			SeriesInstanceUID:   row[0],
			Modality:            mod,
			PatientID:           row[2],
			StudyInstanceUID:    row[3],
			ReferencedSeriesUID: row[4],
			FrameOfReferenceUID: row[5],
			SeriesDescription:   row[6],
			Folder:              row[7],
			Files:               files,
		})
	}
	return t, nil
}

// Index loads a crawl from cacheDir or builds and saves it.
type Index struct {
	CacheDir     string
	ForceRecrawl bool
	Crawler      *Crawler
	Logger       *slog.Logger
}

// Load returns the cached table for root, crawling when the cache is
// missing, unreadable or ForceRecrawl is set.
func (ix *Index) Load(ctx context.Context, root string) (*Table, error) {
	logger := logging.OrDefault(ix.Logger)
	tablePath := filepath.Join(ix.CacheDir, TableFile)

	if !ix.ForceRecrawl {
		t, err := readTableFile(tablePath)
		switch {
		case err == nil:
			logger.Info("using cached crawl", "path", tablePath, "series", t.Len())
			return t, nil
		case !errors.Is(err, os.ErrNotExist):
			logger.Warn("ignoring unreadable crawl cache", "path", tablePath, "error", err)
		}
	}

	t, err := ix.Crawler.Crawl(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := ix.save(root, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (ix *Index) save(root string, t *Table) error {
	if err := os.MkdirAll(ix.CacheDir, 0755); err != nil {
		return fmt.Errorf("create crawl cache: %w", err)
	}
	f, err := os.Create(filepath.Join(ix.CacheDir, TableFile))
	if err != nil {
		return err
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("write crawl table: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	sum := Summary{Root: root, CrawledAt: time.Now().UTC(), Series: t.Len(), ByModality: map[string]int{}}
	for m, n := range t.CountByModality() {
		sum.ByModality[string(m)] = n
	}
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ix.CacheDir, SummaryFile), data, 0644)
}

func readTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
