// Package crawl indexes a directory of DICOM files into series records and
// caches the result next to the output.
package crawl

import "medimagetools/internal/models"

// Table is an ordered set of series records keyed by SeriesInstanceUID.
// The first record seen for a UID wins.
type Table struct {
	records []models.SeriesRecord
	index   map[string]int
}

// NewTable builds a table from records, dropping duplicates and records
// without a UID.
func NewTable(records []models.SeriesRecord) *Table {
	t := &Table{index: make(map[string]int, len(records))}
	for _, r := range records {
		t.Add(r)
	}
	return t
}

// Add appends r unless its UID is empty or already present.
func (t *Table) Add(r models.SeriesRecord) bool {
	if r.SeriesInstanceUID == "" {
		return false
	}
	if _, dup := t.index[r.SeriesInstanceUID]; dup {
		return false
	}
	t.index[r.SeriesInstanceUID] = len(t.records)
	t.records = append(t.records, r)
	return true
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }

// Records returns the records in insertion order. The slice is shared.
func (t *Table) Records() []models.SeriesRecord { return t.records }

// Get looks up a record by series UID.
func (t *Table) Get(uid string) (models.SeriesRecord, bool) {
	i, ok := t.index[uid]
	if !ok {
		return models.SeriesRecord{}, false
	}
	return t.records[i], true
}

// CountByModality returns the number of series per modality.
func (t *Table) CountByModality() map[models.Modality]int {
	out := make(map[models.Modality]int)
	for _, r := range t.records {
		out[r.Modality]++
	}
	return out
}
