package graph

import (
	"errors"
	"fmt"
	"strings"

	"medimagetools/internal/models"
)

// ErrEmptyQuery is returned when a query names no modality.
var ErrEmptyQuery = errors.New("query names no modality")

// GroupBy selects how series are grouped into candidate samples.
type GroupBy int

const (
	// GroupByReference groups series along reference edges (default).
	GroupByReference GroupBy = iota
	// GroupByStudy groups series sharing a StudyInstanceUID.
	GroupByStudy
	// GroupByPatient groups series sharing a PatientID.
	GroupByPatient
)

// ParseGroupBy converts "reference", "study" or "patient".
func ParseGroupBy(s string) (GroupBy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reference", "references":
		return GroupByReference, nil
	case "study", "studyinstanceuid":
		return GroupByStudy, nil
	case "patient", "patientid":
		return GroupByPatient, nil
	}
	return GroupByReference, fmt.Errorf("unknown grouping %q", s)
}

func (g GroupBy) String() string {
	switch g {
	case GroupByStudy:
		return "study"
	case GroupByPatient:
		return "patient"
	}
	return "reference"
}

// SampleItem identifies one series of a sample.
type SampleItem struct {
	Series   string          `json:"Series"`
	Modality models.Modality `json:"Modality"`
}

// Sample is a group of series processed as one unit.
type Sample []SampleItem

// Modalities returns the set of modalities present in the sample.
func (s Sample) Modalities() map[models.Modality]bool {
	out := make(map[models.Modality]bool, len(s))
	for _, it := range s {
		out[it.Modality] = true
	}
	return out
}

// Count returns how many series of modality m the sample holds.
func (s Sample) Count(m models.Modality) int {
	n := 0
	for _, it := range s {
		if it.Modality == m {
			n++
		}
	}
	return n
}

// ID returns a stable identifier for the sample: the UID of its first series.
func (s Sample) ID() string {
	if len(s) == 0 {
		return ""
	}
	return s[0].Series
}

// Enumerator turns the forest into query results.
type Enumerator struct {
	Graph *Graph

	// Mode selects the grouping strategy.
	Mode GroupBy

	// Branches makes reference grouping yield one candidate per root-to-leaf
	// branch instead of one per root tree.
	Branches bool

	// Subseries keeps every reference-image series of a grouping. By default
	// only the first series of each image modality (CT, MR, PT) is kept.
	Subseries bool
}

// Groupings returns the candidate groupings before modality filtering.
func (e *Enumerator) Groupings() [][]*Node {
	switch e.Mode {
	case GroupByStudy:
		return e.groupByAttr(func(r models.SeriesRecord) string { return r.StudyInstanceUID })
	case GroupByPatient:
		return e.groupByAttr(func(r models.SeriesRecord) string { return r.PatientID })
	}

	roots := e.Graph.Roots()
	if e.Branches {
		branches := e.Graph.FindBranches(roots)
		out := make([][]*Node, len(branches))
		for i, b := range branches {
			out[i] = b
		}
		return out
	}
	out := make([][]*Node, 0, len(roots))
	for _, r := range roots {
		out = append(out, e.Graph.Tree(r))
	}
	return out
}

func (e *Enumerator) groupByAttr(key func(models.SeriesRecord) string) [][]*Node {
	var order []string
	groups := make(map[string][]*Node)
	for _, n := range e.Graph.Nodes() {
		k := key(n.Record)
		if k == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], n)
	}
	out := make([][]*Node, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

// Query returns every grouping whose modalities are a superset of the
// comma-separated modality list. Within a grouping only series of the
// requested modalities are returned; repeated modalities are all kept.
func (e *Enumerator) Query(modalityCSV string) ([]Sample, error) {
	wanted, err := models.ParseModalityList(modalityCSV)
	if err != nil {
		return nil, err
	}
	if len(wanted) == 0 {
		return nil, ErrEmptyQuery
	}
	want := make(map[models.Modality]bool, len(wanted))
	for _, m := range wanted {
		want[m] = true
	}

	var out []Sample
	for _, group := range e.Groupings() {
		sample := e.filter(group, want)
		present := sample.Modalities()
		complete := true
		for _, m := range wanted {
			if !present[m] {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, sample)
		}
	}
	return out, nil
}

func (e *Enumerator) filter(group []*Node, want map[models.Modality]bool) Sample {
	var sample Sample
	seenImage := make(map[models.Modality]bool)
	for _, n := range group {
		m := n.Modality()
		if !want[m] {
			continue
		}
		if m.IsReferenceImage() && !e.Subseries {
			if seenImage[m] {
				continue
			}
			seenImage[m] = true
		}
		sample = append(sample, SampleItem{Series: n.UID(), Modality: m})
	}
	return sample
}
