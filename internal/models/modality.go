package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModality is returned when a modality string is outside the
// supported taxonomy.
var ErrUnknownModality = errors.New("unknown modality")

// Modality is the DICOM modality of a series. Only the values declared below
// are valid; use ParseModality to convert untrusted strings.
type Modality string

const (
	CT       Modality = "CT"
	MR       Modality = "MR"
	PT       Modality = "PT"
	SEG      Modality = "SEG"
	RTSTRUCT Modality = "RTSTRUCT"
	RTPLAN   Modality = "RTPLAN"
	RTDOSE   Modality = "RTDOSE"
)

// Kind groups modalities by the kind of payload they carry.
type Kind int

const (
	// KindImage is a voxel image that other series can be aligned to.
	KindImage Kind = iota
	// KindContour carries planar contours (RTSTRUCT).
	KindContour
	// KindLabel carries rasterized label volumes (SEG).
	KindLabel
	// KindDose carries a dose grid (RTDOSE).
	KindDose
	// KindPlan carries treatment plan metadata only (RTPLAN).
	KindPlan
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindContour:
		return "contour"
	case KindLabel:
		return "label"
	case KindDose:
		return "dose"
	case KindPlan:
		return "plan"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type modalityTrait struct {
	kind Kind
	// alwaysRoot marks modalities that start a reference tree unconditionally.
	alwaysRoot bool
	// rootWithoutReference marks modalities that start a tree only when they
	// reference no other series.
	rootWithoutReference bool
}

// modalityTraits is the single dispatch table for modality behaviour.
// Every declared Modality must have an entry.
var modalityTraits = map[Modality]modalityTrait{
	CT:       {kind: KindImage, alwaysRoot: true},
	MR:       {kind: KindImage, alwaysRoot: true},
	PT:       {kind: KindImage, rootWithoutReference: true},
	SEG:      {kind: KindLabel},
	RTSTRUCT: {kind: KindContour},
	RTPLAN:   {kind: KindPlan},
	RTDOSE:   {kind: KindDose},
}

// AllModalities lists the supported modalities in a stable order.
func AllModalities() []Modality {
	return []Modality{CT, MR, PT, SEG, RTSTRUCT, RTPLAN, RTDOSE}
}

// ParseModality converts s (case-insensitive, surrounding space ignored)
// into a Modality.
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := modalityTraits[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModality, s)
	}
	return m, nil
}

// ParseModalityList parses a comma-separated modality list, dropping
// duplicates while keeping first-seen order.
func ParseModalityList(csv string) ([]Modality, error) {
	var out []Modality
	seen := make(map[Modality]bool)
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		m, err := ParseModality(part)
		if err != nil {
			return nil, err
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// Valid reports whether m is part of the supported taxonomy.
func (m Modality) Valid() bool {
	_, ok := modalityTraits[m]
	return ok
}

// Kind returns the payload kind of m. Unknown modalities report KindPlan,
// which carries no voxel data.
func (m Modality) Kind() Kind {
	t, ok := modalityTraits[m]
	if !ok {
		return KindPlan
	}
	return t.kind
}

// IsReferenceImage reports whether series of this modality can act as the
// geometry reference of a sample (CT, MR, PT).
func (m Modality) IsReferenceImage() bool {
	return m.Kind() == KindImage
}

// IsRoot reports whether a series of modality m starts a reference tree,
// given whether it references another series.
func (m Modality) IsRoot(hasReference bool) bool {
	t, ok := modalityTraits[m]
	if !ok {
		return false
	}
	return t.alwaysRoot || (t.rootWithoutReference && !hasReference)
}

func (m Modality) String() string {
	return string(m)
}
