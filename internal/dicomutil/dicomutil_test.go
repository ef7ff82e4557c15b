package dicomutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func mustElement(t *testing.T, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	e, err := dicom.NewElement(tg, data)
	require.NoError(t, err)
	return e
}

func TestLookups(t *testing.T) {
	elems := []*dicom.Element{
		mustElement(t, Modality, []string{"RTSTRUCT "}),
		mustElement(t, PixelSpacing, []string{"0.5", "0.75"}),
		mustElement(t, Rows, []int{512}),
		mustElement(t, ContourData, []string{`1.5\2\3`}),
	}

	assert.Equal(t, "RTSTRUCT", String(elems, Modality))
	assert.Equal(t, "", String(elems, PatientID))
	assert.False(t, Has(elems, PatientID))

	spacing, err := Floats(elems, PixelSpacing)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.75}, spacing)

	rows, ok := Int(elems, Rows)
	require.True(t, ok)
	assert.Equal(t, 512, rows)

	pts, err := Floats(elems, ContourData)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2, 3}, pts)

	missing, err := Floats(elems, SliceThickness)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestItemsAndNested(t *testing.T) {
	inner := []*dicom.Element{mustElement(t, SeriesInstanceUID, []string{"1.2.3"})}
	series := mustElement(t, RTReferencedSeriesSeq, [][]*dicom.Element{inner})
	study := mustElement(t, RTReferencedStudySequence, [][]*dicom.Element{{series}})
	frame := mustElement(t, ReferencedFrameOfRefSeq, [][]*dicom.Element{{study}})
	elems := []*dicom.Element{frame}

	items, ok := Items(elems, ReferencedFrameOfRefSeq)
	require.True(t, ok)
	assert.Len(t, items, 1)

	leaf := Nested(elems, ReferencedFrameOfRefSeq, RTReferencedStudySequence, RTReferencedSeriesSeq)
	assert.Equal(t, "1.2.3", String(leaf, SeriesInstanceUID))

	_, ok = Items(elems, ContourSequence)
	assert.False(t, ok)
	assert.Nil(t, Nested(elems, ContourSequence))
}
