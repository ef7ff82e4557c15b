package structureset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"medimagetools/internal/dicomutil"
)

func element(t *testing.T, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	e, err := dicom.NewElement(tg, data)
	require.NoError(t, err)
	return e
}

func rtstructElements(t *testing.T) []*dicom.Element {
	roi := func(number, name string) []*dicom.Element {
		return []*dicom.Element{
			element(t, dicomutil.ROINumber, []string{number}),
			element(t, dicomutil.ROIName, []string{name}),
		}
	}
	contour := func(points string) []*dicom.Element {
		return []*dicom.Element{
			element(t, dicomutil.ContourGeometricType, []string{"CLOSED_PLANAR"}),
			element(t, dicomutil.ContourData, []string{points}),
		}
	}

	gtv := []*dicom.Element{
		element(t, dicomutil.ReferencedROINumber, []string{"1"}),
		element(t, dicomutil.ContourSequence, [][]*dicom.Element{
			contour(`10\10\25\19\10\25\19\19\25\10\19\25`),
		}),
	}
	empty := []*dicom.Element{
		element(t, dicomutil.ReferencedROINumber, []string{"2"}),
	}

	series := []*dicom.Element{element(t, dicomutil.SeriesInstanceUID, []string{"1.2.840.ct"})}
	study := []*dicom.Element{element(t, dicomutil.RTReferencedSeriesSeq, [][]*dicom.Element{series})}
	frame := []*dicom.Element{element(t, dicomutil.RTReferencedStudySequence, [][]*dicom.Element{study})}

	return []*dicom.Element{
		element(t, dicomutil.Modality, []string{"RTSTRUCT"}),
		element(t, dicomutil.ReferencedFrameOfRefSeq, [][]*dicom.Element{frame}),
		element(t, dicomutil.StructureSetROISequence, [][]*dicom.Element{
			roi("1", "GTV"), roi("2", "Body"), roi("3", "Orphan"), roi("4", "GTV"),
		}),
		element(t, dicomutil.ROIContourSequence, [][]*dicom.Element{gtv, empty}),
	}
}

func TestDICOMSource(t *testing.T) {
	elems := rtstructElements(t)
	src, err := NewDICOMSource(elems)
	require.NoError(t, err)

	assert.Equal(t, []string{"GTV", "Body", "Orphan"}, src.ROINames())

	s := Load(src, nil)
	assert.Equal(t, []string{"GTV"}, s.ROINames())
	require.Len(t, s.ROIs["GTV"], 1)
	assert.Equal(t, [3]float64{19, 19, 25}, s.ROIs["GTV"][0].Points[2])
	assert.True(t, errors.Is(s.Errors["Body"], ErrContourSequenceMissing))
	assert.True(t, errors.Is(s.Errors["Orphan"], ErrContourSequenceMissing))

	assert.Equal(t, "1.2.840.ct", ReferencedSeriesUID(elems))
}

func TestDICOMSourceIsolatesUnreadableContourData(t *testing.T) {
	contour := []*dicom.Element{
		element(t, dicomutil.ContourGeometricType, []string{"CLOSED_PLANAR"}),
		element(t, dicomutil.ContourData, []string{`1\2\abc`}),
	}
	bad := []*dicom.Element{
		element(t, dicomutil.ReferencedROINumber, []string{"3"}),
		element(t, dicomutil.ContourSequence, [][]*dicom.Element{contour}),
	}
	elems := rtstructElements(t)
	for i, e := range elems {
		if e.Tag == dicomutil.ROIContourSequence {
			items, _ := dicomutil.Items(elems, dicomutil.ROIContourSequence)
			elems[i] = element(t, dicomutil.ROIContourSequence, append(items, bad))
		}
	}

	src, err := NewDICOMSource(elems)
	require.NoError(t, err)

	s := Load(src, nil)
	assert.Equal(t, []string{"GTV"}, s.ROINames())
	assert.True(t, errors.Is(s.Errors["Orphan"], ErrMalformedContourData), "%v", s.Errors["Orphan"])

	var ext *ExtractionError
	require.True(t, errors.As(s.Errors["Orphan"], &ext))
	assert.Equal(t, 0, ext.ContourIndex)
	assert.Contains(t, ext.Detail, "abc")
}

func TestDICOMSourceRequiresROISequence(t *testing.T) {
	_, err := NewDICOMSource([]*dicom.Element{element(t, dicomutil.Modality, []string{"RTSTRUCT"})})
	assert.Error(t, err)
}
