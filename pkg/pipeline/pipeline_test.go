package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medimagetools/internal/logging"
	"medimagetools/internal/models"
	"medimagetools/pkg/graph"
	"medimagetools/pkg/mask"
	"medimagetools/pkg/metrics"
	"medimagetools/pkg/roimatch"
	"medimagetools/pkg/segmentation"
	"medimagetools/pkg/structureset"
)

var refGeometry = models.NewGeometry([3]int{40, 40, 30}, [3]float64{1, 1, 1}, [3]float64{})

type contours map[string][]structureset.ContourItem

func (c contours) ROINames() []string {
	var names []string
	for _, n := range []string{"GTV", "Body"} {
		if _, ok := c[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

func (c contours) ROIContours(name string) (structureset.ROIContourData, error) {
	return structureset.ROIContourData{Present: true, Contours: c[name]}, nil
}

func square(z float64) structureset.ContourItem {
	return structureset.ContourItem{
		GeometricType: structureset.ClosedPlanar,
		HasData:       true,
		Points:        []float64{10, 10, z, 19, 10, z, 19, 19, z, 10, 19, z},
	}
}

// fakeReader serves in-memory series. Missing entries fail to read.
type fakeReader struct {
	images map[string]*models.Image
	sets   map[string]structureset.ContourSource
	panics map[string]bool
}

func (f *fakeReader) ReadImage(rec models.SeriesRecord) (*models.Image, error) {
	if f.panics[rec.SeriesInstanceUID] {
		panic("decoder blew up")
	}
	img, ok := f.images[rec.SeriesInstanceUID]
	if !ok {
		return nil, fmt.Errorf("cannot read %s", rec.SeriesInstanceUID)
	}
	return img, nil
}

func (f *fakeReader) ReadStructureSet(rec models.SeriesRecord) (*structureset.StructureSet, error) {
	src, ok := f.sets[rec.SeriesInstanceUID]
	if !ok {
		return nil, fmt.Errorf("cannot read %s", rec.SeriesInstanceUID)
	}
	return structureset.Load(src, map[string]string{"SeriesInstanceUID": rec.SeriesInstanceUID}), nil
}

func (f *fakeReader) ReadSegmentation(rec models.SeriesRecord) (*segmentation.Segmentation, error) {
	return nil, errors.New("no segmentations here")
}

func record(uid string, m models.Modality, patient, ref string) models.SeriesRecord {
	return models.SeriesRecord{SeriesInstanceUID: uid, Modality: m, PatientID: patient, StudyInstanceUID: "st-" + patient, ReferencedSeriesUID: ref}
}

func fixture(t *testing.T, policy roimatch.MissingPolicy) (*Loader, []graph.Sample) {
	g := graph.Build([]models.SeriesRecord{
		record("ct1", models.CT, "P1", ""),
		record("rs1", models.RTSTRUCT, "P1", "ct1"),
		record("rs1b", models.RTSTRUCT, "P1", "ct1"),
		record("dose1", models.RTDOSE, "P1", "ct1"),
		record("ct2", models.CT, "P2", ""),
		record("rs2", models.RTSTRUCT, "P2", "ct2"),
		record("ct3", models.CT, "P3", ""),
		record("ct4", models.CT, "P4", ""),
		record("rs4", models.RTSTRUCT, "P4", "ct4"),
		record("rs5", models.RTSTRUCT, "P5", "gone"),
		record("ct6", models.CT, "P6", ""),
	})

	dose := models.NewImage(models.NewGeometry([3]int{20, 20, 15}, [3]float64{2, 2, 2}, [3]float64{}), models.RTDOSE)
	for i := range dose.Data {
		dose.Data[i] = 1.5
	}
	reader := &fakeReader{
		images: map[string]*models.Image{
			"ct1":   models.NewImage(refGeometry, models.CT),
			"ct2":   models.NewImage(refGeometry, models.CT),
			"ct4":   models.NewImage(refGeometry, models.CT),
			"dose1": dose,
		},
		sets: map[string]structureset.ContourSource{
			"rs1": contours{"GTV": {square(25)}, "Body": {{GeometricType: "POINT", HasData: true, Points: []float64{1, 1, 1}}}},
			"rs2": contours{"GTV": {{
				GeometricType: structureset.ClosedPlanar, HasData: true,
				Points: []float64{10, 10, 3, 19, 10, 3, 19, 19, 4},
			}}},
			"rs4": contours{"Body": {square(5)}},
			"rs5": contours{"GTV": {square(5)}},
		},
		panics: map[string]bool{"ct6": true},
	}

	matcher, err := roimatch.New(roimatch.MatchMap{{Key: "GTV", Patterns: []string{"gtv"}}},
		roimatch.Options{IgnoreCase: true, OnMissing: policy})
	require.NoError(t, err)

	loader := &Loader{Graph: g, Reader: reader, Matcher: matcher, Filler: mask.ScanlineFiller{}}
	samples := []graph.Sample{
		{{Series: "ct1", Modality: models.CT}, {Series: "rs1", Modality: models.RTSTRUCT}, {Series: "rs1b", Modality: models.RTSTRUCT}, {Series: "dose1", Modality: models.RTDOSE}},
		{{Series: "ct2", Modality: models.CT}, {Series: "rs2", Modality: models.RTSTRUCT}},
		{{Series: "ct3", Modality: models.CT}},
		{{Series: "ct4", Modality: models.CT}, {Series: "rs4", Modality: models.RTSTRUCT}},
		{{Series: "rs5", Modality: models.RTSTRUCT}},
		{{Series: "nope", Modality: models.CT}},
		{{Series: "ct6", Modality: models.CT}},
	}
	return loader, samples
}

func TestLoadSample(t *testing.T) {
	loader, samples := fixture(t, roimatch.Warn)

	ls, err := loader.Load("s0", samples[0])
	require.NoError(t, err)

	require.NotNil(t, ls.Reference)
	assert.Equal(t, "CT_0", ls.Reference.ID)
	assert.Equal(t, 4, ls.Requested)
	assert.Equal(t, 3, ls.Loaded)
	require.Len(t, ls.Failures, 1)
	assert.Contains(t, ls.Failures[0], "rs1b")

	require.Len(t, ls.Images, 1)
	dose := ls.Images[0]
	assert.Equal(t, "RTDOSE_0", dose.ID)
	assert.True(t, dose.Resampled)
	assert.True(t, dose.Image.Geometry.Equal(refGeometry))
	assert.Equal(t, 1.5, dose.Image.At(20, 20, 10))
	assert.Equal(t, 0.0, dose.Image.At(39, 39, 29))

	require.Len(t, ls.Masks, 1)
	lm := ls.Masks[0]
	assert.Equal(t, "RTSTRUCT_0", lm.ID)
	assert.Equal(t, []string{"GTV"}, lm.Mask.Keys())
	assert.True(t, lm.Mask.Geometry.Equal(refGeometry))
	assert.Equal(t, 100, lm.Mask.Channel(0).SliceSum(25))
	assert.Equal(t, 100, lm.Mask.Channel(0).Sum())
	assert.Equal(t, "rs1", lm.Mask.Metadata["SeriesInstanceUID"])
}

func TestLoadNumbersRepeatedModalities(t *testing.T) {
	loader, _ := fixture(t, roimatch.Warn)
	ls, err := loader.Load("multi", graph.Sample{
		{Series: "rs1", Modality: models.RTSTRUCT},
		{Series: "ct1", Modality: models.CT},
		{Series: "rs1", Modality: models.RTSTRUCT},
	})
	require.NoError(t, err)
	assert.Equal(t, "CT_0", ls.Reference.ID)
	require.Len(t, ls.Masks, 2)
	assert.Equal(t, "RTSTRUCT_0", ls.Masks[0].ID)
	assert.Equal(t, "RTSTRUCT_1", ls.Masks[1].ID)
	assert.Empty(t, ls.Failures)
}

func TestLoadWithoutReferenceKeepsNativeGrid(t *testing.T) {
	loader, _ := fixture(t, roimatch.Warn)
	ls, err := loader.Load("dose-only", graph.Sample{{Series: "dose1", Modality: models.RTDOSE}})
	require.NoError(t, err)
	assert.Nil(t, ls.Reference)
	require.Len(t, ls.Images, 1)
	assert.False(t, ls.Images[0].Resampled)
	assert.Equal(t, [3]int{20, 20, 15}, ls.Images[0].Image.Geometry.Size)
}

func TestRun(t *testing.T) {
	loader, samples := fixture(t, roimatch.Error)
	out := t.TempDir()
	m := metrics.New()
	p := NewPipeline(&Params{OutputDir: out, NumWorkers: 3, QASnapshots: true}, loader, m, nil)

	report, err := p.Run(context.Background(), samples)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, report.Succeeded, 1)
	ok := report.Succeeded[0]
	assert.Equal(t, "P1_0000", ok.SampleID)
	assert.Equal(t, 3, ok.Loaded)

	var kinds []string
	for _, f := range ok.OutputFiles {
		kinds = append(kinds, f.Kind+":"+f.ID)
		assert.FileExists(t, f.Path)
	}
	assert.Equal(t, []string{"image:CT_0", "image:RTDOSE_0", "mask:RTSTRUCT_0", "snapshot:RTSTRUCT_0"}, kinds)
	maskOut := ok.OutputFiles[2]
	assert.Equal(t, filepath.Join(out, "P1_0000", "RTSTRUCT_0", "GTV.nii"), maskOut.Path)
	assert.Equal(t, 100, maskOut.Voxels)
	require.NotNil(t, maskOut.Centroid)
	assert.InDelta(t, 14.5, maskOut.Centroid[0], 1e-9)
	assert.InDelta(t, 25, maskOut.Centroid[2], 1e-9)

	failed := map[string]SampleResult{}
	for _, r := range report.Failed {
		failed[r.SampleID] = r
	}
	require.Len(t, failed, 6)

	tests := []struct {
		id        string
		stage     Stage
		errorType string
	}{
		{"P2_0001", StageRasterize, "ContourAcrossSlicesError"},
		{"P3_0002", StageLoad, "*errors.errorString"},
		{"P4_0003", StageMatch, "ROIMatchingError"},
		{"P5_0004", StageLoad, "NoReferenceImageError"},
		{"sample_0005", StageLoad, "SeriesNotFoundError"},
		{"P6_0006", StageLoad, "panic"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r, ok := failed[tt.id]
			require.True(t, ok)
			assert.False(t, r.Success)
			assert.Equal(t, tt.stage, r.Stage)
			assert.Equal(t, tt.errorType, r.ErrorType)
			assert.NotEmpty(t, r.ErrorMessage)
		})
	}

	require.NoError(t, WriteIndex(out, report))
	f, err := os.Open(filepath.Join(out, IndexFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, indexHeader, rows[0])
	assert.Equal(t, "P1_0000/RTSTRUCT_0/GTV.nii", rows[3][7])
	assert.Equal(t, "100", rows[3][9])

	data, err := os.ReadFile(filepath.Join(out, ReportFile))
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Len(t, decoded.Failed, 6)
}

func TestRunCancelled(t *testing.T) {
	loader, samples := fixture(t, roimatch.Warn)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(&Params{OutputDir: t.TempDir(), NumWorkers: 2}, loader, nil, nil)
	report, err := p.Run(ctx, samples)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Succeeded)
	assert.Empty(t, report.Failed)
}

func TestClassify(t *testing.T) {
	ref := mask.ContourRef{ROI: "GTV", ContourIndex: 0, ZValues: []float64{1, 2}}
	stage, kind := classify(stageErr(StageRasterize, fmt.Errorf("wrap: %w", &mask.ContourAcrossSlicesError{ContourRef: ref})))
	assert.Equal(t, StageRasterize, stage)
	assert.Equal(t, "ContourAcrossSlicesError", kind)

	stage, kind = classify(errors.New("plain"))
	assert.Equal(t, StageLoad, stage)
	assert.Equal(t, "*errors.errorString", kind)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "GTV__[GTV_1]", safeName("GTV__[GTV 1]"))
	assert.Equal(t, "a_b", safeName("a/b"))
	assert.Equal(t, "_", safeName(".."))
}

func TestSaveKeepsCollidingChannelsApart(t *testing.T) {
	g := models.NewGeometry([3]int{4, 4, 2}, [3]float64{1, 1, 1}, [3]float64{})
	a, b := models.NewMask(g), models.NewMask(g)
	a.Set(0, 0, 0)
	b.Set(1, 1, 1)
	b.Set(2, 2, 1)
	ls := &LoadedSample{Masks: []LoadedMask{{
		ID:     "RTSTRUCT_0",
		Record: record("rs", models.RTSTRUCT, "P", ""),
		Mask: &mask.VectorMask{
			Geometry: g,
			Channels: []*models.Mask{a, b},
			ROIMapping: map[int]mask.ROIMapping{
				0: {Key: "GTV__[GTV 1]", Names: []string{"GTV 1"}},
				1: {Key: "GTV__[GTV/1]", Names: []string{"GTV/1"}},
			},
		},
	}}}

	dir := t.TempDir()
	p := NewPipeline(&Params{OutputDir: dir}, &Loader{}, nil, nil)
	files, err := p.save(dir, ls)
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, filepath.Join(dir, "RTSTRUCT_0", "GTV__[GTV_1].nii"), files[0].Path)
	assert.Equal(t, filepath.Join(dir, "RTSTRUCT_0", "GTV__[GTV_1]_1.nii"), files[1].Path)
	assert.Equal(t, 1, files[0].Voxels)
	assert.Equal(t, 2, files[1].Voxels)

	written, err := filepath.Glob(filepath.Join(dir, "RTSTRUCT_0", "*.nii"))
	require.NoError(t, err)
	assert.Len(t, written, 2)
}

func TestUniqueName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "GTV", uniqueName("GTV", 0, used))
	assert.Equal(t, "GTV_1", uniqueName("GTV", 1, used))
	assert.Equal(t, "gtv_2", uniqueName("gtv", 2, used))
	assert.Equal(t, "GTV_1_1", uniqueName("GTV", 1, used))
}

func TestSampleMemoryLoggedOnlyAtDebug(t *testing.T) {
	for _, tt := range []struct {
		level string
		want  bool
	}{
		{"debug", true},
		{"info", false},
	} {
		t.Run(tt.level, func(t *testing.T) {
			loader, samples := fixture(t, roimatch.Warn)
			var buf bytes.Buffer
			logger := logging.New(&buf, logging.Options{Level: tt.level})
			p := NewPipeline(&Params{OutputDir: t.TempDir()}, loader, nil, logger)

			res := p.processSample("P1_0000", samples[0])
			require.True(t, res.Success)
			assert.Equal(t, tt.want, bytes.Contains(buf.Bytes(), []byte("memory=")))
		})
	}
}
