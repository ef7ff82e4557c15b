// Package pipeline runs samples through loading, ROI matching,
// rasterization and writing on a pool of workers, and reports the outcome
// of every sample.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"medimagetools/internal/logging"
	"medimagetools/pkg/graph"
	"medimagetools/pkg/imageio"
	"medimagetools/pkg/metrics"
)

// Params holds the run parameters.
type Params struct {
	// OutputDir receives one directory per sample plus the index files.
	OutputDir string

	// NumWorkers is how many samples are processed concurrently.
	NumWorkers int

	// Compress writes .nii.gz files.
	Compress bool

	// QASnapshots writes a PNG overlay of every non-empty mask channel.
	QASnapshots bool
}

// SampleResult is the outcome of one sample.
type SampleResult struct {
	SampleID     string       `json:"sample_id"`
	Series       graph.Sample `json:"series"`
	Success      bool         `json:"success"`
	Stage        Stage        `json:"stage,omitempty"`
	ErrorType    string       `json:"error_type,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	OutputFiles  []OutputFile `json:"output_files"`
	Requested    int          `json:"requested"`
	Loaded       int          `json:"loaded"`
	Failures     []string     `json:"load_failures,omitempty"`
	Duration     float64      `json:"duration_seconds"`
}

// Report aggregates the results of a run.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Succeeded  []SampleResult `json:"succeeded"`
	Failed     []SampleResult `json:"failed"`
}

// Pipeline processes samples with a fixed number of workers. Everything it
// shares across workers is read-only.
type Pipeline struct {
	params  *Params
	loader  *Loader
	writer  imageio.Writer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPipeline creates a pipeline. m and logger may be nil.
func NewPipeline(params *Params, loader *Loader, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		params:  params,
		loader:  loader,
		writer:  imageio.Writer{Compress: params.Compress},
		metrics: m,
		logger:  logging.OrDefault(logger),
	}
}

// SampleID names sample i of a run after its patient.
func (p *Pipeline) SampleID(i int, s graph.Sample) string {
	patient := "sample"
	if len(s) > 0 {
		if n, ok := p.loader.Graph.Node(s[0].Series); ok && n.Record.PatientID != "" {
			patient = safeName(n.Record.PatientID)
		}
	}
	return fmt.Sprintf("%s_%04d", patient, i)
}

// Run processes every sample. A failing sample never stops the others.
// When ctx is cancelled no new samples start and the report holds the
// samples that ran, alongside ctx's error.
func (p *Pipeline) Run(ctx context.Context, samples []graph.Sample) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	p.logger.Info("starting run", "run_id", report.RunID, "samples", len(samples), "workers", p.params.NumWorkers)

	workers := p.params.NumWorkers
	if workers < 1 {
		workers = 1
	}
	results := make([]*SampleResult, len(samples))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range samples {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := p.processSample(p.SampleID(i, s), s)
			results[i] = &res
			n := done.Add(1)
			p.logger.Info("sample finished",
				"sample", res.SampleID, "success", res.Success,
				"progress", fmt.Sprintf("%d/%d", n, len(samples)))
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Success {
			report.Succeeded = append(report.Succeeded, *r)
		} else {
			report.Failed = append(report.Failed, *r)
		}
	}
	report.FinishedAt = time.Now().UTC()
	p.logger.Info("run finished",
		"run_id", report.RunID, "succeeded", len(report.Succeeded), "failed", len(report.Failed),
		"elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report, ctx.Err()
}

// processSample runs load, match, rasterize and save for one sample and
// converts any failure, including a panic, into a failed result.
func (p *Pipeline) processSample(id string, s graph.Sample) (res SampleResult) {
	start := time.Now()
	res = SampleResult{SampleID: id, Series: s, Requested: len(s)}
	logger := p.logger.With("sample", id)

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.ErrorType = "panic"
			res.ErrorMessage = fmt.Sprint(r)
			if res.Stage == "" {
				res.Stage = StageLoad
			}
			logger.Error("sample panicked", "panic", r)
		}
		res.Duration = time.Since(start).Seconds()
		p.metrics.ObserveSample(res.Success, string(res.Stage), time.Since(start))
	}()

	fail := func(err error) SampleResult {
		res.Stage, res.ErrorType = classify(err)
		res.ErrorMessage = err.Error()
		logger.Error("sample failed", "stage", res.Stage, "error_type", res.ErrorType, "error", err)
		return res
	}

	loaded, err := p.loader.Load(id, s)
	if err != nil {
		return fail(err)
	}
	res.Loaded, res.Failures = loaded.Loaded, loaded.Failures
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		logger.Debug("sample loaded", "series", loaded.Loaded, "masks", len(loaded.Masks),
			"memory", humanize.Bytes(uint64(size.Of(loaded))))
	}

	dir := filepath.Join(p.params.OutputDir, id)
	files, err := p.save(dir, loaded)
	res.OutputFiles = files
	if err != nil {
		return fail(stageErr(StageSave, err))
	}

	var total int64
	for _, f := range files {
		total += f.Bytes
	}
	logger.Debug("sample written", "files", len(files), "size", humanize.Bytes(uint64(total)), "dir", dir)
	res.Success = true
	return res
}

// String renders the outcome for the CLI, one line per failure.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d succeeded, %d failed", r.RunID, len(r.Succeeded), len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "\n  %s [%s] %s: %s", f.SampleID, f.Stage, f.ErrorType, f.ErrorMessage)
	}
	return b.String()
}
