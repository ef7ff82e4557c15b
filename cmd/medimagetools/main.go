package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"medimagetools/internal/logging"
	"medimagetools/pkg/config"
	"medimagetools/pkg/crawl"
	"medimagetools/pkg/graph"
	"medimagetools/pkg/mask"
	"medimagetools/pkg/metrics"
	"medimagetools/pkg/pipeline"
	"medimagetools/pkg/roimatch"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "medimagetools.yaml", "YAML configuration file")
	createConfig := flag.Bool("create-config", false, "Write a default configuration file to -config and exit")
	inputDir := flag.String("input", "", "Directory containing DICOM files")
	outputDir := flag.String("output", "", "Output directory (overrides output.directory)")
	modalities := flag.String("modalities", "", "Comma separated modality query, e.g. CT,RTSTRUCT")
	groupBy := flag.String("group-by", "", "Sample grouping: reference, study or patient")
	workers := flag.Int("workers", 0, "Number of samples processed concurrently (default: from config)")
	forceRecrawl := flag.Bool("force-recrawl", false, "Ignore the cached crawl index")
	dryRun := flag.Bool("dry-run", false, "Print the samples as JSON without processing them")
	snapshots := flag.Bool("qa-snapshots", false, "Write a PNG overlay for every mask channel")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	flag.Parse()

	if *createConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Directory = *outputDir
	}
	if *modalities != "" {
		cfg.Processing.Modalities = *modalities
	}
	if *groupBy != "" {
		cfg.Processing.GroupBy = *groupBy
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	cfg.Crawl.ForceRecrawl = cfg.Crawl.ForceRecrawl || *forceRecrawl
	cfg.Output.QASnapshots = cfg.Output.QASnapshots || *snapshots
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger, closer := logging.Init(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		JSON:       cfg.Logging.JSON,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *inputDir, *dryRun); err != nil {
		logger.Error("run failed", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, inputDir string, dryRun bool) error {
	m := metrics.New()
	logger := logging.OrDefault(nil)

	var skip []string
	for _, dir := range []string{cfg.Output.Directory, cfg.CacheDir()} {
		if abs, err := filepath.Abs(dir); err == nil {
			skip = append(skip, abs)
		}
	}

	// Crawl, or reuse the cached index
	index := &crawl.Index{
		CacheDir:     cfg.CacheDir(),
		ForceRecrawl: cfg.Crawl.ForceRecrawl,
		Logger:       logger,
		Crawler: &crawl.Crawler{
			NumWorkers: cfg.Crawl.NumWorkers,
			Logger:     logger,
			Metrics:    m,
			Skip:       skip,
		},
	}
	table, err := index.Load(ctx, inputDir)
	if err != nil {
		return fmt.Errorf("crawl %s: %w", inputDir, err)
	}

	g := graph.Build(table.Records())
	if g.DanglingEdges > 0 {
		logger.Warn("series reference unknown series", "count", g.DanglingEdges)
		m.AddDanglingEdges(g.DanglingEdges)
	}

	mode, err := graph.ParseGroupBy(cfg.Processing.GroupBy)
	if err != nil {
		return err
	}
	enum := &graph.Enumerator{
		Graph:     g,
		Mode:      mode,
		Branches:  cfg.Processing.Branches,
		Subseries: cfg.Processing.Subseries,
	}
	samples, err := enum.Query(cfg.Processing.Modalities)
	if err != nil {
		return fmt.Errorf("query %q: %w", cfg.Processing.Modalities, err)
	}
	logger.Info("query finished", "modalities", cfg.Processing.Modalities, "group_by", mode, "samples", len(samples))

	if dryRun {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(samples)
	}
	if len(samples) == 0 {
		return errors.New("no sample matches the modality query")
	}

	opts, err := cfg.MatcherOptions()
	if err != nil {
		return err
	}
	opts.Logger = logger
	matcher, err := roimatch.New(cfg.ROIMatching.MatchMap, opts)
	if err != nil {
		return err
	}

	var filler mask.Filler = mask.ScanlineFiller{}
	if cfg.Processing.Filler == "coverage" {
		filler = mask.CoverageFiller{Threshold: cfg.Processing.CoverageThreshold}
	}

	loader := &pipeline.Loader{
		Graph:      g,
		Reader:     pipeline.DICOMReader{},
		Matcher:    matcher,
		Filler:     filler,
		Continuous: cfg.Processing.ContinuousIndex,
		Logger:     logger,
	}
	params := &pipeline.Params{
		OutputDir:   cfg.Output.Directory,
		NumWorkers:  cfg.Processing.NumWorkers,
		Compress:    cfg.Output.Compress,
		QASnapshots: cfg.Output.QASnapshots,
	}

	fmt.Printf("Processing %d samples with %d workers...\n", len(samples), params.NumWorkers)
	startTime := time.Now()
	report, runErr := pipeline.NewPipeline(params, loader, m, logger).Run(ctx, samples)
	if err := pipeline.WriteIndex(params.OutputDir, report); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if cfg.Output.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			logger.Warn("could not write metrics", "path", cfg.Output.MetricsFile, "error", err)
		}
	}

	fmt.Println(report)
	fmt.Printf("Finished in %.2f seconds, index written to %s\n",
		time.Since(startTime).Seconds(), filepath.Join(params.OutputDir, pipeline.IndexFile))
	return runErr
}
