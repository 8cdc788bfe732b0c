package etl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"quizbank/internal/logger"

	"github.com/google/uuid"
)

type Config struct {
	InboxDir   string
	TreatedDir string
	LogDir     string

	FuzzyThreshold   float64
	SimilarityMetric string
	HeaderAliases    map[string]string
}

// DirsFromDataDir lays out in/, treated/ and log/ under one data directory.
func DirsFromDataDir(dataDir string, cfg Config) Config {
	cfg.InboxDir = filepath.Join(dataDir, "in")
	cfg.TreatedDir = filepath.Join(dataDir, "treated")
	cfg.LogDir = filepath.Join(dataDir, "log")
	return cfg
}

type Pipeline struct {
	cfg      Config
	store    Store
	reporter *Reporter
	scorer   Scorer
	extra    EventSink
	log      *logger.Logger
	now      func() time.Time

	// runMu keeps stage-then-run atomic within the process so one import
	// never ingests a file staged by another.
	runMu sync.Mutex
}

type RunInput struct {
	// SourceName is the inbox file the caller is interested in; its report
	// path is returned and it receives the run summary. Empty means the run
	// covers whatever the inbox holds.
	SourceName string
	Author     string
}

func NewPipeline(cfg Config, store Store, log *logger.Logger, extra EventSink) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("etl: store is required")
	}
	if cfg.InboxDir == "" || cfg.TreatedDir == "" || cfg.LogDir == "" {
		return nil, errors.New("etl: inbox, treated and log directories are required")
	}
	if log == nil {
		log = logger.Nop()
	}
	scorer, err := NewScorer(cfg.SimilarityMetric)
	if err != nil {
		return nil, err
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		reporter: NewReporter(cfg.LogDir, log),
		scorer:   scorer,
		extra:    extra,
		log:      log,
		now:      time.Now,
	}, nil
}

func (p *Pipeline) Reporter() *Reporter {
	return p.reporter
}

func (p *Pipeline) InboxDir() string {
	return p.cfg.InboxDir
}

func (p *Pipeline) ensureDirs() error {
	for _, d := range []string{p.cfg.InboxDir, p.cfg.TreatedDir, p.cfg.LogDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// Run processes every file currently in the inbox through ingest, category
// normalization, expansion and export. It fails with ErrEmptyInput when no
// row survives ingestion.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.run(ctx, in)
}

func (p *Pipeline) run(ctx context.Context, in RunInput) (*RunResult, error) {
	if err := p.ensureDirs(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := p.log.With("run_id", runID)
	sink := MultiSink(p.reporter, p.extra)

	started := p.now()
	rows, err := NewIngestor(p.cfg.InboxDir, p.cfg.TreatedDir, p.cfg.HeaderAliases, sink, log).Ingest(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if len(rows) == 0 {
		log.Warn("import produced no rows", "source", in.SourceName)
		return nil, ErrEmptyInput
	}

	cc, err := SeedCategoryContext(ctx, p.store)
	if err != nil {
		return nil, err
	}
	NewNormalizer(p.scorer, p.cfg.FuzzyThreshold, sink).Normalize(rows, cc)

	records := ExpandAll(rows, sink)

	stats, err := NewExporter(p.store, sink).Export(ctx, records, strings.TrimSpace(in.Author))
	if err != nil {
		log.Error("export aborted", "accepted", stats.Accepted, "rejected", stats.Rejected, "error", err)
		return nil, fmt.Errorf("export: %w", err)
	}

	res := &RunResult{
		RunID:    runID,
		Accepted: stats.Accepted,
		Rejected: stats.Rejected,
		Total:    stats.Accepted + stats.Rejected,
	}
	res.Message = fmt.Sprintf("Questions accepted: %d | rejected: %d | total: %d", res.Accepted, res.Rejected, res.Total)

	summaryTargets := stats.Sources
	if in.SourceName != "" {
		summaryTargets = []string{in.SourceName}
		res.ReportPath = p.reporter.ReportPath(in.SourceName)
	}
	for _, src := range summaryTargets {
		sink.Emit(Event{SourceFile: src, Kind: KindSummary, Message: res.Message})
	}

	log.Info("import finished",
		"source", in.SourceName,
		"rows", len(rows),
		"answers", len(records),
		"accepted", res.Accepted,
		"rejected", res.Rejected,
		"elapsed_ms", p.now().Sub(started).Milliseconds(),
	)
	return res, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// StageUpload writes uploaded bytes into the inbox under a timestamped name
// and returns that name.
func (p *Pipeline) StageUpload(filename string, data []byte) (string, error) {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "questions.csv"
	}
	ext := strings.ToLower(filepath.Ext(base))
	if !isSupportedExt(base) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedExt, ext)
	}
	stem := unsafeNameChars.ReplaceAllString(strings.TrimSuffix(base, filepath.Ext(base)), "_")
	if stem == "" {
		stem = "questions"
	}

	if err := p.ensureDirs(); err != nil {
		return "", err
	}
	ts := p.now().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s%s", stem, ts, ext)
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(p.cfg.InboxDir, name)); err != nil {
			break
		}
		name = fmt.Sprintf("%s_%s_%d%s", stem, ts, i, ext)
	}

	if err := os.WriteFile(filepath.Join(p.cfg.InboxDir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return name, nil
}

// ImportUpload stages an upload and runs the pipeline for it.
func (p *Pipeline) ImportUpload(ctx context.Context, filename string, data []byte, author string) (string, *RunResult, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	name, err := p.StageUpload(filename, data)
	if err != nil {
		return "", nil, err
	}
	res, err := p.run(ctx, RunInput{SourceName: name, Author: author})
	if err != nil {
		return name, nil, err
	}
	return name, res, nil
}
