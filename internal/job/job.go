// Package job implements the scheduled scrape-and-verify invocation: fetch the
// configured page, log an excerpt of its text, then check the database.
//
// Fetch failures end the invocation with an error. Database failures are
// reported in the Report and only fail the invocation when configured to.
package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scheduled-scraper/internal/dbcheck"
	"github.com/JakeFAU/scheduled-scraper/internal/page"
)

const (
	tracerName          = "github.com/JakeFAU/scheduled-scraper/internal/job"
	snapshotContentType = "text/html; charset=utf-8"
)

var (
	// ErrBusy is returned when an invocation is already running.
	ErrBusy = errors.New("invocation already in progress")
	// ErrDatabaseCheck is returned when the database check fails and
	// Config.FailOnDatabaseError is set.
	ErrDatabaseCheck = errors.New("database check failed")
)

// PageFetcher loads and parses a page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*page.Document, error)
}

// HealthChecker verifies database reachability.
type HealthChecker interface {
	Check(ctx context.Context) dbcheck.Result
}

// SnapshotStore persists rendered HTML.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Recorder receives per-stage measurements.
type Recorder interface {
	ObserveFetch(success bool, duration time.Duration, bytes int)
	ObserveDatabaseCheck(result dbcheck.Result)
	ObserveRun(outcome string)
}

// Clock abstracts time.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher fingerprints snapshots.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config tunes a Runner.
type Config struct {
	URL                 string
	ExcerptLength       int
	FailOnDatabaseError bool
	SnapshotPrefix      string
	Topic               string
}

// Dependencies are the collaborators of a Runner. Fetcher, Checker, Clock and
// IDs are required; the rest are optional.
type Dependencies struct {
	Fetcher   PageFetcher
	Checker   HealthChecker
	Clock     Clock
	IDs       IDGenerator
	Hasher    Hasher
	Snapshots SnapshotStore
	Publisher Publisher
	Recorder  Recorder
	Logger    *zap.Logger
	// Tracer defaults to the global provider.
	Tracer trace.TracerProvider
}

// Runner executes invocations one at a time.
type Runner struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
	tracer trace.Tracer
	busy   atomic.Bool
}

// New validates the configuration and returns a Runner.
func New(cfg Config, deps Dependencies) (*Runner, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("url is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Checker == nil:
		return nil, errors.New("checker is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Snapshots != nil && deps.Hasher == nil:
		return nil, errors.New("hasher is required when snapshots are stored")
	}
	if cfg.ExcerptLength < 0 {
		return nil, fmt.Errorf("excerpt length must be >= 0, got %d", cfg.ExcerptLength)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := deps.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Handle runs one invocation. The trigger payload is accepted for parity with
// scheduler and function runtimes and is otherwise ignored.
func (r *Runner) Handle(ctx context.Context, trigger json.RawMessage) (Report, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer r.busy.Store(false)

	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("new run id: %w", err)
	}
	report := Report{
		RunID:     runID,
		URL:       r.cfg.URL,
		StartedAt: r.deps.Clock.Now(),
	}
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Debug("Trigger received", zap.Int("payload_bytes", len(trigger)))

	ctx, span := r.tracer.Start(ctx, "job.invoke", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("page.url", r.cfg.URL),
	))
	defer span.End()

	logger.Info("Getting page", zap.String("url", r.cfg.URL))
	doc, err := r.fetch(ctx)
	if err != nil {
		report.Outcome = OutcomeFailed
		report.Error = err.Error()
		span.SetStatus(codes.Error, "fetch failed")
		r.finish(ctx, logger, &report)
		return report, fmt.Errorf("fetch page: %w", err)
	}

	text := doc.Text()
	report.Title = doc.Title()
	report.TextLength = utf8.RuneCountInString(text)
	report.Excerpt = doc.Excerpt(r.cfg.ExcerptLength)
	logger.Info("Page text", zap.String("excerpt", report.Excerpt+"..."))

	r.archive(ctx, logger, doc, &report)

	result := r.checkDatabase(ctx)
	report.Database = &result
	report.Outcome = OutcomeSucceeded
	var runErr error
	if !result.OK() {
		report.Outcome = OutcomeDegraded
		if r.cfg.FailOnDatabaseError {
			report.Outcome = OutcomeFailed
			report.Error = result.Message
			runErr = fmt.Errorf("%w: %s", ErrDatabaseCheck, result.Kind)
			span.SetStatus(codes.Error, "database check failed")
		}
	}
	r.finish(ctx, logger, &report)
	return report, runErr
}

func (r *Runner) fetch(ctx context.Context) (*page.Document, error) {
	ctx, span := r.tracer.Start(ctx, "job.fetch")
	defer span.End()

	start := r.deps.Clock.Now()
	doc, err := r.deps.Fetcher.Fetch(ctx, r.cfg.URL)
	elapsed := r.deps.Clock.Now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		r.observeFetch(false, elapsed, 0)
		return nil, err
	}
	span.SetAttributes(attribute.Int("page.bytes", len(doc.HTML())))
	r.observeFetch(true, elapsed, len(doc.HTML()))
	return doc, nil
}

func (r *Runner) checkDatabase(ctx context.Context) dbcheck.Result {
	ctx, span := r.tracer.Start(ctx, "job.database_check")
	defer span.End()

	result := r.deps.Checker.Check(ctx)
	span.SetAttributes(
		attribute.String("db.status", string(result.Status)),
		attribute.String("db.failure_kind", string(result.Kind)),
	)
	if !result.OK() {
		span.SetStatus(codes.Error, result.Message)
	}
	if r.deps.Recorder != nil {
		r.deps.Recorder.ObserveDatabaseCheck(result)
	}
	return result
}

func (r *Runner) archive(ctx context.Context, logger *zap.Logger, doc *page.Document, report *Report) {
	if r.deps.Snapshots == nil {
		return
	}
	body := []byte(doc.HTML())
	hash, err := r.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("Hashing snapshot failed", zap.Error(err))
		return
	}
	path := SnapshotPath(r.cfg.SnapshotPrefix, report.StartedAt, report.RunID)
	uri, err := r.deps.Snapshots.PutObject(ctx, path, snapshotContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("Storing snapshot failed", zap.String("path", path), zap.Error(err))
		return
	}
	report.SnapshotURI = uri
	report.SnapshotHash = hash
	logger.Debug("Snapshot stored", zap.String("uri", uri), zap.String("sha256", hash))
}

func (r *Runner) finish(ctx context.Context, logger *zap.Logger, report *Report) {
	report.FinishedAt = r.deps.Clock.Now()
	if r.deps.Recorder != nil {
		r.deps.Recorder.ObserveRun(string(report.Outcome))
	}
	if r.deps.Publisher != nil {
		if _, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, *report); err != nil {
			logger.Warn("Publishing run report failed", zap.Error(err))
		}
	}
	fields := []zap.Field{
		zap.String("outcome", string(report.Outcome)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	}
	switch report.Outcome {
	case OutcomeSucceeded:
		logger.Info("Invocation finished", fields...)
	case OutcomeDegraded:
		logger.Warn("Invocation finished with database failure", fields...)
	default:
		logger.Error("Invocation failed", append(fields, zap.String("error", report.Error))...)
	}
}

func (r *Runner) observeFetch(success bool, elapsed time.Duration, size int) {
	if r.deps.Recorder != nil {
		r.deps.Recorder.ObserveFetch(success, elapsed, size)
	}
}

// SnapshotPath returns prefix/YYYY/MM/DD/<runID>.html for the run's start time.
func SnapshotPath(prefix string, startedAt time.Time, runID string) string {
	path := fmt.Sprintf("%s/%s.html", startedAt.UTC().Format("2006/01/02"), runID)
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}
