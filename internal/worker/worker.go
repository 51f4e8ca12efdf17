// Package worker executes crawl batches end to end: watermark lookup, the
// crawl run, export, the completion event, and persistence.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsroom-crawler/internal/crawler"
	"github.com/JakeFAU/newsroom-crawler/internal/logging"
)

// ErrRunInProgress is returned when a batch is requested while another runs.
var ErrRunInProgress = errors.New("a crawl run is already in progress")

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

const exportContentType = "application/x-ndjson"

// Crawl is the crawl loop as seen by the worker.
type Crawl interface {
	Run(ctx context.Context, params crawler.RunParams) (crawler.Result, error)
}

// Checksummer digests exported batches.
type Checksummer interface {
	HashReader(r io.Reader) (string, error)
}

// Config controls Worker behavior.
type Config struct {
	Source     string
	BlobPrefix string
	Topic      string
	// History bounds how many finished reports are kept for lookup.
	History int
}

// Request is one batch request. A nil Watermark means the newest stored
// document is used.
type Request struct {
	MaxCount  int                `json:"max_count"`
	Watermark *crawler.Watermark `json:"watermark,omitempty"`
}

// Status is the lifecycle of one batch.
type Status string

// Batch statuses.
const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Report describes one batch.
type Report struct {
	RunID      string             `json:"run_id"`
	Source     string             `json:"source"`
	Status     Status             `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Watermark  *crawler.Watermark `json:"watermark,omitempty"`
	Result     crawler.Result     `json:"result"`
	ExportURI  string             `json:"export_uri,omitempty"`
	Checksum   string             `json:"checksum,omitempty"`
	EventID    string             `json:"event_id,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// BatchEvent is published once a batch is exported, before it is persisted.
type BatchEvent struct {
	RunID        string    `json:"run_id"`
	Source       string    `json:"source"`
	Count        int       `json:"count"`
	Reason       string    `json:"reason"`
	ExportURI    string    `json:"export_uri,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	NewWatermark string    `json:"new_watermark"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Worker runs one batch at a time. The store, blob store, and publisher are
// optional; a nil collaborator skips its step.
type Worker struct {
	crawl     Crawl
	store     crawler.DocumentStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	checksum  Checksummer
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer

	running sync.Mutex
	mu      sync.RWMutex
	reports map[string]*Report
	order   []string
}

// New constructs a Worker.
func New(
	crawl Crawl,
	store crawler.DocumentStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	checksum Checksummer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.History <= 0 {
		cfg.History = 20
	}
	return &Worker{
		crawl:     crawl,
		store:     store,
		blobStore: blobStore,
		publisher: publisher,
		checksum:  checksum,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/JakeFAU/newsroom-crawler/internal/worker"),
		reports:   make(map[string]*Report),
	}
}

// Execute runs one batch synchronously. A crawl failure is reported with the
// partial result, and nothing is persisted so the stored watermark does not
// skip documents the failed run never reached. The batch is persisted last,
// after export and publish succeed.
func (w *Worker) Execute(ctx context.Context, req Request) (Report, error) {
	if !w.running.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer w.running.Unlock()

	runID, err := w.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := logging.ForRun(w.logger, runID, w.cfg.Source)
	report := &Report{
		RunID:     runID,
		Source:    w.cfg.Source,
		Status:    StatusRunning,
		StartedAt: w.clock.Now(),
	}
	w.remember(report)

	ctx, span := w.tracer.Start(ctx, "worker.batch")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("source", w.cfg.Source))

	out, err := w.execute(ctx, logger, req, report)
	span.SetAttributes(attribute.Int("documents", len(out.Result.Documents)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("batch failed", zap.Error(err))
	}
	return out, err
}

func (w *Worker) execute(ctx context.Context, logger *zap.Logger, req Request, report *Report) (Report, error) {
	wm, err := w.resolveWatermark(ctx, req)
	if err != nil {
		return w.finish(report, err), err
	}
	w.update(report, func(r *Report) { r.Watermark = wm })

	res, err := w.crawl.Run(ctx, crawler.RunParams{MaxCount: req.MaxCount, Watermark: wm})
	w.update(report, func(r *Report) { r.Result = res })
	if err != nil {
		err = fmt.Errorf("crawl: %w", err)
		return w.finish(report, err), err
	}
	logger.Info("crawl finished",
		zap.Int("documents", len(res.Documents)),
		zap.String("reason", string(res.Reason)),
	)
	if len(res.Documents) == 0 {
		return w.finish(report, nil), nil
	}

	uri, sum, err := w.export(ctx, report.RunID, res.Documents)
	if err != nil {
		return w.finish(report, err), err
	}
	w.update(report, func(r *Report) {
		r.ExportURI = uri
		r.Checksum = sum
	})

	eventID, err := w.publish(ctx, report.RunID, res, uri, sum)
	if err != nil {
		return w.finish(report, err), err
	}
	w.update(report, func(r *Report) { r.EventID = eventID })
	if eventID != "" {
		logger.Info("batch published", zap.String("event_id", eventID), zap.String("export_uri", uri))
	}

	// Saving moves the stored watermark, so it happens only after the batch
	// has been handed downstream. A failure here re-delivers the batch on the
	// next run.
	if w.store != nil {
		if err := w.store.SaveBatch(ctx, res.Documents); err != nil {
			err = fmt.Errorf("save batch: %w", err)
			return w.finish(report, err), err
		}
	}
	return w.finish(report, nil), nil
}

func (w *Worker) resolveWatermark(ctx context.Context, req Request) (*crawler.Watermark, error) {
	if req.Watermark != nil {
		return req.Watermark, nil
	}
	if w.store == nil {
		return nil, nil
	}
	latest, err := w.store.Latest(ctx, w.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	return crawler.WatermarkFrom(latest), nil
}

// export writes the batch as JSON Lines in listing order.
func (w *Worker) export(ctx context.Context, runID string, docs []crawler.Document) (string, string, error) {
	if w.blobStore == nil {
		return "", "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return "", "", fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}

	var sum string
	if w.checksum != nil {
		var err error
		if sum, err = w.checksum.HashReader(bytes.NewReader(buf.Bytes())); err != nil {
			return "", "", fmt.Errorf("checksum export: %w", err)
		}
	}

	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(runID), exportContentType, &buf)
	if err != nil {
		return "", "", fmt.Errorf("put object: %w", err)
	}
	return uri, sum, nil
}

func (w *Worker) publish(ctx context.Context, runID string, res crawler.Result, uri, sum string) (string, error) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return "", nil
	}
	event := BatchEvent{
		RunID:        runID,
		Source:       w.cfg.Source,
		Count:        len(res.Documents),
		Reason:       string(res.Reason),
		ExportURI:    uri,
		Checksum:     sum,
		NewWatermark: res.Documents[0].IdentityHash,
		FinishedAt:   w.clock.Now(),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		return "", fmt.Errorf("publish payload: %w", err)
	}
	return id, nil
}

func (w *Worker) buildBlobPath(runID string) string {
	day := w.clock.Now().UTC().Format("2006/01/02")
	source := slug(w.cfg.Source)
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.jsonl", source, day, runID)
	}
	return fmt.Sprintf("%s/%s/%s/%s.jsonl", prefix, source, day, runID)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "source"
	}
	return out
}

// ParseSchedule validates a schedule expression: five cron fields or a
// descriptor such as "@hourly" or "@every 15m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule executes a batch on spec until ctx is done. An empty spec returns
// immediately. Ticks that arrive while a batch is still running are skipped.
func (w *Worker) Schedule(ctx context.Context, spec string) error {
	if spec == "" {
		return nil
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(w.logger.Named("cron")))
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := w.Execute(ctx, Request{}); err != nil && !errors.Is(err, ErrRunInProgress) && ctx.Err() == nil {
			w.logger.Warn("scheduled batch failed", zap.Error(err))
		}
	}))
	w.logger.Info("batch schedule started", zap.String("schedule", spec))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Report returns a snapshot of one known run.
func (w *Worker) Report(runID string) (Report, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.reports[runID]
	if !ok {
		return Report{}, ErrRunNotFound
	}
	return *r, nil
}

// Reports returns snapshots of known runs, newest first.
func (w *Worker) Reports() []Report {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Report, 0, len(w.order))
	for i := len(w.order) - 1; i >= 0; i-- {
		out = append(out, *w.reports[w.order[i]])
	}
	return out
}

func (w *Worker) remember(r *Report) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reports[r.RunID] = r
	w.order = append(w.order, r.RunID)
	for len(w.order) > w.cfg.History {
		delete(w.reports, w.order[0])
		w.order = w.order[1:]
	}
}

func (w *Worker) update(r *Report, fn func(*Report)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(r)
}

func (w *Worker) finish(r *Report, err error) Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	r.FinishedAt = &now
	r.Status = StatusSucceeded
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
	}
	return *r
}
