package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsroom-crawler/internal/browser"
	"github.com/JakeFAU/newsroom-crawler/internal/metrics"
)

// ErrListingNotFound reports that the listing container never appeared.
var ErrListingNotFound = errors.New("listing container not found")

// Crawler walks a paginated news listing newest-first and stops at the
// watermark, the batch limit, or the end of pagination.
type Crawler struct {
	cfg       Config
	session   browser.Session
	extractor *Extractor
	hasher    Hasher
	clock     Clock
	ids       IDGenerator
	budget    *navigationBudget
	pauser    pauseController
	logger    *zap.Logger

	state    State
	lastLoad time.Time
}

// New wires a crawler around an open browser session.
func New(cfg Config, session browser.Session, hasher Hasher, clock Clock, ids IDGenerator, logger *zap.Logger) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	if session == nil {
		return nil, errors.New("browser session is required")
	}
	if hasher == nil || clock == nil || ids == nil {
		return nil, errors.New("hasher, clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:       cfg,
		session:   session,
		extractor: NewExtractor(cfg.Selectors, time.UTC),
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		budget:    newNavigationBudget(cfg.NavigationQPS),
		pauser:    &timerPauseController{},
		logger:    logger.With(zap.String("source", cfg.Source)),
		state:     StateDone,
	}, nil
}

// State reports the loop state of the current or last run.
func (c *Crawler) State() State {
	return c.state
}

// Run performs one incremental crawl. On a fatal error the documents
// accepted so far are returned together with the error.
func (c *Crawler) Run(ctx context.Context, params RunParams) (Result, error) {
	start := c.clock.Now()
	maxCount := c.maxCount(params.MaxCount)
	c.logger.Info("Starting crawl run",
		zap.String("url", c.cfg.StartURL),
		zap.Int("max_count", maxCount),
		zap.Bool("has_watermark", params.Watermark != nil),
	)

	res, err := c.run(ctx, params.Watermark, maxCount)
	c.state = StateDone
	if err != nil {
		res.Reason = ReasonFatal
	}

	metrics.ObserveRun(c.cfg.Source, string(res.Reason), len(res.Documents), c.clock.Now().Sub(start))
	fields := []zap.Field{
		zap.String("reason", string(res.Reason)),
		zap.Int("documents", len(res.Documents)),
		zap.Int("pages", res.Pages),
		zap.Int("skipped", res.Skipped),
	}
	if err != nil {
		c.logger.Error("Crawl run failed", append(fields, zap.Error(err))...)
		return res, err
	}
	c.logger.Info("Crawl run finished", fields...)
	return res, nil
}

func (c *Crawler) maxCount(requested int) int {
	switch {
	case requested > 0:
		return requested
	case c.cfg.DefaultMaxCount > 0:
		return c.cfg.DefaultMaxCount
	default:
		return DefaultMaxCount
	}
}

// maxBarrenPages bounds consecutive listing pages without a single linked
// item. Pagination that keeps clicking over such pages cannot be told apart
// from a stalled control.
const maxBarrenPages = 3

func (c *Crawler) run(ctx context.Context, wm *Watermark, maxCount int) (Result, error) {
	res := Result{Documents: make([]Document, 0, maxCount)}
	c.state = StateListing

	if err := c.openListing(ctx); err != nil {
		return res, err
	}

	var (
		prevFirst string
		barren    int
	)
	for {
		reason, first, err := c.processPage(ctx, &res, wm, maxCount, prevFirst)
		if err != nil {
			return res, err
		}
		if reason != "" {
			res.Reason = reason
			return res, nil
		}
		if first == "" {
			barren++
			if barren >= maxBarrenPages {
				c.logger.Warn("Listing pages yield no items, stopping", zap.Int("pages", barren))
				res.Reason = ReasonExhausted
				return res, nil
			}
		} else {
			barren = 0
			prevFirst = first
		}

		if c.cfg.MaxPages > 0 && res.Pages >= c.cfg.MaxPages {
			res.Reason = ReasonPageLimit
			return res, nil
		}
		if !c.nextPage(ctx) {
			if err := ctx.Err(); err != nil {
				return res, fmt.Errorf("crawl cancelled: %w", err)
			}
			res.Reason = ReasonExhausted
			return res, nil
		}
	}
}

func (c *Crawler) openListing(ctx context.Context) error {
	if err := c.budget.Wait(ctx); err != nil {
		return err
	}
	if err := c.session.Navigate(ctx, c.cfg.StartURL); err != nil {
		return fmt.Errorf("open listing %s: %w", c.cfg.StartURL, err)
	}
	c.pauser.Pause(ctx, c.cfg.PageSettle)
	c.dismissConsent(ctx)
	return nil
}

// dismissConsent clicks the cookie banner when present. Absence is normal.
func (c *Crawler) dismissConsent(ctx context.Context) {
	loc := c.cfg.Selectors.Consent
	if loc.IsZero() {
		return
	}
	el, err := c.session.Find(ctx, loc)
	if err != nil {
		c.logger.Debug("No consent banner", zap.Error(err))
		return
	}
	if err := el.Click(ctx); err != nil {
		c.logger.Warn("Failed to dismiss consent banner", zap.Error(err))
		return
	}
	c.pauser.Pause(ctx, c.cfg.ConsentSettle)
}

// processPage handles every item on the current listing page. It returns a
// non-empty reason when the run must stop, and the identity hash of the
// page's first candidate so stalled pagination can be detected.
func (c *Crawler) processPage(ctx context.Context, res *Result, wm *Watermark, maxCount int, prevFirst string) (HaltReason, string, error) {
	baseURL, err := c.session.Location(ctx)
	if err != nil || baseURL == "" {
		baseURL = c.cfg.StartURL
	}

	if err := c.session.WaitVisible(ctx, c.cfg.Selectors.Container, c.cfg.ElementTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", fmt.Errorf("crawl cancelled: %w", ctxErr)
		}
		return "", "", fmt.Errorf("%w on %s: %w", ErrListingNotFound, baseURL, err)
	}
	container, err := c.session.Find(ctx, c.cfg.Selectors.Container)
	if err != nil {
		return "", "", fmt.Errorf("%w on %s: %w", ErrListingNotFound, baseURL, err)
	}
	items, err := container.FindAll(ctx, c.cfg.Selectors.Item)
	if err != nil {
		return "", "", fmt.Errorf("list items on %s: %w", baseURL, err)
	}
	res.Pages++
	metrics.ObservePage(c.cfg.Source)
	c.logger.Debug("Processing listing page",
		zap.Int("page", res.Pages),
		zap.String("url", baseURL),
		zap.Int("items", len(items)),
	)

	var first string
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return "", first, fmt.Errorf("crawl cancelled: %w", err)
		}

		fields := c.extractor.Listing(ctx, item, baseURL)
		doc, ok := c.extractor.Candidate(c.cfg.Source, fields)
		c.reportFailures(fields)
		if !ok {
			res.Skipped++
			metrics.ObserveDocument(c.cfg.Source, "skipped")
			continue
		}

		hash, err := IdentityHash(c.hasher, doc.Title, doc.WebLink)
		if err != nil {
			return "", first, err
		}
		if first == "" {
			first = hash
			if hash == prevFirst {
				c.logger.Warn("Pagination did not advance", zap.String("url", baseURL))
				return ReasonExhausted, first, nil
			}
		}

		switch Decide(hash, wm, len(res.Documents), maxCount) {
		case HaltWatermark:
			c.logger.Info("Reached watermark", zap.String("link", doc.WebLink))
			return ReasonWatermark, first, nil
		case HaltLimit:
			return ReasonLimit, first, nil
		}

		if c.cfg.VisitDetail {
			c.visitDetail(ctx, &doc)
			c.state = StateListing
			if err := ctx.Err(); err != nil {
				return "", first, fmt.Errorf("crawl cancelled: %w", err)
			}
		}

		id, err := c.ids.NewID()
		if err != nil {
			return "", first, fmt.Errorf("generate document id: %w", err)
		}
		doc.ID = id
		doc.IdentityHash = hash
		doc.LoadTimestamp = c.loadTimestamp()

		res.Documents = append(res.Documents, doc)
		metrics.ObserveDocument(c.cfg.Source, "accepted")
		c.logger.Info(doc.LogLine())

		if len(res.Documents) >= maxCount {
			return ReasonLimit, first, nil
		}
	}
	return "", first, nil
}

// visitDetail opens the document link in a secondary tab. Every failure is
// logged and leaves the listing fields untouched.
func (c *Crawler) visitDetail(ctx context.Context, doc *Document) {
	c.state = StateDetail
	if err := c.budget.Wait(ctx); err != nil {
		return
	}
	tab, err := c.session.OpenTab(ctx)
	if err != nil {
		c.logger.Warn("Failed to open detail tab", zap.String("link", doc.WebLink), zap.Error(err))
		return
	}
	defer func() {
		if err := tab.Close(); err != nil {
			c.logger.Warn("Failed to close detail tab", zap.Error(err))
		}
	}()

	if err := tab.Navigate(ctx, doc.WebLink); err != nil {
		c.logger.Warn("Failed to open detail page", zap.String("link", doc.WebLink), zap.Error(err))
		return
	}
	if !c.cfg.Selectors.DetailBody.IsZero() {
		if err := tab.WaitVisible(ctx, c.cfg.Selectors.DetailBody, c.cfg.ElementTimeout); err != nil {
			c.logger.Warn("Detail body did not appear", zap.String("link", doc.WebLink), zap.Error(err))
		}
	}

	fields := c.extractor.Detail(ctx, tab)
	for field, err := range fields.Failures {
		metrics.ObserveFieldFailure(c.cfg.Source, field)
		c.logger.Warn("Detail field extraction failed",
			zap.String("field", field),
			zap.String("link", doc.WebLink),
			zap.Error(err),
		)
	}
	ApplyDetail(doc, fields)
}

func (c *Crawler) reportFailures(fields ListingFields) {
	if len(fields.Failures) == 0 {
		return
	}
	ctxFields := []zap.Field{
		zap.String("title", deref(fields.Title)),
		zap.String("link", deref(fields.Link)),
		zap.String("date", deref(fields.DateText)),
	}
	for field, err := range fields.Failures {
		metrics.ObserveFieldFailure(c.cfg.Source, field)
		c.logger.Warn("Listing field extraction failed",
			append([]zap.Field{zap.String("field", field), zap.Error(err)}, ctxFields...)...)
	}
}

// nextPage follows the pagination control. False means there is no further
// page, which ends the run normally.
func (c *Crawler) nextPage(ctx context.Context) bool {
	loc := c.cfg.Selectors.NextPage
	if loc.IsZero() {
		return false
	}
	el, err := c.session.Find(ctx, loc)
	if err != nil {
		c.logger.Debug("No next page control", zap.Error(err))
		return false
	}
	if err := c.budget.Wait(ctx); err != nil {
		return false
	}
	if err := el.Click(ctx); err != nil {
		c.logger.Warn("Failed to follow next page", zap.Error(err))
		return false
	}
	c.pauser.Pause(ctx, c.cfg.PaginationSettle)
	return ctx.Err() == nil
}

// loadTimestamp never moves backwards within a crawler's lifetime.
func (c *Crawler) loadTimestamp() time.Time {
	now := c.clock.Now().UTC()
	if now.Before(c.lastLoad) {
		now = c.lastLoad
	}
	c.lastLoad = now
	return now
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
