// Package headless implements the browser capability on top of chromedp and
// a locally launched Chrome.
package headless

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsroom-crawler/internal/browser"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultActionTimeout     = 10 * time.Second
)

// Config controls how Chrome is launched and how long driver calls may block.
type Config struct {
	Headless          bool
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaultActionTimeout
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1920, 1080
	}
	return c
}

// Session is a chromedp-backed browser.Session.
type Session struct {
	*page
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// NewChromedp launches Chrome and returns a session bound to its first tab.
func NewChromedp(cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	logger.Debug("browser session started", zap.Bool("headless", cfg.Headless))

	return &Session{
		page:          &page{ctx: browserCtx, cfg: cfg},
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// OpenTab creates a secondary tab in the same browser.
func (s *Session) OpenTab(ctx context.Context) (browser.Tab, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	t := &tab{page: &page{ctx: tabCtx, cfg: s.cfg}, cancel: cancel}
	if err := t.run(ctx, s.cfg.ActionTimeout); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return t, nil
}

// Close tears down the browser and allocator contexts.
func (s *Session) Close(_ context.Context) error {
	if s == nil {
		return nil
	}
	s.browserCancel()
	s.allocCancel()
	s.logger.Debug("browser session closed")
	return nil
}

type tab struct {
	*page
	cancel context.CancelFunc
}

// Close closes the tab's target.
func (t *tab) Close() error {
	t.cancel()
	return nil
}

type page struct {
	ctx context.Context
	cfg Config
}

func (p *page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context done: %w", err)
	}
	taskCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (p *page) Navigate(ctx context.Context, rawURL string) error {
	actions := []chromedp.Action{
		p.userAgentAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := p.run(ctx, p.cfg.NavigationTimeout, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

func (p *page) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if p.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (p *page) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.cfg.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (p *page) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	return p.first(ctx, loc, nil)
}

func (p *page) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	return p.all(ctx, loc, nil)
}

func (p *page) WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	sel, xpath, err := toQuery(loc)
	if err != nil {
		return err
	}
	by := chromedp.ByQuery
	if xpath {
		by = chromedp.BySearch
	}
	if timeout <= 0 {
		timeout = p.cfg.ActionTimeout
	}
	if err := p.run(ctx, timeout, chromedp.WaitVisible(sel, by)); err != nil {
		return fmt.Errorf("wait visible %s: %w", loc, err)
	}
	return nil
}

func (p *page) first(ctx context.Context, loc browser.Locator, from *cdp.Node) (browser.Element, error) {
	nodes, err := p.nodes(ctx, loc, from)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	return &element{page: p, node: nodes[0]}, nil
}

func (p *page) all(ctx context.Context, loc browser.Locator, from *cdp.Node) ([]browser.Element, error) {
	nodes, err := p.nodes(ctx, loc, from)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{page: p, node: n})
	}
	return out, nil
}

func (p *page) nodes(ctx context.Context, loc browser.Locator, from *cdp.Node) ([]*cdp.Node, error) {
	sel, xpath, err := toQuery(loc)
	if err != nil {
		return nil, err
	}
	opts := []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}
	if xpath {
		opts[0] = chromedp.BySearch
	}
	if from = queryScope(xpath, from); from != nil {
		opts = append(opts, chromedp.FromNode(from))
	}
	var nodes []*cdp.Node
	if err := p.run(ctx, p.cfg.ActionTimeout, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s: %w", loc, err)
	}
	return nodes, nil
}

type element struct {
	page *page
	node *cdp.Node
}

func (e *element) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *element) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	return e.page.first(ctx, loc, e.node)
}

func (e *element) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	return e.page.all(ctx, loc, e.node)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.Text(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return text, nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	var (
		value string
		ok    bool
	)
	action := chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID)
	if err := e.page.run(ctx, e.page.cfg.ActionTimeout, action); err != nil {
		return "", fmt.Errorf("read attribute %q: %w", name, err)
	}
	if !ok {
		return "", fmt.Errorf("attribute %q: %w", name, browser.ErrNotFound)
	}
	return value, nil
}

func (e *element) HTML(ctx context.Context) (string, error) {
	var html string
	if err := e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.OuterHTML(e.ids(), &html, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

func (e *element) Click(ctx context.Context) error {
	if err := e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.Click(e.ids(), chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// queryScope returns the node a query is evaluated under. XPath expressions
// always search the whole document, even when asked through an element.
func queryScope(xpath bool, from *cdp.Node) *cdp.Node {
	if xpath {
		return nil
	}
	return from
}

// toQuery converts a locator into a chromedp selector. The bool reports
// whether the selector is an XPath expression.
func toQuery(loc browser.Locator) (string, bool, error) {
	if err := loc.Validate(); err != nil {
		return "", false, err
	}
	switch loc.By {
	case browser.ByID:
		return `[id="` + strings.ReplaceAll(loc.Value, `"`, `\"`) + `"]`, false, nil
	case browser.ByClass:
		return "." + strings.Join(strings.Fields(loc.Value), "."), false, nil
	case browser.ByTag, browser.ByCSS:
		return loc.Value, false, nil
	case browser.ByXPath:
		return loc.Value, true, nil
	default:
		return "", false, fmt.Errorf("unknown locator kind %q", loc.By)
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
