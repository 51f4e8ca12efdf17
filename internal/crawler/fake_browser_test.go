package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/newsroom-crawler/internal/browser"
)

// fakeElement is an in-memory DOM node. Children are keyed by locator string.
type fakeElement struct {
	text     string
	attrs    map[string]string
	html     string
	children map[string][]*fakeElement
	onClick  func() error

	mu    sync.Mutex
	reads int
}

func (e *fakeElement) add(loc browser.Locator, child *fakeElement) *fakeElement {
	if e.children == nil {
		e.children = map[string][]*fakeElement{}
	}
	e.children[loc.String()] = append(e.children[loc.String()], child)
	return e
}

func (e *fakeElement) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	all, err := e.FindAll(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%s: %w", loc, browser.ErrNotFound)
	}
	return all[0], nil
}

func (e *fakeElement) FindAll(_ context.Context, loc browser.Locator) ([]browser.Element, error) {
	e.touch()
	kids := e.children[loc.String()]
	out := make([]browser.Element, 0, len(kids))
	for _, k := range kids {
		out = append(out, k)
	}
	return out, nil
}

func (e *fakeElement) Text(context.Context) (string, error) {
	e.touch()
	return e.text, nil
}

func (e *fakeElement) Attribute(_ context.Context, name string) (string, error) {
	e.touch()
	v, ok := e.attrs[name]
	if !ok {
		return "", browser.ErrNotFound
	}
	return v, nil
}

func (e *fakeElement) HTML(context.Context) (string, error) {
	e.touch()
	return e.html, nil
}

func (e *fakeElement) Click(context.Context) error {
	if e.onClick == nil {
		return nil
	}
	return e.onClick()
}

func (e *fakeElement) touch() {
	e.mu.Lock()
	e.reads++
	e.mu.Unlock()
}

func (e *fakeElement) readCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reads
}

// fakeSession serves a sequence of listing pages. A nil page means the
// listing container is missing there.
type fakeSession struct {
	sel      Selectors
	baseURL  string
	pages    []*fakeElement
	details  map[string]*fakeElement
	consent  *fakeElement
	navErr   error
	stallNav bool

	current     int
	navigations []string
	tabsOpened  int
	tabsClosed  int
	consentHits int
}

func newFakeSession(sel Selectors, pages ...*fakeElement) *fakeSession {
	return &fakeSession{
		sel:     sel,
		baseURL: "https://newsroom.example.com/news",
		pages:   pages,
		details: map[string]*fakeElement{},
	}
}

func (s *fakeSession) root() *fakeElement {
	root := &fakeElement{}
	if s.current < len(s.pages) && s.pages[s.current] != nil {
		root.add(s.sel.Container, s.pages[s.current])
	}
	if s.current < len(s.pages)-1 {
		root.add(s.sel.NextPage, &fakeElement{onClick: func() error {
			if !s.stallNav {
				s.current++
			}
			return nil
		}})
	}
	if s.consent != nil {
		root.add(s.sel.Consent, s.consent)
	}
	return root
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.navigations = append(s.navigations, url)
	return s.navErr
}

func (s *fakeSession) Location(context.Context) (string, error) {
	return fmt.Sprintf("%s?page=%d", s.baseURL, s.current+1), nil
}

func (s *fakeSession) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	return s.root().Find(ctx, loc)
}

func (s *fakeSession) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	return s.root().FindAll(ctx, loc)
}

func (s *fakeSession) WaitVisible(ctx context.Context, loc browser.Locator, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.root().Find(ctx, loc); err != nil {
		return errors.New("timed out waiting for element")
	}
	return nil
}

func (s *fakeSession) OpenTab(context.Context) (browser.Tab, error) {
	s.tabsOpened++
	return &fakeTab{session: s}, nil
}

func (s *fakeSession) Close(context.Context) error { return nil }

type fakeTab struct {
	session *fakeSession
	url     string
}

func (t *fakeTab) page() *fakeElement {
	if p, ok := t.session.details[t.url]; ok {
		return p
	}
	return &fakeElement{}
}

func (t *fakeTab) Navigate(_ context.Context, url string) error {
	if _, ok := t.session.details[url]; !ok {
		return fmt.Errorf("navigate %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	t.url = url
	return nil
}

func (t *fakeTab) Location(context.Context) (string, error) { return t.url, nil }

func (t *fakeTab) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	return t.page().Find(ctx, loc)
}

func (t *fakeTab) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	return t.page().FindAll(ctx, loc)
}

func (t *fakeTab) WaitVisible(ctx context.Context, loc browser.Locator, _ time.Duration) error {
	_, err := t.page().Find(ctx, loc)
	return err
}

func (t *fakeTab) Close() error {
	t.session.tabsClosed++
	return nil
}

// listing builds a listing container holding items.
func listing(sel Selectors, items ...*fakeElement) *fakeElement {
	c := &fakeElement{}
	for _, it := range items {
		c.add(sel.Item, it)
	}
	return c
}

// newsItem builds a listing item. Empty arguments leave the field out.
func newsItem(sel Selectors, title, date, summary, href string) *fakeElement {
	it := &fakeElement{}
	if title != "" {
		it.add(sel.Title, &fakeElement{text: title})
	}
	if date != "" {
		it.add(sel.Date, &fakeElement{text: date})
	}
	if summary != "" {
		it.add(sel.Summary, &fakeElement{text: summary})
	}
	if href != "" {
		it.add(sel.Link, &fakeElement{attrs: map[string]string{"href": href}})
	}
	return it
}

// detailPage builds a detail view with a body and optional categories.
func detailPage(sel Selectors, body string, categories ...string) *fakeElement {
	p := &fakeElement{}
	p.add(sel.DetailBody, &fakeElement{html: body})
	for _, c := range categories {
		p.add(sel.DetailCategories, &fakeElement{text: c})
	}
	return p
}

type testHasher struct{}

func (testHasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("doc-%d", g.n), nil
}

type noPause struct{}

func (noPause) Pause(context.Context, time.Duration) {}
