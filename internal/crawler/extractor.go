package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/newsroom-crawler/internal/browser"
)

// Field names used as keys in extraction failure maps and metrics.
const (
	FieldTitle      = "title"
	FieldDate       = "date"
	FieldAbstract   = "abstract"
	FieldLink       = "link"
	FieldText       = "text"
	FieldCategories = "categories"
)

// ListingFields holds the optional values read from one listing item. A nil
// pointer means the field could not be extracted; Failures says why.
type ListingFields struct {
	Title    *string
	DateText *string
	Abstract *string
	Link     *string
	Failures map[string]error
}

// DetailFields holds the optional values read from a detail view.
type DetailFields struct {
	Text       *string
	Categories []string
	Failures   map[string]error
}

type finder interface {
	Find(ctx context.Context, loc browser.Locator) (browser.Element, error)
}

// Extractor reads document fields from rendered listing and detail views.
// It only reads; navigation belongs to the caller.
type Extractor struct {
	sel      Selectors
	location *time.Location
}

// NewExtractor builds an extractor for the given selectors. Dates without
// zone information are interpreted in loc (UTC when nil).
func NewExtractor(sel Selectors, loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{sel: sel, location: loc}
}

// Listing extracts every listing field independently. baseURL resolves
// relative links.
func (e *Extractor) Listing(ctx context.Context, item browser.Element, baseURL string) ListingFields {
	out := ListingFields{Failures: map[string]error{}}

	if v, err := textOf(ctx, item, e.sel.Title); err != nil {
		out.Failures[FieldTitle] = err
	} else {
		out.Title = &v
	}
	if v, err := textOf(ctx, item, e.sel.Date); err != nil {
		out.Failures[FieldDate] = err
	} else {
		out.DateText = &v
	}
	if v, err := textOf(ctx, item, e.sel.Summary); err != nil {
		out.Failures[FieldAbstract] = err
	} else {
		out.Abstract = &v
	}
	if v, err := linkOf(ctx, item, e.sel.Link, baseURL); err != nil {
		out.Failures[FieldLink] = err
	} else {
		out.Link = &v
	}
	return out
}

// Detail extracts body text and categories from a detail view.
func (e *Extractor) Detail(ctx context.Context, page browser.Page) DetailFields {
	out := DetailFields{Failures: map[string]error{}}

	if !e.sel.DetailBody.IsZero() {
		text, err := bodyText(ctx, page, e.sel.DetailBody)
		switch {
		case err != nil:
			out.Failures[FieldText] = err
		case text == "":
			out.Failures[FieldText] = errors.New("detail body is empty")
		default:
			out.Text = &text
		}
	}

	if !e.sel.DetailCategories.IsZero() {
		cats, err := categoriesOf(ctx, page, e.sel.DetailCategories)
		if err != nil {
			out.Failures[FieldCategories] = err
		} else {
			out.Categories = cats
		}
	}
	return out
}

// Candidate applies defaults to listing fields. It reports false when the
// link is absent, since such an item cannot be deduplicated.
func (e *Extractor) Candidate(source string, fields ListingFields) (Document, bool) {
	if fields.Link == nil || *fields.Link == "" {
		return Document{}, false
	}
	doc := Document{
		Source:  source,
		WebLink: *fields.Link,
	}
	if fields.Title != nil {
		doc.Title = *fields.Title
	}
	if fields.Abstract != nil {
		doc.Abstract = *fields.Abstract
	}
	if fields.DateText != nil {
		doc.PublicationDate = ParsePublicationDate(*fields.DateText, e.location)
	}
	return doc, true
}

// ApplyDetail merges detail fields into doc.
func ApplyDetail(doc *Document, fields DetailFields) {
	if fields.Text != nil {
		text := *fields.Text
		doc.Text = &text
	}
	if len(fields.Categories) > 0 {
		if doc.OtherData == nil {
			doc.OtherData = map[string]any{}
		}
		doc.OtherData[FieldCategories] = append([]string(nil), fields.Categories...)
	}
}

func textOf(ctx context.Context, scope finder, loc browser.Locator) (string, error) {
	if loc.IsZero() {
		return "", errors.New("no selector configured")
	}
	el, err := scope.Find(ctx, loc)
	if err != nil {
		return "", fmt.Errorf("find %s: %w", loc, err)
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", loc, err)
	}
	return collapseSpace(text), nil
}

func linkOf(ctx context.Context, scope finder, loc browser.Locator, baseURL string) (string, error) {
	el, err := scope.Find(ctx, loc)
	if err != nil {
		return "", fmt.Errorf("find %s: %w", loc, err)
	}
	href, err := el.Attribute(ctx, "href")
	if err != nil {
		return "", fmt.Errorf("read href: %w", err)
	}
	link, err := resolveLink(baseURL, href)
	if err != nil {
		return "", fmt.Errorf("resolve href %q: %w", href, err)
	}
	return link, nil
}

func bodyText(ctx context.Context, page browser.Page, loc browser.Locator) (string, error) {
	el, err := page.Find(ctx, loc)
	if err != nil {
		return "", fmt.Errorf("find %s: %w", loc, err)
	}
	html, err := el.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", loc, err)
	}
	return htmlToText(html)
}

// htmlToText flattens detail HTML into paragraphs separated by blank lines.
// Markup without block elements falls back to its collapsed text.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse detail html: %w", err)
	}
	doc.Find("script, style, noscript, iframe").Remove()

	var paragraphs []string
	doc.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		if text := collapseSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return collapseSpace(doc.Text()), nil
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

func categoriesOf(ctx context.Context, page browser.Page, loc browser.Locator) ([]string, error) {
	els, err := page.FindAll(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", loc, err)
	}
	seen := make(map[string]struct{}, len(els))
	out := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		text = collapseSpace(text)
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out, nil
}
