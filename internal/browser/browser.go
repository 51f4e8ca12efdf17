// Package browser defines the browser-automation capability the crawl loop
// drives: navigation, element lookup, text and attribute reads, clicks, and a
// secondary tab for detail views.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a locator matches no element.
var ErrNotFound = errors.New("element not found")

// By names the attribute kind a Locator matches on.
type By string

// Supported locator kinds.
const (
	ByID    By = "id"
	ByClass By = "class"
	ByTag   By = "tag"
	ByCSS   By = "css"
	ByXPath By = "xpath"
)

// Locator identifies elements by kind and value.
type Locator struct {
	By    By     `mapstructure:"by"`
	Value string `mapstructure:"value"`
}

// ID returns a locator matching an element id.
func ID(v string) Locator { return Locator{By: ByID, Value: v} }

// Class returns a locator matching a CSS class name.
func Class(v string) Locator { return Locator{By: ByClass, Value: v} }

// Tag returns a locator matching a tag name.
func Tag(v string) Locator { return Locator{By: ByTag, Value: v} }

// CSS returns a locator matching a CSS selector.
func CSS(v string) Locator { return Locator{By: ByCSS, Value: v} }

// XPath returns a locator matching an XPath expression.
func XPath(v string) Locator { return Locator{By: ByXPath, Value: v} }

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool {
	return l.Value == ""
}

// String renders the locator for logs.
func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.By, l.Value)
}

// Validate checks the locator kind and value.
func (l Locator) Validate() error {
	if l.Value == "" {
		return errors.New("locator value is required")
	}
	switch l.By {
	case ByID, ByClass, ByTag, ByCSS, ByXPath:
		return nil
	default:
		return fmt.Errorf("unknown locator kind %q", l.By)
	}
}

// Element is a handle to one rendered DOM element. Find and FindAll search
// below the element, except XPath locators, which search the whole page.
type Element interface {
	Find(ctx context.Context, loc Locator) (Element, error)
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	HTML(ctx context.Context) (string, error)
	Click(ctx context.Context) error
}

// Page is one browsing context: the main window or a secondary tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Find(ctx context.Context, loc Locator) (Element, error)
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
}

// Tab is a secondary browsing context that must be closed after use.
type Tab interface {
	Page
	Close() error
}

// Session is a browser session with one main page.
type Session interface {
	Page
	OpenTab(ctx context.Context) (Tab, error)
	Close(ctx context.Context) error
}
