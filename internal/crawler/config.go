package crawler

import (
	"fmt"
	"net/url"
	"time"

	"github.com/JakeFAU/newsroom-crawler/internal/browser"
)

// DefaultMaxCount caps a batch when neither the caller nor config sets one.
const DefaultMaxCount = 50

// Selectors locate the listing, item, detail, and pagination elements of the
// one supported site layout.
type Selectors struct {
	Consent          browser.Locator `mapstructure:"consent"`
	Container        browser.Locator `mapstructure:"container"`
	Item             browser.Locator `mapstructure:"item"`
	Title            browser.Locator `mapstructure:"title"`
	Date             browser.Locator `mapstructure:"date"`
	Summary          browser.Locator `mapstructure:"summary"`
	Link             browser.Locator `mapstructure:"link"`
	NextPage         browser.Locator `mapstructure:"next_page"`
	DetailBody       browser.Locator `mapstructure:"detail_body"`
	DetailCategories browser.Locator `mapstructure:"detail_categories"`
}

// DefaultSelectors returns the PayPal newsroom layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Consent:          browser.ID("acceptAllButton"),
		Container:        browser.Class("wd_item_list"),
		Item:             browser.Class("wd_has-image"),
		Title:            browser.Class("wd_title"),
		Date:             browser.Class("wd_date"),
		Summary:          browser.Class("wd_summary"),
		Link:             browser.Tag("a"),
		NextPage:         browser.XPath(`//*[@id="wd_printable_content"]/div/div[4]/nav/ul/li[13]/a`),
		DetailBody:       browser.Class("wd_body"),
		DetailCategories: browser.CSS(".wd_category_link_list a"),
	}
}

// Config captures everything the crawl loop needs besides its collaborators.
type Config struct {
	Source           string
	StartURL         string
	Selectors        Selectors
	VisitDetail      bool
	MaxPages         int
	DefaultMaxCount  int
	ElementTimeout   time.Duration
	PageSettle       time.Duration
	PaginationSettle time.Duration
	ConsentSettle    time.Duration
	NavigationQPS    float64
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source name must be set")
	}
	u, err := url.Parse(c.StartURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("start url %q must be absolute", c.StartURL)
	}
	required := map[string]browser.Locator{
		"container": c.Selectors.Container,
		"item":      c.Selectors.Item,
		"link":      c.Selectors.Link,
	}
	for name, loc := range required {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("selector %s: %w", name, err)
		}
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages must be >= 0")
	}
	if c.DefaultMaxCount < 0 {
		return fmt.Errorf("default max count must be >= 0")
	}
	if c.NavigationQPS < 0 {
		return fmt.Errorf("navigation qps must be >= 0")
	}
	return nil
}
