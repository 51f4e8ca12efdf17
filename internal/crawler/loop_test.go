package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCrawler(t *testing.T, sess *fakeSession, mutate func(*Config)) *Crawler {
	t.Helper()
	cfg := Config{
		Source:    "PayPal",
		StartURL:  "https://newsroom.example.com/news",
		Selectors: DefaultSelectors(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &stepClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), step: time.Second}
	c, err := New(cfg, sess, testHasher{}, clock, &seqIDs{}, zap.NewNop())
	require.NoError(t, err)
	c.pauser = noPause{}
	return c
}

func threeItems(sel Selectors) (*fakeElement, []*fakeElement) {
	items := []*fakeElement{
		newsItem(sel, "Story A", "March 5, 2024", "Summary A", "/2024-03-05-a"),
		newsItem(sel, "Story B", "March 4, 2024", "Summary B", "/2024-03-04-b"),
		newsItem(sel, "Story C", "March 3, 2024", "Summary C", "/2024-03-03-c"),
	}
	return listing(sel, items...), items
}

func titles(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Title)
	}
	return out
}

func hashFor(t *testing.T, title, link string) string {
	t.Helper()
	h, err := IdentityHash(testHasher{}, title, link)
	require.NoError(t, err)
	return h
}

func TestRunExhaustsListing(t *testing.T) {
	sel := DefaultSelectors()
	page, _ := threeItems(sel)
	sess := newFakeSession(sel, page)
	c := newTestCrawler(t, sess, nil)

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)

	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, []string{"Story A", "Story B", "Story C"}, titles(res.Documents))
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, StateDone, c.State())

	a := res.Documents[0]
	assert.Equal(t, "PayPal", a.Source)
	assert.Equal(t, "Summary A", a.Abstract)
	assert.Equal(t, "https://newsroom.example.com/2024-03-05-a", a.WebLink)
	require.NotNil(t, a.PublicationDate)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), *a.PublicationDate)
	assert.Equal(t, "doc-1", a.ID)
	assert.Equal(t, hashFor(t, "Story A", a.WebLink), a.IdentityHash)
	assert.Nil(t, a.Text)
	assert.Equal(t, []string{"https://newsroom.example.com/news"}, sess.navigations)
}

func TestRunStopsAtMaxCount(t *testing.T) {
	sel := DefaultSelectors()
	page, items := threeItems(sel)
	c := newTestCrawler(t, newFakeSession(sel, page), nil)

	res, err := c.Run(context.Background(), RunParams{MaxCount: 2})
	require.NoError(t, err)

	assert.Equal(t, ReasonLimit, res.Reason)
	assert.Equal(t, []string{"Story A", "Story B"}, titles(res.Documents))
	assert.Zero(t, items[2].readCount(), "item past the limit must not be processed")
}

func TestRunStopsAtWatermark(t *testing.T) {
	sel := DefaultSelectors()
	page, items := threeItems(sel)
	c := newTestCrawler(t, newFakeSession(sel, page), nil)

	wm := &Watermark{IdentityHash: hashFor(t, "Story B", "https://newsroom.example.com/2024-03-04-b")}
	res, err := c.Run(context.Background(), RunParams{MaxCount: 10, Watermark: wm})
	require.NoError(t, err)

	assert.Equal(t, ReasonWatermark, res.Reason)
	assert.Equal(t, []string{"Story A"}, titles(res.Documents))
	assert.Zero(t, items[2].readCount())
}

func TestRunWithDetailVisitsHonorsStops(t *testing.T) {
	sel := DefaultSelectors()
	detailed := func(cfg *Config) { cfg.VisitDetail = true }
	withDetails := func(sess *fakeSession) {
		for _, link := range []string{"2024-03-05-a", "2024-03-04-b", "2024-03-03-c"} {
			sess.details["https://newsroom.example.com/"+link] = detailPage(sel, "<p>Body "+link+"</p>")
		}
	}

	t.Run("max count", func(t *testing.T) {
		page, items := threeItems(sel)
		sess := newFakeSession(sel, page)
		withDetails(sess)
		c := newTestCrawler(t, sess, detailed)

		res, err := c.Run(context.Background(), RunParams{MaxCount: 2})
		require.NoError(t, err)
		assert.Equal(t, ReasonLimit, res.Reason)
		assert.Equal(t, []string{"Story A", "Story B"}, titles(res.Documents))
		require.NotNil(t, res.Documents[1].Text)
		assert.Equal(t, "Body 2024-03-04-b", *res.Documents[1].Text)
		assert.Equal(t, 2, sess.tabsOpened)
		assert.Zero(t, items[2].readCount())
	})

	t.Run("watermark", func(t *testing.T) {
		page, _ := threeItems(sel)
		sess := newFakeSession(sel, page)
		withDetails(sess)
		c := newTestCrawler(t, sess, detailed)

		wm := &Watermark{IdentityHash: hashFor(t, "Story B", "https://newsroom.example.com/2024-03-04-b")}
		res, err := c.Run(context.Background(), RunParams{MaxCount: 10, Watermark: wm})
		require.NoError(t, err)
		assert.Equal(t, ReasonWatermark, res.Reason)
		assert.Equal(t, []string{"Story A"}, titles(res.Documents))
		assert.Equal(t, 1, sess.tabsOpened, "watermark item is never opened")
		assert.Equal(t, sess.tabsOpened, sess.tabsClosed)
	})

	t.Run("idempotent", func(t *testing.T) {
		page, _ := threeItems(sel)
		sess := newFakeSession(sel, page)
		withDetails(sess)
		c := newTestCrawler(t, sess, detailed)

		first, err := c.Run(context.Background(), RunParams{MaxCount: 10})
		require.NoError(t, err)
		require.Len(t, first.Documents, 3)

		sess.current = 0
		opened := sess.tabsOpened
		second, err := c.Run(context.Background(), RunParams{MaxCount: 10, Watermark: WatermarkFrom(&first.Documents[0])})
		require.NoError(t, err)
		assert.Empty(t, second.Documents)
		assert.Equal(t, opened, sess.tabsOpened)
	})
}

func TestRunWatermarkOnFirstItemYieldsEmptyBatch(t *testing.T) {
	sel := DefaultSelectors()
	page, _ := threeItems(sel)
	c := newTestCrawler(t, newFakeSession(sel, page), nil)

	wm := &Watermark{IdentityHash: hashFor(t, "Story A", "https://newsroom.example.com/2024-03-05-a")}
	res, err := c.Run(context.Background(), RunParams{MaxCount: 10, Watermark: wm})
	require.NoError(t, err)
	assert.Equal(t, ReasonWatermark, res.Reason)
	assert.Empty(t, res.Documents)
}

func TestRunIsIdempotentAgainstUnchangedListing(t *testing.T) {
	sel := DefaultSelectors()
	page, _ := threeItems(sel)
	sess := newFakeSession(sel, page)
	c := newTestCrawler(t, sess, nil)

	first, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)
	require.Len(t, first.Documents, 3)

	sess.current = 0
	second, err := c.Run(context.Background(), RunParams{
		MaxCount:  10,
		Watermark: WatermarkFrom(&first.Documents[0]),
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonWatermark, second.Reason)
	assert.Empty(t, second.Documents)
}

func TestRunMissingFieldsUseDefaults(t *testing.T) {
	sel := DefaultSelectors()
	page := listing(sel,
		newsItem(sel, "Undated", "", "", "/undated"),
		newsItem(sel, "No link", "March 2, 2024", "", ""),
		newsItem(sel, "", "Published on March 1, 2024", "Only summary", "/untitled"),
		newsItem(sel, "Bad date", "sometime soon", "", "/bad-date"),
	)
	c := newTestCrawler(t, newFakeSession(sel, page), nil)

	res, err := c.Run(context.Background(), RunParams{MaxCount: 3})
	require.NoError(t, err)

	require.Len(t, res.Documents, 3, "item without a link is skipped and not counted")
	assert.Equal(t, ReasonLimit, res.Reason)
	assert.Equal(t, 1, res.Skipped)

	assert.Equal(t, "Undated", res.Documents[0].Title)
	assert.Nil(t, res.Documents[0].PublicationDate)
	assert.Equal(t, "", res.Documents[0].Abstract)

	assert.Equal(t, "", res.Documents[1].Title)
	require.NotNil(t, res.Documents[1].PublicationDate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *res.Documents[1].PublicationDate)

	assert.Nil(t, res.Documents[2].PublicationDate)
}

func TestRunFollowsPagination(t *testing.T) {
	sel := DefaultSelectors()
	page1 := listing(sel,
		newsItem(sel, "Story A", "", "", "/a"),
		newsItem(sel, "Story B", "", "", "/b"),
	)
	page2 := listing(sel,
		newsItem(sel, "Story C", "", "", "/c"),
		newsItem(sel, "Story D", "", "", "/d"),
	)
	c := newTestCrawler(t, newFakeSession(sel, page1, page2), nil)

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)
	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, []string{"Story A", "Story B", "Story C", "Story D"}, titles(res.Documents))
}

func TestRunWatermarkOnLaterPage(t *testing.T) {
	sel := DefaultSelectors()
	page1 := listing(sel, newsItem(sel, "Story A", "", "", "/a"))
	page2 := listing(sel, newsItem(sel, "Story B", "", "", "/b"), newsItem(sel, "Story C", "", "", "/c"))
	c := newTestCrawler(t, newFakeSession(sel, page1, page2), nil)

	wm := &Watermark{IdentityHash: hashFor(t, "Story C", "https://newsroom.example.com/c")}
	res, err := c.Run(context.Background(), RunParams{MaxCount: 10, Watermark: wm})
	require.NoError(t, err)
	assert.Equal(t, ReasonWatermark, res.Reason)
	assert.Equal(t, []string{"Story A", "Story B"}, titles(res.Documents))
}

func TestRunPageLimit(t *testing.T) {
	sel := DefaultSelectors()
	page1 := listing(sel, newsItem(sel, "Story A", "", "", "/a"))
	page2 := listing(sel, newsItem(sel, "Story B", "", "", "/b"))
	c := newTestCrawler(t, newFakeSession(sel, page1, page2), func(cfg *Config) { cfg.MaxPages = 1 })

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)
	assert.Equal(t, ReasonPageLimit, res.Reason)
	assert.Equal(t, []string{"Story A"}, titles(res.Documents))
}

func TestRunStalledPaginationEndsRun(t *testing.T) {
	sel := DefaultSelectors()
	page1 := listing(sel, newsItem(sel, "Story A", "", "", "/a"))
	page2 := listing(sel, newsItem(sel, "Story B", "", "", "/b"))
	sess := newFakeSession(sel, page1, page2)
	sess.stallNav = true
	c := newTestCrawler(t, sess, nil)

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)
	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, []string{"Story A"}, titles(res.Documents))
}

func TestRunStalledPaginationOverBarrenPagesEndsRun(t *testing.T) {
	sel := DefaultSelectors()
	tests := []struct {
		name    string
		page    func() *fakeElement
		skipped int
	}{
		{"linkless items", func() *fakeElement {
			return listing(sel, newsItem(sel, "No link", "", "", ""), newsItem(sel, "Also none", "", "", ""))
		}, 2 * maxBarrenPages},
		{"empty pages", func() *fakeElement { return listing(sel) }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession(sel, tt.page(), tt.page())
			sess.stallNav = true
			c := newTestCrawler(t, sess, nil)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res, err := c.Run(ctx, RunParams{MaxCount: 10})
			require.NoError(t, err)
			assert.Equal(t, ReasonExhausted, res.Reason)
			assert.Equal(t, maxBarrenPages, res.Pages)
			assert.Equal(t, tt.skipped, res.Skipped)
			assert.Empty(t, res.Documents)
		})
	}
}

func TestRunSkipsSingleBarrenPage(t *testing.T) {
	sel := DefaultSelectors()
	page1 := listing(sel, newsItem(sel, "Story A", "", "", "/a"))
	page2 := listing(sel, newsItem(sel, "No link", "", "", ""))
	page3 := listing(sel, newsItem(sel, "Story C", "", "", "/c"))
	c := newTestCrawler(t, newFakeSession(sel, page1, page2, page3), nil)

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)
	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, []string{"Story A", "Story C"}, titles(res.Documents))
}

func TestRunMissingContainerIsFatalWithPartialResult(t *testing.T) {
	sel := DefaultSelectors()
	page1 := listing(sel, newsItem(sel, "Story A", "", "", "/a"), newsItem(sel, "Story B", "", "", "/b"))
	c := newTestCrawler(t, newFakeSession(sel, page1, nil), nil)

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrListingNotFound))
	assert.Equal(t, ReasonFatal, res.Reason)
	assert.Equal(t, []string{"Story A", "Story B"}, titles(res.Documents))
}

func TestRunNavigationFailureIsFatal(t *testing.T) {
	sel := DefaultSelectors()
	page, _ := threeItems(sel)
	sess := newFakeSession(sel, page)
	sess.navErr = errors.New("net::ERR_CONNECTION_REFUSED")
	c := newTestCrawler(t, sess, nil)

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.Error(t, err)
	assert.Equal(t, ReasonFatal, res.Reason)
	assert.Empty(t, res.Documents)
}

func TestRunCancelledContext(t *testing.T) {
	sel := DefaultSelectors()
	page, _ := threeItems(sel)
	c := newTestCrawler(t, newFakeSession(sel, page), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := c.Run(ctx, RunParams{MaxCount: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, ReasonFatal, res.Reason)
}

func TestRunVisitsDetailInSecondaryTab(t *testing.T) {
	sel := DefaultSelectors()
	page := listing(sel,
		newsItem(sel, "Story A", "", "", "/a"),
		newsItem(sel, "Story B", "", "", "/b"),
	)
	sess := newFakeSession(sel, page)
	sess.details["https://newsroom.example.com/a"] = detailPage(sel,
		`<div><p>First paragraph.</p><p>Second   paragraph.</p><script>track()</script></div>`,
		"Company News", "Products", "Company News",
	)
	c := newTestCrawler(t, sess, func(cfg *Config) { cfg.VisitDetail = true })

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)

	a := res.Documents[0]
	require.NotNil(t, a.Text)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", *a.Text)
	assert.Equal(t, []string{"Company News", "Products"}, a.OtherData[FieldCategories])

	assert.Nil(t, res.Documents[1].Text, "failed detail visit keeps listing fields only")
	assert.Equal(t, 2, sess.tabsOpened)
	assert.Equal(t, sess.tabsOpened, sess.tabsClosed, "every detail tab is closed")
	assert.Len(t, sess.navigations, 1, "main page never leaves the listing")
}

func TestRunDismissesConsent(t *testing.T) {
	sel := DefaultSelectors()
	page, _ := threeItems(sel)
	sess := newFakeSession(sel, page)
	sess.consent = &fakeElement{}
	sess.consent.onClick = func() error {
		sess.consentHits++
		return nil
	}
	c := newTestCrawler(t, sess, nil)

	_, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, sess.consentHits)
}

func TestRunDefaultsMaxCount(t *testing.T) {
	sel := DefaultSelectors()
	page, _ := threeItems(sel)
	c := newTestCrawler(t, newFakeSession(sel, page), func(cfg *Config) { cfg.DefaultMaxCount = 1 })

	res, err := c.Run(context.Background(), RunParams{})
	require.NoError(t, err)
	assert.Equal(t, ReasonLimit, res.Reason)
	assert.Len(t, res.Documents, 1)
}

func TestLoadTimestampNeverDecreases(t *testing.T) {
	sel := DefaultSelectors()
	page, _ := threeItems(sel)
	c := newTestCrawler(t, newFakeSession(sel, page), nil)
	c.clock = &stepClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), step: -time.Minute}

	res, err := c.Run(context.Background(), RunParams{MaxCount: 10})
	require.NoError(t, err)
	for i := 1; i < len(res.Documents); i++ {
		assert.False(t, res.Documents[i].LoadTimestamp.Before(res.Documents[i-1].LoadTimestamp))
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	sess := newFakeSession(DefaultSelectors())
	_, err := New(Config{Source: "PayPal", StartURL: "/news", Selectors: DefaultSelectors()},
		sess, testHasher{}, &stepClock{}, &seqIDs{}, nil)
	require.Error(t, err)

	_, err = New(Config{Source: "PayPal", StartURL: "https://x.test/", Selectors: DefaultSelectors()},
		nil, testHasher{}, &stepClock{}, &seqIDs{}, nil)
	require.Error(t, err)
}
