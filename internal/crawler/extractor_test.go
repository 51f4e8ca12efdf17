package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsroom-crawler/internal/browser"
)

func TestExtractorListing(t *testing.T) {
	sel := DefaultSelectors()
	ex := NewExtractor(sel, nil)
	item := newsItem(sel, "  PayPal   launches\n thing ", "March 5, 2024", "Summary", "/news/thing/")

	fields := ex.Listing(context.Background(), item, "https://Newsroom.Example.com/news?page=2")
	require.Empty(t, fields.Failures)
	assert.Equal(t, "PayPal launches thing", *fields.Title)
	assert.Equal(t, "March 5, 2024", *fields.DateText)
	assert.Equal(t, "Summary", *fields.Abstract)
	assert.Equal(t, "https://newsroom.example.com/news/thing", *fields.Link)
}

func TestExtractorListingRecordsFailuresIndependently(t *testing.T) {
	sel := DefaultSelectors()
	ex := NewExtractor(sel, nil)
	item := newsItem(sel, "", "", "", "mailto:press@example.com")

	fields := ex.Listing(context.Background(), item, "https://newsroom.example.com/news")
	assert.Nil(t, fields.Title)
	assert.Nil(t, fields.DateText)
	assert.Nil(t, fields.Abstract)
	assert.Nil(t, fields.Link)
	assert.Len(t, fields.Failures, 4)
	assert.ErrorIs(t, fields.Failures[FieldTitle], browser.ErrNotFound)
	assert.ErrorIs(t, fields.Failures[FieldLink], errUnsupportedLink)
}

func TestExtractorCandidate(t *testing.T) {
	ex := NewExtractor(DefaultSelectors(), time.UTC)
	title, link, date := "Title", "https://x.test/a", "2024-01-02"

	doc, ok := ex.Candidate("PayPal", ListingFields{Title: &title, Link: &link, DateText: &date})
	require.True(t, ok)
	assert.Equal(t, "Title", doc.Title)
	assert.Equal(t, "", doc.Abstract)
	require.NotNil(t, doc.PublicationDate)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *doc.PublicationDate)

	_, ok = ex.Candidate("PayPal", ListingFields{Title: &title})
	assert.False(t, ok, "candidate without link is rejected")
}

func TestExtractorDetail(t *testing.T) {
	sel := DefaultSelectors()
	ex := NewExtractor(sel, nil)
	page := &fakeTab{session: &fakeSession{details: map[string]*fakeElement{
		"https://x.test/a": detailPage(sel, "<p>Body</p>", "Stories", ""),
	}}, url: "https://x.test/a"}

	fields := ex.Detail(context.Background(), page)
	require.Empty(t, fields.Failures)
	assert.Equal(t, "Body", *fields.Text)
	assert.Equal(t, []string{"Stories"}, fields.Categories)

	empty := &fakeTab{session: &fakeSession{details: map[string]*fakeElement{}}}
	fields = ex.Detail(context.Background(), empty)
	assert.Nil(t, fields.Text)
	assert.Contains(t, fields.Failures, FieldText)
}

func TestApplyDetail(t *testing.T) {
	doc := Document{Title: "A"}
	text := "body"
	ApplyDetail(&doc, DetailFields{Text: &text, Categories: []string{"News"}})
	require.NotNil(t, doc.Text)
	assert.Equal(t, "body", *doc.Text)
	assert.Equal(t, []string{"News"}, doc.OtherData[FieldCategories])

	untouched := Document{Title: "B"}
	ApplyDetail(&untouched, DetailFields{})
	assert.Nil(t, untouched.Text)
	assert.Nil(t, untouched.OtherData)
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"paragraphs", "<p>One</p><p>Two</p>", "One\n\nTwo"},
		{"nested list", "<ul><li>A <p>inner</p></li><li>B</li></ul>", "A inner\n\nB"},
		{"plain text", "<div>just   text</div>", "just text"},
		{"scripts removed", "<p>Keep</p><script>var x = 1;</script><style>p{}</style>", "Keep"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := htmlToText(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
