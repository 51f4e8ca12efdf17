// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// Document is one extracted news item handed to the downstream platform.
type Document struct {
	ID              string         `json:"id"`
	Source          string         `json:"source"`
	Title           string         `json:"title"`
	Abstract        string         `json:"abstract"`
	Text            *string        `json:"text,omitempty"`
	PublicationDate *time.Time     `json:"publication_date,omitempty"`
	WebLink         string         `json:"web_link"`
	OtherData       map[string]any `json:"other_data,omitempty"`
	LoadTimestamp   time.Time      `json:"load_timestamp"`
	IdentityHash    string         `json:"identity_hash"`
}

// LogLine renders the document for the per-document log entry.
func (d Document) LogLine() string {
	date := "<none>"
	if d.PublicationDate != nil {
		date = d.PublicationDate.Format(time.RFC3339)
	}
	return fmt.Sprintf("Find document | name: %s | link to web: %s | publication date: %s", d.Title, d.WebLink, date)
}

// Watermark references the newest document processed by a prior run.
type Watermark struct {
	IdentityHash string `json:"identity_hash"`
}

// WatermarkFrom builds a watermark from a stored document. A nil document
// yields a nil watermark.
func WatermarkFrom(doc *Document) *Watermark {
	if doc == nil || doc.IdentityHash == "" {
		return nil
	}
	return &Watermark{IdentityHash: doc.IdentityHash}
}

// State is the crawl loop state.
type State string

// Crawl loop states.
const (
	StateListing State = "LISTING"
	StateDetail  State = "DETAIL"
	StateDone    State = "DONE"
)

// HaltReason explains why a run reached StateDone.
type HaltReason string

// Halt reasons reported in Result.
const (
	ReasonExhausted HaltReason = "exhausted"
	ReasonLimit     HaltReason = "limit"
	ReasonWatermark HaltReason = "watermark"
	ReasonPageLimit HaltReason = "page_limit"
	ReasonFatal     HaltReason = "fatal"
)

// RunParams are the per-run knobs supplied by the caller.
type RunParams struct {
	MaxCount  int        `json:"max_count"`
	Watermark *Watermark `json:"watermark,omitempty"`
}

// Result is what a run hands back, including partial results on fatal errors.
type Result struct {
	Documents []Document `json:"documents"`
	Reason    HaltReason `json:"reason"`
	Pages     int        `json:"pages"`
	Skipped   int        `json:"skipped"`
}
