// Package memory keeps documents and blobs in process memory for local runs
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/newsroom-crawler/internal/crawler"
)

// DocumentStore keeps saved batches per source in insertion order.
type DocumentStore struct {
	mu      sync.RWMutex
	batches map[string][][]crawler.Document
	hashes  map[string]struct{}
}

// NewDocumentStore constructs an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		batches: make(map[string][][]crawler.Document),
		hashes:  make(map[string]struct{}),
	}
}

// SaveBatch stores docs as one batch. Documents with an identity hash that is
// already stored are dropped.
func (s *DocumentStore) SaveBatch(_ context.Context, docs []crawler.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySource := make(map[string][]crawler.Document)
	var order []string
	for _, doc := range docs {
		if _, seen := s.hashes[doc.IdentityHash]; seen {
			continue
		}
		s.hashes[doc.IdentityHash] = struct{}{}
		if _, ok := bySource[doc.Source]; !ok {
			order = append(order, doc.Source)
		}
		bySource[doc.Source] = append(bySource[doc.Source], doc)
	}
	for _, source := range order {
		s.batches[source] = append(s.batches[source], bySource[source])
	}
	return nil
}

// Latest returns the first document of the most recent batch for source.
func (s *DocumentStore) Latest(_ context.Context, source string) (*crawler.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batches := s.batches[source]
	if len(batches) == 0 {
		return nil, nil
	}
	doc := batches[len(batches)-1][0]
	return &doc, nil
}

// Documents returns every stored document for source, oldest batch first.
func (s *DocumentStore) Documents(source string) []crawler.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Document
	for _, batch := range s.batches[source] {
		out = append(out, batch...)
	}
	return out
}
