package crawler

import (
	"context"
	"io"
	"time"
)

// DocumentStore persists accepted documents and serves the watermark.
type DocumentStore interface {
	Latest(ctx context.Context, source string) (*Document, error)
	SaveBatch(ctx context.Context, docs []Document) error
}

// BlobStore writes exported batches and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes batch completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for identity hashing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces document and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
