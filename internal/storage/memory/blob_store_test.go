package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "batches/run.jsonl", "application/x-ndjson", bytes.NewBufferString("content"))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://batches/run.jsonl" {
		t.Fatalf("unexpected uri %s", uri)
	}

	data, contentType, ok := store.Object("batches/run.jsonl")
	if !ok || string(data) != "content" || contentType != "application/x-ndjson" {
		t.Fatalf("unexpected object %q %q %v", data, contentType, ok)
	}
	data[0] = 'C'
	again, _, _ := store.Object("batches/run.jsonl")
	if string(again) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := NewBlobStore().PutObject(context.Background(), " ", "", bytes.NewBufferString("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, _, ok := NewBlobStore().Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
