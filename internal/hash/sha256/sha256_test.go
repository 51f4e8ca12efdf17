// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import (
	"errors"
	"strings"
	"testing"
)

const helloWorld = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got != helloWorld {
		t.Fatalf("expected %s, got %s", helloWorld, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestHasherHashReaderMatchesHash checks stream and buffer digests agree.
func TestHasherHashReaderMatchesHash(t *testing.T) {
	t.Parallel()

	got, err := New().HashReader(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("HashReader() error = %v", err)
	}
	if got != helloWorld {
		t.Fatalf("expected %s, got %s", helloWorld, got)
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

// TestHasherHashReaderError surfaces read failures.
func TestHasherHashReaderError(t *testing.T) {
	t.Parallel()

	if _, err := New().HashReader(brokenReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}
}
