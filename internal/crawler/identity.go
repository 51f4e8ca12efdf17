package crawler

import (
	"errors"
	"fmt"
)

// IdentityHash digests the stable identity of a document: its normalized
// title and canonical link. Re-scraped differences in other fields do not
// change it.
func IdentityHash(h Hasher, title, link string) (string, error) {
	if h == nil {
		return "", errors.New("hasher is required")
	}
	canonical, err := canonicalizeURL(link)
	if err != nil {
		canonical = collapseSpace(link)
	}
	payload := collapseSpace(title) + "\n" + canonical
	sum, err := h.Hash([]byte(payload))
	if err != nil {
		return "", fmt.Errorf("hash identity: %w", err)
	}
	return sum, nil
}
