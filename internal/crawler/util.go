package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errUnsupportedLink = errors.New("unsupported link scheme")

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveLink resolves raw against base and canonicalizes the result. Only
// http and https links are accepted.
func resolveLink(base, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty link")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	if base != "" && !ref.IsAbs() {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		ref = baseURL.ResolveReference(ref)
	}
	canonical, err := canonicalizeURL(ref.String())
	if err != nil {
		return "", err
	}
	return canonical, nil
}

func canonicalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", errUnsupportedLink, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("link has no host")
	}
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Scheme == "http" {
		parsed.Host = strings.TrimSuffix(parsed.Host, ":80")
	}
	if parsed.Scheme == "https" {
		parsed.Host = strings.TrimSuffix(parsed.Host, ":443")
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = parsed.Query().Encode()
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
		parsed.RawPath = ""
	}
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String(), nil
}
