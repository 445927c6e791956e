// Package normalize holds the pure naming rules of the archive: canonical
// asset URLs, resolution selection, stable content IDs, collision-proof
// slugs, and media filenames. Every on-disk path is derived through this
// package so no other component re-implements naming.
package normalize

import (
	"fmt"
	"net/url"
	"strings"
)

// Result is the outcome of a URL normalization. Normalization failures are
// expected, frequent outcomes on the hot path, so they are carried as a
// reason string instead of an error.
type Result struct {
	URL    string
	Reason string
	Input  string
}

// OK reports whether normalization succeeded.
func (r Result) OK() bool {
	return r.Reason == ""
}

func reject(input, format string, args ...interface{}) Result {
	return Result{Input: input, Reason: fmt.Sprintf(format, args...)}
}

// NormalizeAssetURL canonicalizes a remote asset URL. Protocol-relative URLs
// become https, http upgrades to https, query string and fragment are
// preserved verbatim. Non-http(s) schemes are rejected with a reason naming
// the scheme. The function is idempotent on its own output.
func NormalizeAssetURL(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return reject(raw, "empty URL")
	}

	if strings.HasPrefix(trimmed, "//") {
		trimmed = "https:" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return reject(raw, "Invalid URL: %v", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "http", "https":
	case "":
		return reject(raw, "Invalid URL: missing scheme")
	default:
		return reject(raw, "unsupported scheme %q", scheme+":")
	}

	if parsed.Host == "" {
		return reject(raw, "Invalid URL: missing host")
	}

	// Swap the scheme on the raw string rather than re-serializing the
	// parsed URL, so the query and fragment survive byte for byte.
	normalized := trimmed
	if scheme == "http" {
		normalized = "https" + trimmed[len("http"):]
	}

	return Result{URL: normalized, Input: raw}
}

// Candidate is one variant of an asset offered by the remote page. Width and
// Height are optional (zero means unknown); Density is a pixel-density
// descriptor available on some srcset entries.
type Candidate struct {
	URL     string
	Width   int
	Height  int
	Density float64
}

// densityWidth converts a pixel-density descriptor to a comparable width.
// The linear scale is arbitrary; only its ordering is meaningful.
const densityWidthScale = 1000

func (c Candidate) effectiveWidth() int {
	if c.Width > 0 {
		return c.Width
	}
	if c.Density > 0 {
		return int(c.Density * densityWidthScale)
	}
	return 0
}

// SelectHighestResolution picks the best variant: widest first, ties broken
// by height, then by longest URL as a last-resort proxy for resolution.
// Returns false for an empty candidate list.
func SelectHighestResolution(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if betterCandidate(c, best) {
			best = c
		}
	}
	return best, true
}

func betterCandidate(a, b Candidate) bool {
	aw, bw := a.effectiveWidth(), b.effectiveWidth()
	if aw != bw {
		return aw > bw
	}
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	return len(a.URL) > len(b.URL)
}
