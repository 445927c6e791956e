package download

import (
	"strings"
)

// blockScanLimit bounds how much of an HTML body is scanned for
// challenge markers.
const blockScanLimit = 8 * 1024

// blockMarkers are substrings that identify an anti-automation challenge
// page. Matching is case-insensitive over the first blockScanLimit bytes.
var blockMarkers = []string{
	"access denied",
	"captcha",
	"just a moment",
	"attention required",
	"checking your browser",
	"unusual traffic",
	"request blocked",
	"verify you are human",
}

// BlockVerdict describes why a response was classified as blocked.
type BlockVerdict struct {
	Blocked bool
	// Marker is the matched challenge marker, empty when the block was
	// signalled by status code alone.
	Marker string
}

// DetectBlock screens a response for anti-automation blocking. Status 403
// is an immediate block regardless of content type. HTML responses have
// the first 8 KiB of their body scanned case-insensitively for known
// challenge markers. Non-HTML bodies are never scanned.
func DetectBlock(status int, contentType string, body []byte) BlockVerdict {
	if status == 403 {
		return BlockVerdict{Blocked: true}
	}
	if !isHTMLContentType(contentType) {
		return BlockVerdict{}
	}
	scan := body
	if len(scan) > blockScanLimit {
		scan = scan[:blockScanLimit]
	}
	lower := strings.ToLower(string(scan))
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return BlockVerdict{Blocked: true, Marker: marker}
		}
	}
	return BlockVerdict{}
}

func isHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
