package crawler

import (
	"regexp"
	"strings"
)

// Readiness marker selectors, checked in priority order on every poll.
// Content markers win over terminal-state markers so a populated profile
// is never misread off a stale banner.
var (
	contentSelectors = []string{
		"[data-photo-id]",
		"article[data-entry-id]",
		"[data-gallery-id]",
	}
	privateSelectors = []string{
		"[data-profile-state=\"private\"]",
		".profile-private",
	}
	notFoundSelectors = []string{
		"[data-profile-state=\"not-found\"]",
		".profile-missing",
	}
	emptySelectors = []string{
		"[data-profile-state=\"empty\"]",
		".profile-empty",
	}
)

func readinessSelectors() []string {
	var all []string
	all = append(all, contentSelectors...)
	all = append(all, privateSelectors...)
	all = append(all, notFoundSelectors...)
	all = append(all, emptySelectors...)
	return all
}

func classifySelector(matched string) ProfileState {
	switch {
	case contains(privateSelectors, matched):
		return StatePrivate
	case contains(notFoundSelectors, matched):
		return StateNotFound
	case contains(emptySelectors, matched):
		return StateEmpty
	default:
		return StateOK
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isJSONContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

// contentHrefPattern matches content permalinks and captures the trailing
// identifier segment.
var contentHrefPattern = regexp.MustCompile(`/(?:photo|gallery|journal)/([A-Za-z0-9_-]+)`)

// idAttrPattern pulls stable-id data attributes straight from markup; the
// scroll loop only needs counting, not full parsing.
var idAttrPattern = regexp.MustCompile(`data-(?:photo|entry|gallery)-id="([^"]+)"`)

// collectDOMIDs harvests content identifiers visible in a DOM snapshot.
func collectDOMIDs(html string) []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, m := range idAttrPattern.FindAllStringSubmatch(html, -1) {
		add(m[1])
	}
	for _, m := range contentHrefPattern.FindAllStringSubmatch(html, -1) {
		add(m[1])
	}
	return ids
}
