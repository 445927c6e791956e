// Package browser abstracts the scripted browser session behind a small
// capability interface: navigate, wait for one of several selectors,
// evaluate in page, observe network responses, and fetch through the
// session's own network layer. The crawl controller and the download
// pipeline's fallback transport depend only on the interface, so tests can
// run against fakes and implementations may back it with any headless
// driver.
package browser

import "context"

// CapturedResponse is one network response observed during a page session.
// Bodies are only retained for JSON and HTML responses, bounded in size.
type CapturedResponse struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// SessionResponse is the outcome of a fetch performed through the browser
// session's network layer, carrying the session's cookies and identity.
type SessionResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Session is a scoped browser automation session. Every implementation
// must make Close safe to call on any exit path, including after a partial
// acquisition failure.
type Session interface {
	// Navigate loads a URL and returns the main document's HTTP status.
	Navigate(ctx context.Context, url string) (int, error)

	// WaitForAny polls until one of the selectors matches an element,
	// returning the matched selector. Selectors are checked in the given
	// priority order on every poll. Context deadline bounds the wait.
	WaitForAny(ctx context.Context, selectors []string) (string, error)

	// Evaluate runs a JavaScript expression in the page, decoding the
	// result into out when out is non-nil.
	Evaluate(ctx context.Context, expr string, out interface{}) error

	// ScrollToBottom triggers a scroll to the document's bottom.
	ScrollToBottom(ctx context.Context) error

	// HTML returns the full current document markup.
	HTML(ctx context.Context) (string, error)

	// Screenshot captures the current viewport as a PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Responses returns the network responses captured so far.
	Responses() []CapturedResponse

	// FetchViaSession retrieves a URL through the page's own network
	// layer, capturing the body directly rather than rendering it.
	FetchViaSession(ctx context.Context, url string) (*SessionResponse, error)

	// Close releases the session. Tolerant of repeated calls.
	Close() error
}
