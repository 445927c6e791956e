package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"musearchive/pkg/logger"
)

// maxCapturedBody bounds the size of a retained response body.
const maxCapturedBody = 512 * 1024

// pollInterval is the selector polling cadence for WaitForAny.
const pollInterval = 250 * time.Millisecond

// Options configures a Chrome-backed session.
type Options struct {
	UserAgent string
	Headful   bool
	// ResponseBufferLimit caps how many network responses are retained.
	ResponseBufferLimit int
}

// ChromeSession implements Session on top of a headless Chrome instance
// driven through the DevTools protocol.
type ChromeSession struct {
	ctx         context.Context
	cancelPage  context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      logger.Logger

	mu        sync.Mutex
	responses []CapturedResponse
	limit     int
	closed    bool
}

// NewChromeSession acquires a browser session. On any acquisition failure
// every partially-acquired resource is released before returning.
func NewChromeSession(opts Options, log logger.Logger) (*ChromeSession, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opts.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=true"),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	pageCtx, cancelPage := chromedp.NewContext(allocCtx)

	limit := opts.ResponseBufferLimit
	if limit <= 0 {
		limit = 500
	}

	s := &ChromeSession{
		ctx:         pageCtx,
		cancelPage:  cancelPage,
		cancelAlloc: cancelAlloc,
		logger:      log,
		limit:       limit,
	}

	// Starts the browser process and enables network observation. Failure
	// here must release both contexts.
	if err := chromedp.Run(pageCtx, network.Enable()); err != nil {
		cancelPage()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	s.observeNetwork()

	return s, nil
}

// observeNetwork retains JSON and HTML response bodies for later ID
// harvesting by the crawl controller.
func (s *ChromeSession) observeNetwork() {
	type pending struct {
		url         string
		status      int
		contentType string
	}
	inflight := make(map[network.RequestID]pending)
	var inflightMu sync.Mutex

	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			ct := strings.ToLower(ev.Response.MimeType)
			if !strings.Contains(ct, "json") && !strings.Contains(ct, "html") {
				return
			}
			inflightMu.Lock()
			inflight[ev.RequestID] = pending{
				url:         ev.Response.URL,
				status:      int(ev.Response.Status),
				contentType: ev.Response.MimeType,
			}
			inflightMu.Unlock()

		case *network.EventLoadingFinished:
			inflightMu.Lock()
			meta, ok := inflight[ev.RequestID]
			delete(inflight, ev.RequestID)
			inflightMu.Unlock()
			if !ok {
				return
			}

			// Body retrieval must not run on the listener goroutine.
			go func(id network.RequestID, meta pending) {
				c := chromedp.FromContext(s.ctx)
				if c == nil {
					return
				}
				body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(s.ctx, c.Target))
				if err != nil {
					return
				}
				if len(body) > maxCapturedBody {
					body = body[:maxCapturedBody]
				}
				s.record(CapturedResponse{
					URL:         meta.url,
					Status:      meta.status,
					ContentType: meta.contentType,
					Body:        body,
				})
			}(ev.RequestID, meta)
		}
	})
}

func (s *ChromeSession) record(resp CapturedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) >= s.limit {
		return
	}
	s.responses = append(s.responses, resp)
}

// bounded derives a run context from the session, carrying over the
// caller's deadline so no browser operation waits unbounded.
func (s *ChromeSession) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(s.ctx, deadline)
	}
	return context.WithCancel(s.ctx)
}

// Navigate loads the URL and reports the main document status. A nil
// navigation response (same-document navigation) is reported as 200.
func (s *ChromeSession) Navigate(ctx context.Context, url string) (int, error) {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if resp == nil {
		return 200, nil
	}
	return int(resp.Status), nil
}

// WaitForAny polls the selectors in priority order until one matches.
// This is deliberate selector polling: network-idle signals are unreliable
// on pages that keep background traffic alive.
func (s *ChromeSession) WaitForAny(ctx context.Context, selectors []string) (string, error) {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for _, sel := range selectors {
			var found bool
			expr := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
			if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &found)); err != nil {
				return "", fmt.Errorf("selector poll failed: %w", err)
			}
			if found {
				return sel, nil
			}
		}

		select {
		case <-runCtx.Done():
			return "", runCtx.Err()
		case <-ticker.C:
		}
	}
}

// Evaluate runs an expression in the page context.
func (s *ChromeSession) Evaluate(ctx context.Context, expr string, out interface{}) error {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Evaluate(expr, out))
}

// ScrollToBottom scrolls the document to its current bottom.
func (s *ChromeSession) ScrollToBottom(ctx context.Context) error {
	return s.Evaluate(ctx, `window.scrollTo(0, document.body.scrollHeight)`, nil)
}

// HTML returns the current full document markup.
func (s *ChromeSession) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page HTML: %w", err)
	}
	return html, nil
}

// Screenshot captures the full page as a PNG.
func (s *ChromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Responses returns a copy of the captured network responses.
func (s *ChromeSession) Responses() []CapturedResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedResponse, len(s.responses))
	copy(out, s.responses)
	return out
}

// FetchViaSession retrieves a URL with an in-page fetch call, so the
// session's cookies and identity ride along. The body comes back base64
// encoded to survive the protocol round trip.
func (s *ChromeSession) FetchViaSession(ctx context.Context, url string) (*SessionResponse, error) {
	runCtx, cancel := s.bounded(ctx)
	defer cancel()

	expr := fmt.Sprintf(`(async () => {
		const resp = await fetch(%q, {credentials: 'include'});
		const buf = await resp.arrayBuffer();
		const bytes = new Uint8Array(buf);
		let binary = '';
		const chunk = 0x8000;
		for (let i = 0; i < bytes.length; i += chunk) {
			binary += String.fromCharCode.apply(null, bytes.subarray(i, i + chunk));
		}
		return {
			status: resp.status,
			contentType: resp.headers.get('content-type') || '',
			body: btoa(binary),
		};
	})()`, url)

	var result struct {
		Status      int    `json:"status"`
		ContentType string `json:"contentType"`
		Body        string `json:"body"`
	}

	err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &result,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		return nil, fmt.Errorf("session fetch of %s failed: %w", url, err)
	}

	body, err := base64.StdEncoding.DecodeString(result.Body)
	if err != nil {
		return nil, fmt.Errorf("session fetch of %s returned undecodable body: %w", url, err)
	}

	return &SessionResponse{
		Status:      result.Status,
		ContentType: result.ContentType,
		Body:        body,
	}, nil
}

// Close releases page then allocator. Each step is attempted regardless of
// earlier failures, and repeated calls are no-ops.
func (s *ChromeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := chromedp.Cancel(s.ctx); err != nil && s.logger != nil {
		s.logger.WarnWithFields("graceful browser shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.cancelPage()
	s.cancelAlloc()
	return nil
}
