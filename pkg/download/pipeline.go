// Package download resolves the classified work queue into files on disk.
// Items are processed strictly in sequence with a randomized pause between
// them. A blocked primary fetch falls back to the browser session's own
// network layer, which carries the session's cookies and identity.
package download

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"musearchive/pkg/browser"
	"musearchive/pkg/config"
	"musearchive/pkg/diff"
	errs "musearchive/pkg/errors"
	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
	"musearchive/pkg/normalize"
	"musearchive/pkg/ratelimit"
	"musearchive/pkg/retry"
)

// Stats accumulates per-run download outcomes.
type Stats struct {
	Attempted  int
	Succeeded  int
	Skipped    int
	Downloaded int
	Failed     int

	// DownloadedIDs lists the stable IDs of newly written files, in
	// queue order.
	DownloadedIDs []string

	// DownloadedSizes maps those IDs to the byte count written, recorded
	// into the manifest so later runs can re-validate the local files.
	DownloadedSizes map[string]int64
}

// Pipeline downloads queued items one at a time.
type Pipeline struct {
	// Client performs primary transport fetches. Replaceable in tests.
	Client *http.Client

	// Pacer imposes the inter-item delay. Replaceable in tests.
	Pacer ratelimit.Pacer

	session browser.Session
	layout  manifest.Layout
	cfg     *config.Config
	log     logger.Logger
}

// New creates a download pipeline. session may be nil, in which case the
// fallback transport is unavailable and blocked items fail outright.
func New(cfg *config.Config, session browser.Session, layout manifest.Layout, log logger.Logger) *Pipeline {
	return &Pipeline{
		Client:  &http.Client{Timeout: cfg.Download.Timeout},
		Pacer:   ratelimit.NewJitteredPacer(cfg.Download.DelayMin, cfg.Download.DelayMax),
		session: session,
		layout:  layout,
		cfg:     cfg,
		log:     log,
	}
}

// Run processes the queue in order. Individual item failures are recorded
// and counted but never abort the run. When the failure rate exceeds the
// configured threshold a structured failure report is written under the
// archive's logs directory, keyed by runID.
func (p *Pipeline) Run(ctx context.Context, runID string, queue []diff.Item) (*Stats, error) {
	stats := &Stats{DownloadedSizes: make(map[string]int64)}
	var failures []failureEntry

	for i, item := range queue {
		if i > 0 {
			p.Pacer.Pause()
		}
		stats.Attempted++

		res := p.processItem(ctx, item)
		switch {
		case res.skipped:
			stats.Skipped++
			stats.Succeeded++
			p.log.DebugWithFields("item already on disk, skipping", map[string]interface{}{
				"id": item.ID,
			})
		case res.err == nil:
			stats.Downloaded++
			stats.Succeeded++
			stats.DownloadedIDs = append(stats.DownloadedIDs, item.ID)
			stats.DownloadedSizes[item.ID] = res.written
		default:
			stats.Failed++
			p.log.WarnWithFields("item download failed", map[string]interface{}{
				"id":    item.ID,
				"url":   item.URL,
				"error": res.err.Error(),
			})
			failures = append(failures, newFailureEntry(item, res))
		}
	}

	if stats.Attempted > 0 {
		rate := float64(stats.Failed) / float64(stats.Attempted)
		if rate > p.cfg.Download.FailureReportThreshold && len(failures) > 0 {
			if err := p.writeFailureReport(runID, stats, rate, failures); err != nil {
				p.log.WithError(err).Warn("could not write failure report")
			}
		}
	}
	return stats, nil
}

// fetched is a completed transport response.
type fetched struct {
	status      int
	contentType string
	body        []byte
}

// itemResult captures one item's journey through the pipeline, including
// the last attempt on each transport for the failure report.
type itemResult struct {
	skipped       bool
	err           error
	written       int64
	normalizedURL string
	primary       *attemptRecord
	fallback      *attemptRecord
}

func (p *Pipeline) processItem(ctx context.Context, item diff.Item) itemResult {
	out := itemResult{}

	norm := normalize.NormalizeAssetURL(item.URL)
	if !norm.OK() {
		out.err = errs.New(errs.KindDownloadFailure, "unusable asset URL").WithDetail(norm.Reason)
		return out
	}
	out.normalizedURL = norm.URL

	path := p.layout.MediaPath(item.ID, item.ContentType)
	if diff.ValidateLocalFile(path, item.ExpectedSize) {
		out.skipped = true
		return out
	}

	primary := &attemptRecord{Transport: "direct"}
	out.primary = primary

	rcfg := retry.FromPolicy(p.cfg.Retry.MaxAttempts, p.cfg.Retry.BaseDelay,
		p.cfg.Retry.MaxDelay, p.cfg.Retry.JitterMax, p.log)
	rcfg.Context = ctx
	resp, err := retry.DoWithResult(func() (*fetched, error) {
		f, ferr := p.fetchDirect(ctx, norm.URL)
		primary.record(f, ferr)
		return f, ferr
	}, rcfg)

	if isBlockedErr(err) {
		fallbackResp, ferr := p.fetchViaSession(ctx, norm.URL, &out)
		if ferr != nil {
			out.err = ferr
			return out
		}
		resp, err = fallbackResp, nil
	}
	if err != nil {
		out.err = err
		return out
	}

	if item.ExpectedSize > 0 && int64(len(resp.body)) != item.ExpectedSize {
		p.log.WarnWithFields("downloaded size differs from advisory expected size", map[string]interface{}{
			"id":       item.ID,
			"expected": item.ExpectedSize,
			"actual":   len(resp.body),
		})
	}

	if err := writeAtomic(path, resp.body); err != nil {
		out.err = errs.Wrap(errs.KindDownloadFailure, "could not persist downloaded file", err)
		return out
	}
	out.written = int64(len(resp.body))
	return out
}

// fetchDirect performs one primary-transport attempt. The returned fetched
// is non-nil whenever a response was received, even on classification
// failure, so callers can record its status and content type.
func (p *Pipeline) fetchDirect(ctx context.Context, url string) (*fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindDownloadFailure, "could not build request", err)
	}
	req.Header.Set("User-Agent", p.cfg.Crawl.UserAgent)

	httpResp, err := p.Client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "request failed", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "could not read response body", err)
	}

	f := &fetched{
		status:      httpResp.StatusCode,
		contentType: httpResp.Header.Get("Content-Type"),
		body:        body,
	}
	return f, classifyResponse(f)
}

// fetchViaSession retries a blocked item through the browser session's
// network layer, screening the result with the same block detection.
func (p *Pipeline) fetchViaSession(ctx context.Context, url string, out *itemResult) (*fetched, error) {
	if p.session == nil {
		return nil, errs.New(errs.KindBlocked, "primary transport blocked and no browser session available for fallback")
	}

	fallback := &attemptRecord{Transport: "session"}
	out.fallback = fallback

	sresp, err := p.session.FetchViaSession(ctx, url)
	if err != nil {
		err = errs.Wrap(errs.KindDownloadFailure, "session-backed fetch failed", err)
		fallback.record(nil, err)
		return nil, err
	}

	f := &fetched{status: sresp.Status, contentType: sresp.ContentType, body: sresp.Body}
	cerr := classifyResponse(f)
	fallback.record(f, cerr)
	if cerr != nil {
		return nil, cerr
	}
	return f, nil
}

// classifyResponse turns a transport response into nil (usable) or a typed
// error. Blocked responses are never retried on the same transport; the
// classifier marks them with a non-retryable kind and status code.
func classifyResponse(f *fetched) error {
	verdict := DetectBlock(f.status, f.contentType, f.body)
	if verdict.Blocked {
		e := errs.New(errs.KindBlocked, "response blocked by anti-automation challenge").WithCode(f.status)
		if verdict.Marker != "" {
			e = e.WithDetail("matched marker: " + verdict.Marker)
		}
		return e
	}

	switch {
	case f.status == 429:
		return errs.New(errs.KindRateLimit, "rate limited by server").WithCode(f.status)
	case f.status >= 500:
		return errs.New(errs.KindServerError, "server error").WithCode(f.status)
	case f.status < 200 || f.status >= 300:
		return errs.New(errs.KindDownloadFailure, fmt.Sprintf("unexpected status %d", f.status)).WithCode(f.status)
	case len(f.body) == 0:
		return errs.New(errs.KindServerError, "empty response body")
	}
	return nil
}

func isBlockedErr(err error) bool {
	var e *errs.Error
	return goerrors.As(err, &e) && e.Kind == errs.KindBlocked
}

// writeAtomic writes body to a temporary sibling and renames it into
// place, so a killed process never leaves a truncated target visible.
func writeAtomic(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	tmpPath := path + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := tmpFile.Write(body); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file body: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// attemptRecord is the last attempt observed on one transport.
type attemptRecord struct {
	Transport   string `json:"transport"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Marker      string `json:"marker,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (a *attemptRecord) record(f *fetched, err error) {
	if f != nil {
		a.Status = f.status
		a.ContentType = f.contentType
	}
	if err != nil {
		a.Error = err.Error()
		var e *errs.Error
		if goerrors.As(err, &e) && e.Kind == errs.KindBlocked {
			a.Marker = e.Detail
		}
	} else {
		a.Error = ""
		a.Marker = ""
	}
}

type failureEntry struct {
	ID            string         `json:"id"`
	OriginalURL   string         `json:"original_url"`
	NormalizedURL string         `json:"normalized_url,omitempty"`
	Reason        string         `json:"reason"`
	Primary       *attemptRecord `json:"primary,omitempty"`
	Fallback      *attemptRecord `json:"fallback,omitempty"`
	RecoveryHints []string       `json:"recovery_hints"`
}

func newFailureEntry(item diff.Item, res itemResult) failureEntry {
	openURL := res.normalizedURL
	if openURL == "" {
		openURL = item.URL
	}
	return failureEntry{
		ID:            item.ID,
		OriginalURL:   item.URL,
		NormalizedURL: res.normalizedURL,
		Reason:        res.err.Error(),
		Primary:       res.primary,
		Fallback:      res.fallback,
		RecoveryHints: []string{
			fmt.Sprintf("open %s directly in a browser and save the file manually", openURL),
			fmt.Sprintf("inspect the profile page's network traffic filtered by %q to find a working asset URL", item.ID),
		},
	}
}

type failureReport struct {
	RunID       string         `json:"run_id"`
	Attempted   int            `json:"attempted"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	FailureRate float64        `json:"failure_rate"`
	Verdict     string         `json:"verdict"`
	Failures    []failureEntry `json:"failures"`
}

func (p *Pipeline) writeFailureReport(runID string, stats *Stats, rate float64, failures []failureEntry) error {
	report := failureReport{
		RunID:       runID,
		Attempted:   stats.Attempted,
		Succeeded:   stats.Succeeded,
		Failed:      stats.Failed,
		FailureRate: rate,
		Verdict:     fmt.Sprintf("failure rate %.0f%% exceeds threshold %.0f%%", rate*100, p.cfg.Download.FailureReportThreshold*100),
		Failures:    failures,
	}

	if err := os.MkdirAll(p.layout.LogsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize failure report: %w", err)
	}

	path := p.layout.FailureReportPath(runID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write failure report: %w", err)
	}
	p.log.WarnWithFields("failure report written", map[string]interface{}{
		"path":   path,
		"failed": stats.Failed,
	})
	return nil
}
