// Package crawler discovers profile content through a scripted browser
// session: navigate, wait for readiness markers, scroll until the stopping
// rule fires, then extract entities from intercepted network responses and
// the rendered DOM.
package crawler

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"musearchive/pkg/browser"
	"musearchive/pkg/config"
	errs "musearchive/pkg/errors"
	"musearchive/pkg/jsonwalk"
	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
	"musearchive/pkg/retry"
)

// ProfileState is the terminal state discovery reached.
type ProfileState string

const (
	StateOK       ProfileState = "ok"
	StateNotFound ProfileState = "not_found"
	StatePrivate  ProfileState = "private"
	StateEmpty    ProfileState = "empty"
)

// Stop causes recorded for diagnostics when the scroll loop terminates.
const (
	StopNoNewContent = "no_new_content"
	StopCycleCap     = "cycle_cap"
	StopMaxItems     = "max_items"
)

// Entities are the discovered content sets, normalized and ready for
// diffing against the manifest.
type Entities struct {
	Photos    []manifest.Photo
	Galleries []manifest.Gallery
	BlogPosts []manifest.BlogPost
}

// DiscoveryResult is the outcome of one discovery crawl. Err is set only
// for unexpected failures; not-found/private/empty profiles are terminal
// states, not errors.
type DiscoveryResult struct {
	Entities  Entities
	State     ProfileState
	StopCause string
	Err       error
}

// SessionFactory acquires a browser session. The controller owns release
// on every exit path except the success path, where the live session is
// handed to the caller for the download fallback transport.
type SessionFactory func(ctx context.Context) (browser.Session, error)

// Controller runs the discovery crawl.
type Controller struct {
	cfg     *config.Config
	factory SessionFactory
	layout  manifest.Layout
	log     logger.Logger

	// sleep is swappable for tests
	sleep func(time.Duration)
}

// New creates a crawl controller.
func New(cfg *config.Config, factory SessionFactory, layout manifest.Layout, log logger.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		factory: factory,
		layout:  layout,
		log:     log,
		sleep:   time.Sleep,
	}
}

// Discover crawls the profile and returns the discovered entities. On the
// StateOK path the returned session is live so the download pipeline can
// reuse its cookies for the fallback transport; the caller must close it.
// On every other path the session is already released and nil is returned.
func (c *Controller) Discover(ctx context.Context, profileURL, runID string) (*DiscoveryResult, browser.Session) {
	session, err := c.factory(ctx)
	if err != nil {
		return &DiscoveryResult{
			Err: errs.Wrap(errs.KindScrapeFailure, "could not acquire browser session", err),
		}, nil
	}

	result := c.discover(ctx, session, profileURL, runID)
	if result.Err != nil {
		c.captureDiagnostics(ctx, session, "discovery", runID)
	}

	if result.Err == nil && result.State == StateOK {
		return result, session
	}
	if cerr := session.Close(); cerr != nil {
		c.log.WithError(cerr).Warn("browser session close failed")
	}
	return result, nil
}

func (c *Controller) discover(ctx context.Context, session browser.Session, profileURL, runID string) *DiscoveryResult {
	log := c.log.WithFields(map[string]interface{}{
		"run_id": runID,
		"url":    profileURL,
	})

	state, err := c.navigate(ctx, session, profileURL)
	if err != nil {
		return &DiscoveryResult{Err: err}
	}
	if state != StateOK {
		log.InfoWithFields("profile is terminal", map[string]interface{}{"state": string(state)})
		return &DiscoveryResult{State: state}
	}

	state = c.awaitReadiness(ctx, session, log)
	switch state {
	case StatePrivate, StateNotFound:
		log.InfoWithFields("profile is terminal", map[string]interface{}{"state": string(state)})
		return &DiscoveryResult{State: state}
	case StateEmpty:
		log.Info("profile has no discoverable content")
		return &DiscoveryResult{State: StateEmpty}
	}

	ids, stopCause := c.scrollLoop(ctx, session, log)
	log.InfoWithFields("scroll discovery finished", map[string]interface{}{
		"ids":        len(ids),
		"stop_cause": stopCause,
	})

	entities, err := c.extract(ctx, session)
	if err != nil {
		return &DiscoveryResult{StopCause: stopCause, Err: err}
	}

	state = StateOK
	if len(entities.Photos) == 0 && len(entities.Galleries) == 0 && len(entities.BlogPosts) == 0 {
		state = StateEmpty
	}
	return &DiscoveryResult{Entities: *entities, State: state, StopCause: stopCause}
}

// navigate loads the profile URL under the shared retry policy. A 404 is
// the not-found terminal state; other non-2xx statuses are retried.
func (c *Controller) navigate(ctx context.Context, session browser.Session, profileURL string) (ProfileState, error) {
	_, err := retry.DoWithResult(func() (int, error) {
		nctx, cancel := context.WithTimeout(ctx, c.cfg.Crawl.NavigationTimeout)
		defer cancel()

		status, nerr := session.Navigate(nctx, profileURL)
		if nerr != nil {
			return 0, errs.Wrap(errs.KindNetwork, "navigation failed", nerr)
		}
		if status == 404 {
			return status, errs.New(errs.KindProfileNotFound, "profile does not exist").WithCode(status)
		}
		if status < 200 || status >= 300 {
			return status, errs.New(errs.KindNetwork, fmt.Sprintf("unexpected status %d loading profile", status)).WithCode(status)
		}
		return status, nil
	}, c.retryConfig(ctx))

	if err != nil {
		var e *errs.Error
		if goerrors.As(err, &e) && e.Kind == errs.KindProfileNotFound {
			return StateNotFound, nil
		}
		return "", errs.Wrap(errs.KindScrapeFailure, "could not load profile page", err)
	}
	return StateOK, nil
}

// awaitReadiness polls for the first matching readiness marker. A timeout
// without any marker proceeds optimistically as empty-but-crawlable.
func (c *Controller) awaitReadiness(ctx context.Context, session browser.Session, log logger.Logger) ProfileState {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.Crawl.ReadyTimeout)
	defer cancel()

	matched, err := session.WaitForAny(wctx, readinessSelectors())
	if err != nil {
		log.Debug("no readiness marker before timeout, proceeding optimistically")
		return StateOK
	}
	return classifySelector(matched)
}

// scrollLoop drives scroll-to-bottom cycles, unioning content IDs from
// intercepted responses and the DOM until the stopping rule fires.
func (c *Controller) scrollLoop(ctx context.Context, session browser.Session, log logger.Logger) (map[string]struct{}, string) {
	ids := make(map[string]struct{})
	c.collectIDs(ctx, session, ids)

	noNew := 0
	for cycle := 1; cycle <= c.cfg.Crawl.MaxScrollCycles; cycle++ {
		if err := session.ScrollToBottom(ctx); err != nil {
			log.WithError(err).Warn("scroll action failed")
		}
		c.sleep(c.cfg.Crawl.ScrollPause)

		added := c.collectIDs(ctx, session, ids)
		if added == 0 {
			noNew++
		} else {
			noNew = 0
		}
		log.DebugWithFields("scroll cycle complete", map[string]interface{}{
			"cycle":  cycle,
			"added":  added,
			"total":  len(ids),
			"no_new": noNew,
		})

		if noNew >= c.cfg.Crawl.NoNewContentCycles {
			return ids, StopNoNewContent
		}
		if c.cfg.Crawl.MaxItems > 0 && len(ids) >= c.cfg.Crawl.MaxItems {
			return ids, StopMaxItems
		}
	}
	return ids, StopCycleCap
}

// collectIDs harvests content IDs from captured JSON responses and the
// current DOM, returning how many were new.
func (c *Controller) collectIDs(ctx context.Context, session browser.Session, ids map[string]struct{}) int {
	added := 0
	record := func(id string) {
		if _, seen := ids[id]; !seen {
			ids[id] = struct{}{}
			added++
		}
	}

	for _, resp := range session.Responses() {
		if !isJSONContentType(resp.ContentType) {
			continue
		}
		for _, id := range jsonwalk.CollectIDs(resp.Body) {
			record(id)
		}
	}

	html, err := session.HTML(ctx)
	if err != nil {
		c.log.WithError(err).Debug("could not snapshot DOM for id collection")
		return added
	}
	for _, id := range collectDOMIDs(html) {
		record(id)
	}
	return added
}

// extract performs the single post-scroll extraction pass over everything
// accumulated during the crawl.
func (c *Controller) extract(ctx context.Context, session browser.Session) (*Entities, error) {
	h := newHarvest()
	for _, resp := range session.Responses() {
		if isJSONContentType(resp.ContentType) {
			h.addJSON(resp.Body)
		}
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindScrapeFailure, "could not capture final DOM state", err)
	}
	if err := h.addDOM(html); err != nil {
		return nil, errs.Wrap(errs.KindScrapeFailure, "could not parse final DOM state", err)
	}

	return c.buildEntities(h), nil
}

func (c *Controller) retryConfig(ctx context.Context) *retry.Config {
	cfg := retry.FromPolicy(c.cfg.Retry.MaxAttempts, c.cfg.Retry.BaseDelay,
		c.cfg.Retry.MaxDelay, c.cfg.Retry.JitterMax, c.log)
	cfg.Context = ctx
	return cfg
}
