// Package archive orchestrates one full synchronization run: robots gate,
// manifest load, discovery, classification, download, merge, persistence,
// and site regeneration.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"musearchive/pkg/browser"
	"musearchive/pkg/config"
	"musearchive/pkg/crawler"
	"musearchive/pkg/diff"
	"musearchive/pkg/download"
	errs "musearchive/pkg/errors"
	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
	"musearchive/pkg/robots"
	"musearchive/pkg/site"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID  string
	Status string
	State  crawler.ProfileState
	Counts manifest.RunCounts
	Stats  *download.Stats
}

// discoverer abstracts the crawl controller for tests.
type discoverer interface {
	Discover(ctx context.Context, profileURL, runID string) (*crawler.DiscoveryResult, browser.Session)
}

// pipelineRunner abstracts the download pipeline for tests.
type pipelineRunner interface {
	Run(ctx context.Context, runID string, queue []diff.Item) (*download.Stats, error)
}

// Runner executes synchronization runs against one archive root.
type Runner struct {
	cfg    *config.Config
	log    logger.Logger
	layout manifest.Layout
	store  *manifest.Store
	robots *robots.Checker
	site   *site.Generator

	discoverer  discoverer
	pipelineFor func(session browser.Session) pipelineRunner
}

// New wires a runner with the real collaborators.
func New(cfg *config.Config, log logger.Logger) *Runner {
	layout := manifest.NewLayout(cfg.Output.BaseDirectory, cfg.Output.MetadataDir)

	factory := func(ctx context.Context) (browser.Session, error) {
		return browser.NewChromeSession(browser.Options{
			UserAgent:           cfg.Crawl.UserAgent,
			Headful:             cfg.Crawl.Headful,
			ResponseBufferLimit: cfg.Crawl.ResponseBufferLimit,
		}, log)
	}

	return &Runner{
		cfg:        cfg,
		log:        log,
		layout:     layout,
		store:      manifest.NewStore(layout, log),
		robots:     robots.New(cfg, log),
		site:       site.New(layout, log),
		discoverer: crawler.New(cfg, factory, layout, log),
		pipelineFor: func(session browser.Session) pipelineRunner {
			return download.New(cfg, session, layout, log)
		},
	}
}

// Run performs one synchronization of the profile into the archive root.
// Every run that passes the robots gate appends exactly one run record,
// closed with a terminal status even on failure.
func (r *Runner) Run(ctx context.Context, profileURL string) (*Summary, error) {
	username, err := usernameFromURL(profileURL)
	if err != nil {
		return nil, err
	}
	log := r.log.WithField("username", username)

	decision, err := r.robots.Check(ctx, profileURL)
	if err != nil {
		return nil, err
	}

	m := r.store.Load(username, profileURL)
	runID := r.store.RecordRunStart(m)
	if run := m.RunByID(runID); run != nil {
		run.RobotsPolicy = decision.Snapshot()
	}
	// persist the open record so a killed run still leaves its trace
	if err := r.store.SaveAtomic(m); err != nil {
		return nil, err
	}
	log = log.WithField("run_id", runID)
	log.Info("synchronization run started")

	result, session := r.discoverer.Discover(ctx, profileURL, runID)
	if session != nil {
		defer func() {
			if cerr := session.Close(); cerr != nil {
				log.WithError(cerr).Warn("browser session close failed")
			}
		}()
	}

	if result.Err != nil {
		r.finishRun(m, runID, manifest.RunCounts{}, manifest.StatusFailed, result.Err.Error(), log)
		return nil, errs.Wrap(errs.KindScrapeFailure, "discovery failed", result.Err)
	}

	switch result.State {
	case crawler.StateNotFound:
		r.finishRun(m, runID, manifest.RunCounts{}, manifest.StatusFailed, "profile not found", log)
		return nil, errs.New(errs.KindProfileNotFound, "profile does not exist or has been removed")
	case crawler.StatePrivate:
		r.finishRun(m, runID, manifest.RunCounts{}, manifest.StatusFailed, "profile is private or suspended", log)
		return nil, errs.New(errs.KindProfileNotFound, "profile is private or suspended")
	}

	classification := diff.Classify(itemsFromEntities(&result.Entities), m, r.layout.MediaPath, log)
	newCount, missingCount, invalidCount := classification.Counts()
	log.InfoWithFields("content classified", map[string]interface{}{
		"new":     newCount,
		"missing": missingCount,
		"invalid": invalidCount,
		"queued":  len(classification.Queue),
	})

	mergeEntities(m, &result.Entities)

	stats, err := r.pipelineFor(session).Run(ctx, runID, classification.Queue)
	if err != nil {
		r.finishRun(m, runID, manifest.RunCounts{}, manifest.StatusFailed, err.Error(), log)
		return nil, errs.Wrap(errs.KindDownloadFailure, "download pipeline failed", err)
	}

	for id, size := range stats.DownloadedSizes {
		m.RecordPhotoSize(id, size)
	}

	counts := manifest.RunCounts{
		New:             newCount,
		Missing:         missingCount,
		Invalid:         invalidCount,
		DownloadedItems: stats.DownloadedIDs,
	}
	status := runStatus(stats)
	r.finishRun(m, runID, counts, status, statusMessage(status, stats), log)

	if err := r.site.Generate(m); err != nil {
		log.WithError(err).Warn("site generation failed, archive data is intact")
	}

	summary := &Summary{
		RunID:  runID,
		Status: status,
		State:  result.State,
		Counts: counts,
		Stats:  stats,
	}
	if status == manifest.StatusFailed {
		return summary, errs.New(errs.KindDownloadFailure, "every queued download failed")
	}
	log.InfoWithFields("synchronization run finished", map[string]interface{}{
		"status":     status,
		"downloaded": stats.Downloaded,
		"failed":     stats.Failed,
	})
	return summary, nil
}

// finishRun closes the run record and persists the manifest. Persistence
// failure at this stage is logged, not returned; the caller's error takes
// precedence.
func (r *Runner) finishRun(m *manifest.Manifest, runID string, counts manifest.RunCounts, status, message string, log logger.Logger) {
	if err := r.store.RecordRunFinish(m, runID, counts, status, message); err != nil {
		log.WithError(err).Error("could not close run record")
	}
	if err := r.store.SaveAtomic(m); err != nil {
		log.WithError(err).Error("could not persist manifest")
	}
}

// runStatus resolves the terminal status: partial when some items failed
// after content was captured, failed when nothing was captured at all.
func runStatus(stats *download.Stats) string {
	switch {
	case stats.Failed == 0:
		return manifest.StatusSuccess
	case stats.Succeeded > 0:
		return manifest.StatusPartial
	default:
		return manifest.StatusFailed
	}
}

func statusMessage(status string, stats *download.Stats) string {
	if status == manifest.StatusSuccess {
		return ""
	}
	return fmt.Sprintf("%d of %d downloads failed", stats.Failed, stats.Attempted)
}

// itemsFromEntities builds the diff input from discovered photos. Blog
// embedded assets already joined the photo set during extraction.
func itemsFromEntities(ents *crawler.Entities) []diff.Item {
	items := make([]diff.Item, 0, len(ents.Photos))
	for _, p := range ents.Photos {
		items = append(items, diff.Item{
			ID:           p.ID,
			URL:          p.URL,
			ContentType:  p.ContentType,
			ExpectedSize: p.ExpectedSize,
		})
	}
	return items
}

// mergeEntities grows the manifest with discovered content. Existing
// records win; gallery membership only ever extends.
func mergeEntities(m *manifest.Manifest, ents *crawler.Entities) {
	for _, p := range ents.Photos {
		m.AddPhoto(p)
	}
	for _, g := range ents.Galleries {
		m.AddGallery(g)
		m.ExtendGalleryMembers(g.ID, g.PhotoIDs)
	}
	for _, b := range ents.BlogPosts {
		m.AddBlogPost(b)
	}
}

// usernameFromURL derives the profile's username from the last path
// segment of its URL.
func usernameFromURL(profileURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(profileURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", errs.New(errs.KindInvalidInput, "profile URL must be an absolute http(s) URL")
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	username := segments[len(segments)-1]
	if username == "" {
		return "", errs.New(errs.KindInvalidInput, "profile URL carries no username segment")
	}
	return username, nil
}
