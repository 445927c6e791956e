// Package robots performs the advisory robots.txt check before a crawl.
// The policy is advisory because the archiver only mirrors content its
// owner already publishes; a disallow still vetoes the run unless the
// operator overrides it.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"musearchive/pkg/config"
	errs "musearchive/pkg/errors"
	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
)

// Decision is the outcome of the robots check, recorded on the run record.
type Decision struct {
	Allowed   bool
	Advisory  string
	CheckedAt time.Time
}

// Snapshot converts the decision into its manifest representation.
func (d Decision) Snapshot() *manifest.RobotsPolicy {
	return &manifest.RobotsPolicy{
		Allowed:   d.Allowed,
		Advisory:  d.Advisory,
		CheckedAt: d.CheckedAt,
	}
}

// Checker fetches and evaluates a site's robots.txt.
type Checker struct {
	// Client performs the robots.txt fetch. Replaceable in tests.
	Client *http.Client

	cfg       *config.Config
	userAgent string
	log       logger.Logger
}

// New creates a robots checker.
func New(cfg *config.Config, log logger.Logger) *Checker {
	return &Checker{
		Client:    &http.Client{Timeout: cfg.Download.Timeout},
		cfg:       cfg,
		userAgent: cfg.Crawl.UserAgent,
		log:       log,
	}
}

// Check evaluates the site's robots policy for the profile URL. A returned
// error means the run must not proceed; a fetch failure is not a veto by
// default and degrades to proceed-with-advisory unless configured to
// abort.
func (c *Checker) Check(ctx context.Context, profileURL string) (Decision, error) {
	now := time.Now().UTC()

	if c.cfg.Robots.Ignore {
		return Decision{
			Allowed:   true,
			Advisory:  "robots policy check skipped by operator override",
			CheckedAt: now,
		}, nil
	}

	parsed, err := url.Parse(profileURL)
	if err != nil || parsed.Host == "" {
		return Decision{CheckedAt: now}, errs.Wrap(errs.KindInvalidInput, "profile URL is not parseable for a robots check", err)
	}
	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"

	data, fetchErr := c.fetch(ctx, robotsURL)
	if fetchErr != nil {
		return c.onFetchFailure(now, robotsURL, fetchErr)
	}
	if data == nil {
		// no robots.txt published, everything is allowed
		return Decision{Allowed: true, CheckedAt: now}, nil
	}

	crawlPath := parsed.Path
	if crawlPath == "" {
		crawlPath = "/"
	}
	if !data.TestAgent(crawlPath, c.userAgent) {
		advisory := fmt.Sprintf("robots.txt at %s disallows %s for this agent", robotsURL, crawlPath)
		return Decision{Allowed: false, Advisory: advisory, CheckedAt: now},
			errs.New(errs.KindRobotsDisallowed, advisory)
	}
	return Decision{Allowed: true, CheckedAt: now}, nil
}

// fetch retrieves and parses robots.txt. A 4xx means no policy exists
// (nil data, nil error); 5xx, transport errors, and unparseable bodies are
// fetch failures.
func (c *Checker) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, nil
	case resp.StatusCode != 200:
		return nil, fmt.Errorf("robots.txt fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return robotstxt.FromBytes(body)
}

func (c *Checker) onFetchFailure(now time.Time, robotsURL string, cause error) (Decision, error) {
	advisory := fmt.Sprintf("robots.txt at %s could not be evaluated: %v", robotsURL, cause)

	if strings.EqualFold(c.cfg.Robots.OnFetchFailure, "abort") {
		return Decision{Allowed: false, Advisory: advisory, CheckedAt: now},
			errs.Wrap(errs.KindRobotsDisallowed, "robots policy could not be evaluated and the archiver is configured to abort", cause)
	}

	c.log.WarnWithFields("proceeding without a robots verdict", map[string]interface{}{
		"url":   robotsURL,
		"cause": cause.Error(),
	})
	return Decision{Allowed: true, Advisory: advisory, CheckedAt: now}, nil
}
