package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musearchive/pkg/browser"
	"musearchive/pkg/config"
	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
)

// fakeSession scripts a browser session for controller tests.
type fakeSession struct {
	navStatuses []int // consumed per Navigate call, last repeats
	navErr      error
	navCalls    int

	matched  string // WaitForAny result; empty means timeout
	html     string
	response []browser.CapturedResponse

	scrolls  int
	onScroll func(f *fakeSession, cycle int)

	closed int
}

func (f *fakeSession) Navigate(ctx context.Context, url string) (int, error) {
	f.navCalls++
	if f.navErr != nil {
		return 0, f.navErr
	}
	idx := f.navCalls - 1
	if idx >= len(f.navStatuses) {
		idx = len(f.navStatuses) - 1
	}
	return f.navStatuses[idx], nil
}

func (f *fakeSession) WaitForAny(ctx context.Context, selectors []string) (string, error) {
	if f.matched == "" {
		return "", context.DeadlineExceeded
	}
	return f.matched, nil
}

func (f *fakeSession) Evaluate(ctx context.Context, expr string, out interface{}) error { return nil }

func (f *fakeSession) ScrollToBottom(ctx context.Context) error {
	f.scrolls++
	if f.onScroll != nil {
		f.onScroll(f, f.scrolls)
	}
	return nil
}

func (f *fakeSession) HTML(ctx context.Context) (string, error)       { return f.html, nil }
func (f *fakeSession) Screenshot(ctx context.Context) ([]byte, error) { return []byte("png"), nil }
func (f *fakeSession) Responses() []browser.CapturedResponse          { return f.response }

func (f *fakeSession) FetchViaSession(ctx context.Context, url string) (*browser.SessionResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

func testController(t *testing.T, session browser.Session) *Controller {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = root
	cfg.Crawl.ScrollPause = time.Millisecond
	cfg.Crawl.ReadyTimeout = 50 * time.Millisecond
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.JitterMax = time.Millisecond

	factory := func(ctx context.Context) (browser.Session, error) { return session, nil }
	c := New(cfg, factory, manifest.NewLayout(root, cfg.Output.MetadataDir), logger.NewNop())
	c.sleep = func(time.Duration) {}
	return c
}

func TestDiscoverNotFoundIsTerminalNotError(t *testing.T) {
	session := &fakeSession{navStatuses: []int{404}}
	c := testController(t, session)

	result, live := c.Discover(context.Background(), "https://example.com/u/ghost", "run-1")
	require.NoError(t, result.Err)
	assert.Equal(t, StateNotFound, result.State)
	assert.Nil(t, live)
	assert.Equal(t, 1, session.navCalls, "404 must not be retried")
	assert.Equal(t, 1, session.closed)
}

func TestDiscoverRetriesTransientNavigation(t *testing.T) {
	session := &fakeSession{
		navStatuses: []int{503, 503, 200},
		matched:     "[data-profile-state=\"empty\"]",
	}
	c := testController(t, session)

	result, live := c.Discover(context.Background(), "https://example.com/u/flaky", "run-1")
	require.NoError(t, result.Err)
	assert.Equal(t, StateEmpty, result.State)
	assert.Nil(t, live)
	assert.Equal(t, 3, session.navCalls)
}

func TestDiscoverPrivateShortCircuitsScrolling(t *testing.T) {
	session := &fakeSession{
		navStatuses: []int{200},
		matched:     ".profile-private",
	}
	c := testController(t, session)

	result, live := c.Discover(context.Background(), "https://example.com/u/hidden", "run-1")
	require.NoError(t, result.Err)
	assert.Equal(t, StatePrivate, result.State)
	assert.Nil(t, live)
	assert.Equal(t, 0, session.scrolls)
	assert.Equal(t, 1, session.closed)
}

func TestDiscoverStopsAfterNoNewContentCycles(t *testing.T) {
	session := &fakeSession{
		navStatuses: []int{200},
		matched:     "[data-photo-id]",
		html: `<div data-photo-id="p1"><img src="https://cdn.example.com/p1.jpg"></div>
		       <div data-photo-id="p2"><img src="https://cdn.example.com/p2.jpg"></div>`,
	}
	c := testController(t, session)
	c.cfg.Crawl.NoNewContentCycles = 3

	result, live := c.Discover(context.Background(), "https://example.com/u/artist", "run-1")
	require.NoError(t, result.Err)
	require.NotNil(t, live)
	defer live.Close()

	assert.Equal(t, StateOK, result.State)
	assert.Equal(t, StopNoNewContent, result.StopCause)
	assert.Equal(t, 3, session.scrolls)
	assert.Len(t, result.Entities.Photos, 2)
}

func TestDiscoverTerminatesAtCycleCapWithEndlessContent(t *testing.T) {
	session := &fakeSession{
		navStatuses: []int{200},
		matched:     "[data-photo-id]",
	}
	session.onScroll = func(f *fakeSession, cycle int) {
		// the page never stops producing fresh IDs
		f.html += fmt.Sprintf(`<div data-photo-id="p%d"><img src="https://cdn.example.com/p%d.jpg"></div>`, cycle, cycle)
	}
	c := testController(t, session)
	c.cfg.Crawl.MaxScrollCycles = 7

	result, live := c.Discover(context.Background(), "https://example.com/u/endless", "run-1")
	require.NoError(t, result.Err)
	require.NotNil(t, live)
	defer live.Close()

	assert.Equal(t, StopCycleCap, result.StopCause)
	assert.Equal(t, 7, session.scrolls)
}

func TestDiscoverStopsAtMaxItems(t *testing.T) {
	session := &fakeSession{
		navStatuses: []int{200},
		matched:     "[data-photo-id]",
	}
	session.onScroll = func(f *fakeSession, cycle int) {
		f.html += fmt.Sprintf(`<div data-photo-id="p%d"><img src="https://cdn.example.com/p%d.jpg"></div>`, cycle, cycle)
	}
	c := testController(t, session)
	c.cfg.Crawl.MaxItems = 3

	result, live := c.Discover(context.Background(), "https://example.com/u/busy", "run-1")
	require.NoError(t, result.Err)
	if live != nil {
		defer live.Close()
	}
	assert.Equal(t, StopMaxItems, result.StopCause)
}

func TestDiscoverExtractsFromNetworkAndDOM(t *testing.T) {
	photoJSON := `{"photos":[
		{"id":"p1","display_url":"http://cdn.example.com/p1.jpg","width":640,
		 "images":[{"url":"http://cdn.example.com/p1_big.jpg","width":1080,"height":720}],
		 "caption":"dawn"},
		{"id":"p2","url":"//cdn.example.com/p2.png","width":800,"gallery_id":"g1"}
	]}`
	galleryJSON := `{"galleries":[{"id":"g1","name":"Landscapes","photo_ids":["p1","p2"],"cover_url":"https://cdn.example.com/cover.jpg"}]}`
	postJSON := `{"entries":[{"id":"e1","title":"Studio Notes","body_html":"<p>hello <img src=\"http://cdn.example.com/inline.png\"></p>","published_at":"2026-05-01T10:00:00Z"}]}`

	session := &fakeSession{
		navStatuses: []int{200},
		matched:     "[data-photo-id]",
		response: []browser.CapturedResponse{
			{URL: "https://example.com/api/photos", ContentType: "application/json", Body: []byte(photoJSON)},
			{URL: "https://example.com/api/galleries", ContentType: "application/json", Body: []byte(galleryJSON)},
			{URL: "https://example.com/api/journal", ContentType: "application/json", Body: []byte(postJSON)},
		},
		html: `<div data-photo-id="p3"><img src="https://cdn.example.com/p3.jpg" srcset="https://cdn.example.com/p3_small.jpg 320w, https://cdn.example.com/p3_large.jpg 1600w"></div>`,
	}
	c := testController(t, session)

	result, live := c.Discover(context.Background(), "https://example.com/u/artist", "run-1")
	require.NoError(t, result.Err)
	require.NotNil(t, live)
	defer live.Close()
	require.Equal(t, StateOK, result.State)

	byID := map[string]manifest.Photo{}
	for _, p := range result.Entities.Photos {
		byID[p.ID] = p
	}

	// highest-resolution variant wins and http upgrades to https
	p1, ok := byID["p1"]
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/p1_big.jpg", p1.URL)
	assert.Equal(t, 1080, p1.Width)
	assert.Equal(t, "dawn", p1.Caption)

	// protocol-relative URL resolves to https
	p2, ok := byID["p2"]
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/p2.png", p2.URL)
	assert.Equal(t, "image/png", p2.ContentType)
	assert.Equal(t, "g1", p2.GalleryID)

	// DOM-only photo picked up with its largest srcset variant
	p3, ok := byID["p3"]
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/p3_large.jpg", p3.URL)

	require.Len(t, result.Entities.Galleries, 1)
	g := result.Entities.Galleries[0]
	assert.Equal(t, "g1", g.ID)
	assert.Equal(t, "Landscapes", g.Name)
	assert.Equal(t, []string{"p1", "p2"}, g.PhotoIDs)

	require.Len(t, result.Entities.BlogPosts, 1)
	post := result.Entities.BlogPosts[0]
	assert.Equal(t, "e1", post.ID)
	assert.Equal(t, "studio-notes", post.Slug)
	assert.Contains(t, post.BodyHTML, "../../.musearchive/media/")
	assert.NotContains(t, post.BodyHTML, "cdn.example.com/inline.png")

	// the embedded asset was registered for download
	found := false
	for _, p := range result.Entities.Photos {
		if p.URL == "https://cdn.example.com/inline.png" {
			found = true
		}
	}
	assert.True(t, found, "embedded blog asset should join the photo set")
}

func TestDiscoverClassifiesGalleryByAnyShapeKey(t *testing.T) {
	galleryJSON := `{"data":[
		{"id":"g1","name":"Covers Only","cover":"https://cdn.example.com/c1.jpg"},
		{"id":"g2","name":"Nested","photos":[{"id":"p1","url":"https://cdn.example.com/p1.jpg"}]}
	]}`
	session := &fakeSession{
		navStatuses: []int{200},
		matched:     "[data-gallery-id]",
		response: []browser.CapturedResponse{
			{URL: "https://example.com/api/galleries", ContentType: "application/json", Body: []byte(galleryJSON)},
		},
		html: "<html><body></body></html>",
	}
	c := testController(t, session)

	result, live := c.Discover(context.Background(), "https://example.com/u/artist", "run-1")
	require.NoError(t, result.Err)
	require.NotNil(t, live)
	defer live.Close()

	require.Len(t, result.Entities.Galleries, 2)
	byID := map[string]manifest.Gallery{}
	for _, g := range result.Entities.Galleries {
		byID[g.ID] = g
	}

	// a cover field alone marks the gallery shape
	assert.Equal(t, "Covers Only", byID["g1"].Name)
	assert.Equal(t, "https://cdn.example.com/c1.jpg", byID["g1"].CoverURL)

	// nested photo objects mark it too, and membership follows
	assert.Equal(t, []string{"p1"}, byID["g2"].PhotoIDs)
	require.Len(t, result.Entities.Photos, 1)
	assert.Equal(t, "g2", result.Entities.Photos[0].GalleryID)
}

func TestDiscoverNavigationFailureCapturesDiagnostics(t *testing.T) {
	session := &fakeSession{navErr: errors.New("connection refused")}
	c := testController(t, session)
	c.cfg.Retry.MaxAttempts = 2

	result, live := c.Discover(context.Background(), "https://example.com/u/down", "run-1")
	require.Error(t, result.Err)
	assert.Nil(t, live)
	assert.Equal(t, 1, session.closed)
}
