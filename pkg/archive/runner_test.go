package archive

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musearchive/pkg/browser"
	"musearchive/pkg/config"
	"musearchive/pkg/crawler"
	"musearchive/pkg/diff"
	"musearchive/pkg/download"
	errs "musearchive/pkg/errors"
	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
)

type fakeDiscoverer struct {
	result *crawler.DiscoveryResult
}

func (f *fakeDiscoverer) Discover(ctx context.Context, profileURL, runID string) (*crawler.DiscoveryResult, browser.Session) {
	return f.result, nil
}

type fakePipeline struct {
	queue []diff.Item
	stats *download.Stats
	write bool
	root  *Runner
}

func (f *fakePipeline) Run(ctx context.Context, runID string, queue []diff.Item) (*download.Stats, error) {
	f.queue = queue
	if f.stats != nil {
		return f.stats, nil
	}
	stats := &download.Stats{Attempted: len(queue), DownloadedSizes: make(map[string]int64)}
	for _, item := range queue {
		if f.write {
			path := f.root.layout.MediaPath(item.ID, item.ContentType)
			os.MkdirAll(f.root.layout.MediaDir(), 0755)
			os.WriteFile(path, []byte("media"), 0644)
		}
		stats.Downloaded++
		stats.Succeeded++
		stats.DownloadedIDs = append(stats.DownloadedIDs, item.ID)
		stats.DownloadedSizes[item.ID] = int64(len("media"))
	}
	return stats, nil
}

func testRunner(t *testing.T, result *crawler.DiscoveryResult) (*Runner, *fakePipeline) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Output.BaseDirectory = t.TempDir()
	cfg.Robots.Ignore = true

	r := New(cfg, logger.NewNop())
	r.discoverer = &fakeDiscoverer{result: result}

	pipeline := &fakePipeline{write: true, root: r}
	r.pipelineFor = func(session browser.Session) pipelineRunner { return pipeline }
	return r, pipeline
}

func discoveredEntities() crawler.Entities {
	return crawler.Entities{
		Photos: []manifest.Photo{
			{ID: "p1", URL: "https://cdn.example.com/p1.jpg", ContentType: "image/jpeg"},
			{ID: "p2", URL: "https://cdn.example.com/p2.jpg", ContentType: "image/jpeg", GalleryID: "g1"},
		},
		Galleries: []manifest.Gallery{
			{ID: "g1", Name: "Landscapes", PhotoIDs: []string{"p2"}},
		},
	}
}

func TestRunFirstSyncDownloadsEverything(t *testing.T) {
	r, pipeline := testRunner(t, &crawler.DiscoveryResult{
		Entities:  discoveredEntities(),
		State:     crawler.StateOK,
		StopCause: crawler.StopNoNewContent,
	})

	summary, err := r.Run(context.Background(), "https://example.com/u/artist")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusSuccess, summary.Status)
	assert.Equal(t, 2, summary.Counts.New)
	assert.Len(t, pipeline.queue, 2)

	m := r.store.Load("artist", "https://example.com/u/artist")
	assert.True(t, m.HasPhoto("p1"))
	assert.True(t, m.HasPhoto("p2"))
	p1, ok := m.PhotoByID("p1")
	require.True(t, ok)
	assert.Equal(t, int64(len("media")), p1.ExpectedSize,
		"downloaded byte count recorded for later re-validation")
	require.Len(t, m.BackupRuns, 1)
	run := m.BackupRuns[0]
	assert.Equal(t, manifest.StatusSuccess, run.Status)
	assert.Equal(t, []string{"p1", "p2"}, run.DownloadedItems)
	require.NotNil(t, run.RobotsPolicy)
	assert.True(t, run.RobotsPolicy.Allowed)

	// offline site regenerated alongside the data
	_, err = os.Stat(r.layout.IndexPath())
	assert.NoError(t, err)
}

func TestRunUnchangedProfileQueuesNothing(t *testing.T) {
	result := &crawler.DiscoveryResult{
		Entities:  discoveredEntities(),
		State:     crawler.StateOK,
		StopCause: crawler.StopNoNewContent,
	}
	r, pipeline := testRunner(t, result)

	_, err := r.Run(context.Background(), "https://example.com/u/artist")
	require.NoError(t, err)

	// same remote state, intact files: all classifications empty
	_, err = r.Run(context.Background(), "https://example.com/u/artist")
	require.NoError(t, err)
	assert.Empty(t, pipeline.queue)

	m := r.store.Load("artist", "https://example.com/u/artist")
	assert.Len(t, m.BackupRuns, 2)
	assert.Len(t, m.Content.Photos, 2, "no duplicate photo records")
}

func TestRunTruncatedFileIsRequeued(t *testing.T) {
	result := &crawler.DiscoveryResult{
		Entities:  discoveredEntities(),
		State:     crawler.StateOK,
		StopCause: crawler.StopNoNewContent,
	}
	r, pipeline := testRunner(t, result)

	_, err := r.Run(context.Background(), "https://example.com/u/artist")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(r.layout.MediaPath("p1", "image/jpeg"), nil, 0644))

	_, err = r.Run(context.Background(), "https://example.com/u/artist")
	require.NoError(t, err)
	require.Len(t, pipeline.queue, 1)
	assert.Equal(t, "p1", pipeline.queue[0].ID)

	data, err := os.ReadFile(r.layout.MediaPath("p1", "image/jpeg"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRunSizeMismatchIsRequeued(t *testing.T) {
	result := &crawler.DiscoveryResult{
		Entities:  discoveredEntities(),
		State:     crawler.StateOK,
		StopCause: crawler.StopNoNewContent,
	}
	r, pipeline := testRunner(t, result)

	_, err := r.Run(context.Background(), "https://example.com/u/artist")
	require.NoError(t, err)

	// non-empty file whose size no longer matches the recorded byte count
	require.NoError(t, os.WriteFile(r.layout.MediaPath("p1", "image/jpeg"), []byte("med"), 0644))

	_, err = r.Run(context.Background(), "https://example.com/u/artist")
	require.NoError(t, err)
	require.Len(t, pipeline.queue, 1)
	assert.Equal(t, "p1", pipeline.queue[0].ID)
	assert.Equal(t, int64(len("media")), pipeline.queue[0].ExpectedSize)
}

func TestRunNotFoundProfile(t *testing.T) {
	r, _ := testRunner(t, &crawler.DiscoveryResult{State: crawler.StateNotFound})

	_, err := r.Run(context.Background(), "https://example.com/u/ghost")
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindProfileNotFound, e.Kind)

	// the run record is still opened and closed
	m := r.store.Load("ghost", "https://example.com/u/ghost")
	require.Len(t, m.BackupRuns, 1)
	assert.Equal(t, manifest.StatusFailed, m.BackupRuns[0].Status)
}

func TestRunPartialStatusOnItemFailures(t *testing.T) {
	r, pipeline := testRunner(t, &crawler.DiscoveryResult{
		Entities: discoveredEntities(),
		State:    crawler.StateOK,
	})
	pipeline.stats = &download.Stats{
		Attempted:     2,
		Succeeded:     1,
		Downloaded:    1,
		Failed:        1,
		DownloadedIDs: []string{"p1"},
	}

	summary, err := r.Run(context.Background(), "https://example.com/u/artist")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusPartial, summary.Status)

	m := r.store.Load("artist", "https://example.com/u/artist")
	require.Len(t, m.BackupRuns, 1)
	assert.Equal(t, manifest.StatusPartial, m.BackupRuns[0].Status)
	assert.Contains(t, m.BackupRuns[0].ErrorMessage, "1 of 2")
}

func TestRunAllDownloadsFailedIsFailedRun(t *testing.T) {
	r, pipeline := testRunner(t, &crawler.DiscoveryResult{
		Entities: discoveredEntities(),
		State:    crawler.StateOK,
	})
	pipeline.stats = &download.Stats{Attempted: 2, Failed: 2}

	summary, err := r.Run(context.Background(), "https://example.com/u/artist")
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, manifest.StatusFailed, summary.Status)
}

func TestRunInvalidProfileURL(t *testing.T) {
	r, _ := testRunner(t, &crawler.DiscoveryResult{State: crawler.StateOK})

	_, err := r.Run(context.Background(), "not a url")
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, errs.KindInvalidInput, e.Kind)
}

func TestUsernameFromURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://example.com/u/artist", "artist", false},
		{"https://example.com/artist/", "artist", false},
		{"http://example.com/u/artist", "artist", false},
		{"https://example.com/", "", true},
		{"ftp://example.com/u/artist", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := usernameFromURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
		} else {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		}
	}
}
