package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musearchive/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	layout := NewLayout(t.TempDir(), ".musearchive")
	return NewStore(layout, logger.NewNop())
}

func TestLoadMissingFileReturnsFreshManifest(t *testing.T) {
	store := newTestStore(t)

	m := store.Load("artist", "https://example.com/artist")

	assert.Equal(t, SchemaVersion, m.SchemaVersion)
	assert.Equal(t, "artist", m.Profile.Username)
	assert.Equal(t, "https://example.com/artist", m.Profile.ProfileURL)
	assert.Empty(t, m.Content.Photos)
	assert.Empty(t, m.BackupRuns)
}

func TestLoadCorruptFileReturnsFreshManifest(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(store.Layout().MetadataPath(), 0o755))
	require.NoError(t, os.WriteFile(store.Layout().ManifestPath(), []byte("{truncated"), 0o644))

	m := store.Load("artist", "https://example.com/artist")
	assert.Equal(t, "artist", m.Profile.Username)
	assert.Empty(t, m.Content.Photos)
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	store := newTestStore(t)
	bad := &Manifest{
		SchemaVersion: SchemaVersion,
		Profile:       Profile{Username: "artist"},
		Content: Content{
			Photos: []Photo{{ID: "p1", URL: "https://x/1.jpg"}, {ID: "p1", URL: "https://x/2.jpg"}},
		},
	}
	data, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(store.Layout().MetadataPath(), 0o755))
	require.NoError(t, os.WriteFile(store.Layout().ManifestPath(), data, 0o644))

	m := store.Load("artist", "https://example.com/artist")
	assert.Empty(t, m.Content.Photos, "invalid manifest must be replaced by a fresh one")
}

func TestSaveAtomicRoundTrip(t *testing.T) {
	store := newTestStore(t)
	m := store.Load("artist", "https://example.com/artist")

	m.AddPhoto(Photo{ID: "p1", URL: "https://cdn.example.com/p1.jpg", CapturedAt: time.Now()})
	m.AddGallery(Gallery{ID: "g1", Name: "Landscapes", PhotoIDs: []string{"p1"}})
	require.NoError(t, store.SaveAtomic(m))

	// no temp residue under the final name's sibling
	_, err := os.Stat(store.Layout().ManifestPath() + ".tmp")
	assert.True(t, os.IsNotExist(err))

	reloaded := store.Load("artist", "https://example.com/artist")
	assert.True(t, reloaded.HasPhoto("p1"))
	require.NotNil(t, reloaded.GalleryByID("g1"))
	assert.Equal(t, []string{"p1"}, reloaded.GalleryByID("g1").PhotoIDs)
}

func TestSaveAtomicNeverLeavesCorruptManifest(t *testing.T) {
	store := newTestStore(t)
	m := store.Load("artist", "https://example.com/artist")
	m.AddPhoto(Photo{ID: "p1", URL: "https://cdn.example.com/p1.jpg"})
	require.NoError(t, store.SaveAtomic(m))

	// Simulate a crash between temp-write and rename: a stale temp file
	// sits next to a valid manifest. The reader must see the valid one.
	tempPath := store.Layout().ManifestPath() + ".tmp"
	require.NoError(t, os.WriteFile(tempPath, []byte(`{"schemaVersion": "1.0", "profile"`), 0o644))

	reloaded := store.Load("artist", "https://example.com/artist")
	assert.True(t, reloaded.HasPhoto("p1"), "prior valid manifest must survive a simulated crash")
}

func TestRunRecordLifecycle(t *testing.T) {
	store := newTestStore(t)
	m := store.Load("artist", "https://example.com/artist")

	runID := store.RecordRunStart(m)
	assert.True(t, strings.HasPrefix(runID, "run-"))

	run := m.RunByID(runID)
	require.NotNil(t, run)
	assert.Equal(t, StatusRunning, run.Status)

	counts := RunCounts{New: 3, Missing: 1, Invalid: 0, DownloadedItems: []string{"p1", "p2"}}
	require.NoError(t, store.RecordRunFinish(m, runID, counts, StatusPartial, "one item failed"))

	run = m.RunByID(runID)
	assert.Equal(t, StatusPartial, run.Status)
	assert.Equal(t, 3, run.NewContentCount)
	assert.Equal(t, 1, run.MissingContentCount)
	assert.Equal(t, []string{"p1", "p2"}, run.DownloadedItems)
	assert.Equal(t, "one item failed", run.ErrorMessage)
	assert.False(t, m.Profile.LastBackupTS.IsZero(), "partial run still advances last backup timestamp")
}

func TestRecordRunFinishUnknownID(t *testing.T) {
	store := newTestStore(t)
	m := store.Load("artist", "https://example.com/artist")

	err := store.RecordRunFinish(m, "run-nope", RunCounts{}, StatusFailed, "")
	assert.Error(t, err)
}

func TestRunHistoryIsAppendOnly(t *testing.T) {
	store := newTestStore(t)
	m := store.Load("artist", "https://example.com/artist")

	first := store.RecordRunStart(m)
	require.NoError(t, store.RecordRunFinish(m, first, RunCounts{}, StatusSuccess, ""))
	second := store.RecordRunStart(m)
	require.NoError(t, store.RecordRunFinish(m, second, RunCounts{}, StatusFailed, "boom"))

	assert.Len(t, m.BackupRuns, 2)
	assert.NotEqual(t, first, second)
	assert.Equal(t, StatusSuccess, m.RunByID(first).Status)
}

func TestGalleryMembershipNeverShrinks(t *testing.T) {
	m := &Manifest{SchemaVersion: SchemaVersion}
	m.AddGallery(Gallery{ID: "g1", Name: "Birds", PhotoIDs: []string{"a", "b"}})

	// re-discovered gallery with fewer members
	m.AddGallery(Gallery{ID: "g1", Name: "Birds", PhotoIDs: []string{"b", "c"}})

	g := m.GalleryByID("g1")
	require.NotNil(t, g)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, g.PhotoIDs)
}

func TestAddPhotoIsIdempotent(t *testing.T) {
	m := &Manifest{SchemaVersion: SchemaVersion}
	assert.True(t, m.AddPhoto(Photo{ID: "p1", URL: "https://x/1.jpg"}))
	assert.False(t, m.AddPhoto(Photo{ID: "p1", URL: "https://x/other.jpg"}))
	assert.Len(t, m.Content.Photos, 1)
	assert.Equal(t, "https://x/1.jpg", m.Content.Photos[0].URL, "first record wins")
}

func TestManifestFileIsPrettyPrintedJSON(t *testing.T) {
	store := newTestStore(t)
	m := store.Load("artist", "https://example.com/artist")
	require.NoError(t, store.SaveAtomic(m))

	data, err := os.ReadFile(store.Layout().ManifestPath())
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "\n  \"schemaVersion\""), "manifest should be indented")
	assert.True(t, json.Valid(data))
}

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/archive", ".musearchive")

	assert.Equal(t, filepath.Join("/archive", ".musearchive", "manifest.json"), l.ManifestPath())
	assert.Equal(t, filepath.Join("/archive", ".musearchive", "media", "p1.jpg"), l.MediaPath("p1", "image/jpeg"))
	assert.Equal(t, filepath.Join("/archive", ".musearchive", "logs", "download-failures-run-x.json"), l.FailureReportPath("run-x"))
	assert.Equal(t, filepath.Join("/archive", "galleries", "birds"), l.GalleryPageDir("birds"))
	assert.Equal(t, filepath.Join("/archive", "blog", "hello"), l.BlogPageDir("hello"))
}
