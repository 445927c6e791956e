// Package manifest defines the archive's versioned ledger: everything
// previously captured plus the append-only run history, persisted as a
// single always-valid JSON file.
package manifest

import "time"

// SchemaVersion tags manifests written by this build.
const SchemaVersion = "1.0"

// Run terminal statuses. A run record is opened as StatusRunning and closed
// with one of the terminal statuses, even when the run fails.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Profile identifies the remote account being archived. One per archive
// root; mutated only by run completion.
type Profile struct {
	Username      string    `json:"username"`
	ProfileURL    string    `json:"profile_url"`
	LastBackupTS  time.Time `json:"last_backup_ts"`
	BackupVersion string    `json:"backup_version"`
}

// Photo is a single downloadable media asset with a stable ID. Immutable
// once recorded except re-validation metadata; never removed.
type Photo struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	Caption      string    `json:"caption,omitempty"`
	GalleryID    string    `json:"gallery_id,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	ExpectedSize int64     `json:"expected_size,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Gallery is a named set of photos. Membership may grow across runs, never
// shrink automatically.
type Gallery struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	PhotoIDs    []string `json:"photo_ids"`
}

// BlogPost is a journal entry with its body normalized to local asset
// references.
type BlogPost struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	BodyHTML    string    `json:"body_html"`
	PublishedAt time.Time `json:"published_at"`
}

// Content groups the captured entity sets, each keyed by stable ID.
type Content struct {
	Photos    []Photo    `json:"photos"`
	Galleries []Gallery  `json:"galleries"`
	BlogPosts []BlogPost `json:"blog_posts"`
}

// RobotsPolicy is the advisory robots decision snapshot recorded on a run.
type RobotsPolicy struct {
	Allowed  bool      `json:"allowed"`
	Advisory string    `json:"advisory,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// BackupRun is one run's outcome. Records are append-only and never mutated
// after their owning run completes.
type BackupRun struct {
	RunID               string        `json:"run_id"`
	TS                  time.Time     `json:"ts"`
	NewContentCount     int           `json:"new_content_count"`
	MissingContentCount int           `json:"missing_content_count"`
	InvalidContentCount int           `json:"invalid_content_count"`
	DownloadedItems     []string      `json:"downloaded_items"`
	Status              string        `json:"status"`
	ErrorMessage        string        `json:"error_message,omitempty"`
	RobotsPolicy        *RobotsPolicy `json:"robots_policy,omitempty"`
}

// RunCounts carries the terminal counters for closing a run record.
type RunCounts struct {
	New             int
	Missing         int
	Invalid         int
	DownloadedItems []string
}

// Manifest is the on-disk ledger. Readers must never observe a partial
// write; Store.SaveAtomic guarantees that.
type Manifest struct {
	SchemaVersion string      `json:"schemaVersion"`
	Profile       Profile     `json:"profile"`
	Content       Content     `json:"content"`
	BackupRuns    []BackupRun `json:"backup_runs"`
}

// HasPhoto reports whether a photo with the given ID is recorded.
func (m *Manifest) HasPhoto(id string) bool {
	return m.photoIndex(id) >= 0
}

func (m *Manifest) photoIndex(id string) int {
	for i := range m.Content.Photos {
		if m.Content.Photos[i].ID == id {
			return i
		}
	}
	return -1
}

// PhotoByID returns the recorded photo, if any.
func (m *Manifest) PhotoByID(id string) (Photo, bool) {
	if i := m.photoIndex(id); i >= 0 {
		return m.Content.Photos[i], true
	}
	return Photo{}, false
}

// RecordPhotoSize stores the byte count observed when a photo was
// downloaded, so later runs can re-validate the local file against it.
func (m *Manifest) RecordPhotoSize(id string, size int64) bool {
	i := m.photoIndex(id)
	if i < 0 {
		return false
	}
	m.Content.Photos[i].ExpectedSize = size
	return true
}

// AddPhoto records a photo unless its ID is already present. Content only
// ever grows.
func (m *Manifest) AddPhoto(p Photo) bool {
	if m.HasPhoto(p.ID) {
		return false
	}
	m.Content.Photos = append(m.Content.Photos, p)
	return true
}

// GalleryByID returns a pointer into the manifest's gallery set.
func (m *Manifest) GalleryByID(id string) *Gallery {
	for i := range m.Content.Galleries {
		if m.Content.Galleries[i].ID == id {
			return &m.Content.Galleries[i]
		}
	}
	return nil
}

// AddGallery records a gallery, or extends an existing gallery's membership.
// Membership never shrinks.
func (m *Manifest) AddGallery(g Gallery) {
	existing := m.GalleryByID(g.ID)
	if existing == nil {
		m.Content.Galleries = append(m.Content.Galleries, g)
		return
	}
	if existing.Name == "" {
		existing.Name = g.Name
	}
	if existing.Description == "" {
		existing.Description = g.Description
	}
	if existing.CoverURL == "" {
		existing.CoverURL = g.CoverURL
	}
	m.ExtendGalleryMembers(g.ID, g.PhotoIDs)
}

// ExtendGalleryMembers adds photo IDs to a gallery, preserving existing
// members and ignoring duplicates.
func (m *Manifest) ExtendGalleryMembers(galleryID string, photoIDs []string) {
	g := m.GalleryByID(galleryID)
	if g == nil {
		return
	}
	present := make(map[string]bool, len(g.PhotoIDs))
	for _, id := range g.PhotoIDs {
		present[id] = true
	}
	for _, id := range photoIDs {
		if !present[id] {
			present[id] = true
			g.PhotoIDs = append(g.PhotoIDs, id)
		}
	}
}

// HasBlogPost reports whether a post with the given ID is recorded.
func (m *Manifest) HasBlogPost(id string) bool {
	for i := range m.Content.BlogPosts {
		if m.Content.BlogPosts[i].ID == id {
			return true
		}
	}
	return false
}

// AddBlogPost records a post unless its ID is already present.
func (m *Manifest) AddBlogPost(p BlogPost) bool {
	if m.HasBlogPost(p.ID) {
		return false
	}
	m.Content.BlogPosts = append(m.Content.BlogPosts, p)
	return true
}

// RunByID locates a run record by its ID.
func (m *Manifest) RunByID(runID string) *BackupRun {
	for i := range m.BackupRuns {
		if m.BackupRuns[i].RunID == runID {
			return &m.BackupRuns[i]
		}
	}
	return nil
}
