package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"musearchive/pkg/logger"
)

// Store loads and persists the manifest for one archive root.
type Store struct {
	layout Layout
	logger logger.Logger
}

// NewStore creates a manifest store over a layout.
func NewStore(layout Layout, log logger.Logger) *Store {
	return &Store{layout: layout, logger: log}
}

// Layout exposes the store's path derivation.
func (s *Store) Layout() Layout {
	return s.layout
}

// Load reads and validates the existing manifest. A missing file or one
// that fails schema validation yields a fresh empty manifest; neither case
// is an error.
func (s *Store) Load(username, profileURL string) *Manifest {
	data, err := os.ReadFile(s.layout.ManifestPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WarnWithFields("manifest unreadable, starting fresh", map[string]interface{}{
				"path":  s.layout.ManifestPath(),
				"error": err.Error(),
			})
		}
		return s.fresh(username, profileURL)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.WarnWithFields("manifest failed to parse, starting fresh", map[string]interface{}{
			"path":  s.layout.ManifestPath(),
			"error": err.Error(),
		})
		return s.fresh(username, profileURL)
	}

	if err := validate(&m); err != nil {
		s.logger.WarnWithFields("manifest failed validation, starting fresh", map[string]interface{}{
			"path":  s.layout.ManifestPath(),
			"error": err.Error(),
		})
		return s.fresh(username, profileURL)
	}

	s.logger.InfoWithFields("manifest loaded", map[string]interface{}{
		"username":  m.Profile.Username,
		"photos":    len(m.Content.Photos),
		"galleries": len(m.Content.Galleries),
		"posts":     len(m.Content.BlogPosts),
		"runs":      len(m.BackupRuns),
	})

	return &m
}

func (s *Store) fresh(username, profileURL string) *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		Profile: Profile{
			Username:      username,
			ProfileURL:    profileURL,
			BackupVersion: SchemaVersion,
		},
		Content: Content{
			Photos:    []Photo{},
			Galleries: []Gallery{},
			BlogPosts: []BlogPost{},
		},
		BackupRuns: []BackupRun{},
	}
}

// validate rejects manifests this build cannot safely extend
func validate(m *Manifest) error {
	if m.SchemaVersion == "" {
		return fmt.Errorf("missing schema version")
	}
	if m.Profile.Username == "" {
		return fmt.Errorf("missing profile username")
	}

	seen := make(map[string]bool)
	for _, p := range m.Content.Photos {
		if p.ID == "" {
			return fmt.Errorf("photo with empty ID")
		}
		if seen["photo:"+p.ID] {
			return fmt.Errorf("duplicate photo ID %q", p.ID)
		}
		seen["photo:"+p.ID] = true
	}
	for _, g := range m.Content.Galleries {
		if g.ID == "" {
			return fmt.Errorf("gallery with empty ID")
		}
		if seen["gallery:"+g.ID] {
			return fmt.Errorf("duplicate gallery ID %q", g.ID)
		}
		seen["gallery:"+g.ID] = true
	}
	for _, p := range m.Content.BlogPosts {
		if p.ID == "" {
			return fmt.Errorf("blog post with empty ID")
		}
		if seen["post:"+p.ID] {
			return fmt.Errorf("duplicate blog post ID %q", p.ID)
		}
		seen["post:"+p.ID] = true
	}

	return nil
}

// SaveAtomic serializes the manifest to a temporary sibling and renames it
// into place, so a reader never observes a partially-written file.
func (s *Store) SaveAtomic(m *Manifest) error {
	if err := os.MkdirAll(s.layout.MetadataPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	target := s.layout.ManifestPath()
	tempPath := target + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary manifest file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(m); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync manifest file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close manifest file: %w", err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace manifest file: %w", err)
	}

	s.logger.DebugWithFields("manifest saved", map[string]interface{}{
		"path": target,
		"runs": len(m.BackupRuns),
	})

	return nil
}

// RecordRunStart appends a run record in its initial open state and returns
// the run ID used to close it later.
func (s *Store) RecordRunStart(m *Manifest) string {
	now := time.Now().UTC()
	runID := fmt.Sprintf("run-%s-%s", now.Format("20060102T150405Z"), uuid.NewString()[:8])

	m.BackupRuns = append(m.BackupRuns, BackupRun{
		RunID:           runID,
		TS:              now,
		DownloadedItems: []string{},
		Status:          StatusRunning,
	})

	s.logger.InfoWithFields("run opened", map[string]interface{}{
		"run_id": runID,
	})

	return runID
}

// RecordRunFinish locates the open run by ID and fills in its terminal
// counts, status, and error message.
func (s *Store) RecordRunFinish(m *Manifest, runID string, counts RunCounts, status string, errMsg string) error {
	run := m.RunByID(runID)
	if run == nil {
		return fmt.Errorf("run %q not found in manifest", runID)
	}

	run.NewContentCount = counts.New
	run.MissingContentCount = counts.Missing
	run.InvalidContentCount = counts.Invalid
	if counts.DownloadedItems != nil {
		run.DownloadedItems = counts.DownloadedItems
	}
	run.Status = status
	run.ErrorMessage = errMsg

	if status == StatusSuccess || status == StatusPartial {
		m.Profile.LastBackupTS = time.Now().UTC()
		m.Profile.BackupVersion = SchemaVersion
	}

	s.logger.InfoWithFields("run closed", map[string]interface{}{
		"run_id": runID,
		"status": status,
		"new":    counts.New,
	})

	return nil
}
