// Package diff classifies discovered content against the manifest and the
// actual state of previously downloaded media files. The result is the
// download work queue; re-running against an unchanged remote with intact
// local files classifies everything as ok and queues nothing.
package diff

import (
	"os"

	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
)

// Item is one downloadable unit of work, deduplicated by stable ID.
type Item struct {
	ID           string
	URL          string
	ContentType  string
	ExpectedSize int64
}

// Classification is the outcome of a diff pass.
type Classification struct {
	New     []Item
	Missing []Item
	Invalid []Item
	OK      []Item

	// Queue is new ∪ missing ∪ invalid, deduplicated by stable ID with
	// the first occurrence winning.
	Queue []Item
}

// Counts summarizes a classification for the run record.
func (c *Classification) Counts() (new, missing, invalid int) {
	return len(c.New), len(c.Missing), len(c.Invalid)
}

// MediaPathFunc resolves the local media path for an item.
type MediaPathFunc func(id, contentType string) string

// Classify compares discovered items against the manifest and filesystem.
//
//   - new: discovered ID absent from manifest content
//   - missing: manifest ID whose local file does not exist
//   - invalid: manifest ID whose local file is zero bytes or mismatches a
//     known expected size
//   - ok: manifest ID whose local file passes validation
func Classify(discovered []Item, m *manifest.Manifest, mediaPath MediaPathFunc, log logger.Logger) *Classification {
	c := &Classification{}
	queued := make(map[string]bool)

	enqueue := func(item Item) {
		if queued[item.ID] {
			return
		}
		queued[item.ID] = true
		c.Queue = append(c.Queue, item)
	}

	seen := make(map[string]bool)
	for _, item := range discovered {
		if seen[item.ID] {
			continue // first occurrence wins
		}
		seen[item.ID] = true

		if !m.HasPhoto(item.ID) {
			c.New = append(c.New, item)
			enqueue(item)
		}
	}

	// Previously recorded media is re-validated against the filesystem
	// whether or not this run re-discovered it; nothing captured is ever
	// allowed to silently rot.
	for _, photo := range m.Content.Photos {
		item := Item{
			ID:           photo.ID,
			URL:          photo.URL,
			ContentType:  photo.ContentType,
			ExpectedSize: photo.ExpectedSize,
		}

		path := mediaPath(photo.ID, photo.ContentType)
		switch state := validateFile(path, photo.ExpectedSize); state {
		case fileMissing:
			c.Missing = append(c.Missing, item)
			enqueue(item)
			log.DebugWithFields("local media file missing", map[string]interface{}{
				"id":   photo.ID,
				"path": path,
			})
		case fileInvalid:
			c.Invalid = append(c.Invalid, item)
			enqueue(item)
			log.DebugWithFields("local media file invalid", map[string]interface{}{
				"id":   photo.ID,
				"path": path,
			})
		case fileOK:
			c.OK = append(c.OK, item)
		}
	}

	return c
}

type fileState int

const (
	fileOK fileState = iota
	fileMissing
	fileInvalid
)

// validateFile applies the missing/invalid rules for one local media file.
func validateFile(path string, expectedSize int64) fileState {
	info, err := os.Stat(path)
	if err != nil {
		return fileMissing
	}
	if info.Size() == 0 {
		return fileInvalid
	}
	if expectedSize > 0 && info.Size() != expectedSize {
		return fileInvalid
	}
	return fileOK
}

// ValidateLocalFile reports whether a local file at path satisfies the same
// rules the classifier applies; the download pipeline's need check uses it.
func ValidateLocalFile(path string, expectedSize int64) bool {
	return validateFile(path, expectedSize) == fileOK
}
