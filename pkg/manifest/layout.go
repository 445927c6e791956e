package manifest

import (
	"path/filepath"

	"musearchive/pkg/normalize"
)

// Layout derives every on-disk path of an archive root. The site generator
// consumes the same layout, so naming rules live in exactly one place.
type Layout struct {
	Root        string
	MetadataDir string
}

// NewLayout builds a layout for an archive root.
func NewLayout(root, metadataDir string) Layout {
	return Layout{Root: root, MetadataDir: metadataDir}
}

// MetadataPath is the metadata directory under the archive root.
func (l Layout) MetadataPath() string {
	return filepath.Join(l.Root, l.MetadataDir)
}

// ManifestPath is the manifest file location.
func (l Layout) ManifestPath() string {
	return filepath.Join(l.MetadataPath(), "manifest.json")
}

// MediaDir holds downloaded media binaries.
func (l Layout) MediaDir() string {
	return filepath.Join(l.MetadataPath(), "media")
}

// MediaPath is the on-disk location for a media asset.
func (l Layout) MediaPath(id, contentType string) string {
	return filepath.Join(l.MediaDir(), normalize.MediaFilename(id, contentType))
}

// LogsDir holds diagnostic artifacts and failure reports.
func (l Layout) LogsDir() string {
	return filepath.Join(l.MetadataPath(), "logs")
}

// FailureReportPath is the download failure report for a run.
func (l Layout) FailureReportPath(runID string) string {
	return filepath.Join(l.LogsDir(), "download-failures-"+runID+".json")
}

// GalleryPageDir is the generated page directory for a gallery slug.
func (l Layout) GalleryPageDir(slug string) string {
	return filepath.Join(l.Root, "galleries", slug)
}

// BlogPageDir is the generated page directory for a blog post slug.
func (l Layout) BlogPageDir(slug string) string {
	return filepath.Join(l.Root, "blog", slug)
}

// IndexPath is the generated root index page.
func (l Layout) IndexPath() string {
	return filepath.Join(l.Root, "index.html")
}
