package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"musearchive/pkg/browser"
)

// captureDiagnostics saves a screenshot and a full-page HTML snapshot
// under the archive's logs directory, named with phase, run ID, and
// timestamp. Capture failures are logged and never surfaced; they must not
// mask the error that triggered the capture.
func (c *Controller) captureDiagnostics(ctx context.Context, session browser.Session, phase, runID string) {
	dir := c.layout.LogsDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		c.log.WithError(err).Warn("could not create diagnostics directory")
		return
	}

	base := fmt.Sprintf("%s-%s-%s", phase, runID, time.Now().UTC().Format("20060102T150405Z"))

	if shot, err := session.Screenshot(ctx); err != nil {
		c.log.WithError(err).Warn("diagnostic screenshot capture failed")
	} else if err := os.WriteFile(filepath.Join(dir, base+".png"), shot, 0644); err != nil {
		c.log.WithError(err).Warn("could not write diagnostic screenshot")
	}

	if html, err := session.HTML(ctx); err != nil {
		c.log.WithError(err).Warn("diagnostic HTML capture failed")
	} else if err := os.WriteFile(filepath.Join(dir, base+".html"), []byte(html), 0644); err != nil {
		c.log.WithError(err).Warn("could not write diagnostic HTML snapshot")
	}
}
