// Package site renders the archived manifest into a static, offline
// browsable site: a root index, one page per gallery, one page per blog
// post. All naming goes through the shared layout and normalizer so the
// generator never re-implements path rules. Regeneration is idempotent.
package site

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path"

	"musearchive/pkg/logger"
	"musearchive/pkg/manifest"
	"musearchive/pkg/normalize"
)

// Generator renders the offline site for one archive root.
type Generator struct {
	layout manifest.Layout
	log    logger.Logger
}

// New creates a site generator.
func New(layout manifest.Layout, log logger.Logger) *Generator {
	return &Generator{layout: layout, log: log}
}

type galleryPage struct {
	Gallery manifest.Gallery
	Slug    string
	Photos  []photoRef
}

type postPage struct {
	Post manifest.BlogPost
	Body template.HTML
}

type photoRef struct {
	Photo manifest.Photo
	Src   string
}

type indexPage struct {
	Profile   manifest.Profile
	Galleries []galleryPage
	Posts     []manifest.BlogPost
	Loose     []photoRef
}

// Generate writes the whole site from the manifest. Gallery slugs are
// assigned through a single registry pass so collisions resolve the same
// way on every regeneration of the same manifest.
func (g *Generator) Generate(m *manifest.Manifest) error {
	reg := normalize.NewSlugRegistry()

	grouped := make(map[string]bool)

	var galleries []galleryPage
	for _, gal := range m.Content.Galleries {
		page := galleryPage{
			Gallery: gal,
			Slug:    normalize.Slug(gal.Name, gal.ID, reg),
		}
		for _, id := range gal.PhotoIDs {
			photo, ok := m.PhotoByID(id)
			if !ok {
				continue
			}
			grouped[id] = true
			page.Photos = append(page.Photos, photoRef{
				Photo: photo,
				Src:   g.mediaRef(2, photo),
			})
		}
		galleries = append(galleries, page)
	}

	var loose []photoRef
	for _, p := range m.Content.Photos {
		if grouped[p.ID] || p.GalleryID != "" {
			continue
		}
		loose = append(loose, photoRef{Photo: p, Src: g.mediaRef(0, p)})
	}

	if err := g.renderIndex(indexPage{
		Profile:   m.Profile,
		Galleries: galleries,
		Posts:     m.Content.BlogPosts,
		Loose:     loose,
	}); err != nil {
		return err
	}

	for _, page := range galleries {
		if err := g.renderGallery(page); err != nil {
			return err
		}
	}
	for _, post := range m.Content.BlogPosts {
		if err := g.renderPost(post); err != nil {
			return err
		}
	}

	g.log.InfoWithFields("site generated", map[string]interface{}{
		"galleries": len(galleries),
		"posts":     len(m.Content.BlogPosts),
	})
	return nil
}

// mediaRef builds a relative media reference from a page the given number
// of directory levels below the archive root.
func (g *Generator) mediaRef(depth int, p manifest.Photo) string {
	ref := path.Join(g.layout.MetadataDir, "media", normalize.MediaFilename(p.ID, p.ContentType))
	for i := 0; i < depth; i++ {
		ref = path.Join("..", ref)
	}
	return ref
}

func (g *Generator) renderIndex(page indexPage) error {
	return renderTo(g.layout.IndexPath(), indexTemplate, page)
}

func (g *Generator) renderGallery(page galleryPage) error {
	dir := g.layout.GalleryPageDir(page.Slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create gallery page directory: %w", err)
	}
	return renderTo(path.Join(dir, "index.html"), galleryTemplate, page)
}

func (g *Generator) renderPost(post manifest.BlogPost) error {
	dir := g.layout.BlogPageDir(post.Slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create blog page directory: %w", err)
	}
	// the body was normalized to local references at capture time
	return renderTo(path.Join(dir, "index.html"), postTemplate, postPage{
		Post: post,
		Body: template.HTML(post.BodyHTML),
	})
}

func renderTo(dest string, tmpl *template.Template, data interface{}) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", dest, err)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}
