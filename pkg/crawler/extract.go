package crawler

import (
	"encoding/json"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"musearchive/pkg/jsonwalk"
	"musearchive/pkg/manifest"
	"musearchive/pkg/normalize"
)

// rawCandidate is one asset URL variant before resolution selection.
type rawCandidate struct {
	url     string
	width   int
	height  int
	density float64
}

type rawPhoto struct {
	id         string
	candidates []rawCandidate
	caption    string
	galleryID  string
}

type rawGallery struct {
	id          string
	name        string
	description string
	cover       string
	photoIDs    []string
	memberSeen  map[string]bool
}

type rawPost struct {
	id        string
	title     string
	body      string
	published time.Time
}

// harvest accumulates entities from both discovery sources, first
// occurrence wins per field. Insertion order is preserved so extraction is
// deterministic for a given crawl.
type harvest struct {
	photos     []*rawPhoto
	photoIdx   map[string]*rawPhoto
	galleries  []*rawGallery
	galleryIdx map[string]*rawGallery
	posts      []*rawPost
	postIdx    map[string]*rawPost
}

func newHarvest() *harvest {
	return &harvest{
		photoIdx:   make(map[string]*rawPhoto),
		galleryIdx: make(map[string]*rawGallery),
		postIdx:    make(map[string]*rawPost),
	}
}

func (h *harvest) photo(id string) *rawPhoto {
	if p, ok := h.photoIdx[id]; ok {
		return p
	}
	p := &rawPhoto{id: id}
	h.photoIdx[id] = p
	h.photos = append(h.photos, p)
	return p
}

func (h *harvest) gallery(id string) *rawGallery {
	if g, ok := h.galleryIdx[id]; ok {
		return g
	}
	g := &rawGallery{id: id, memberSeen: make(map[string]bool)}
	h.galleryIdx[id] = g
	h.galleries = append(h.galleries, g)
	return g
}

func (g *rawGallery) addMember(photoID string) {
	if photoID == "" || g.memberSeen[photoID] {
		return
	}
	g.memberSeen[photoID] = true
	g.photoIDs = append(g.photoIDs, photoID)
}

func (h *harvest) post(id string) *rawPost {
	if p, ok := h.postIdx[id]; ok {
		return p
	}
	p := &rawPost{id: id}
	h.postIdx[id] = p
	h.posts = append(h.posts, p)
	return p
}

// addJSON walks one intercepted response body, classifying object shapes
// structurally. Malformed bodies are skipped; intercepted traffic is
// best-effort input. The walker's sorted key order keeps entity ordering,
// and with it slug suffix assignment, stable for a given crawl.
func (h *harvest) addJSON(raw []byte) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return
	}
	jsonwalk.Walk(value, jsonwalk.Visitor{OnObject: h.classify})
}

// classify routes one JSON object to the entity it structurally resembles.
// Objects that fit none of the shapes are just traversed for children.
func (h *harvest) classify(node map[string]interface{}) {
	id := stringField(node, "id", "_id")
	if id == "" {
		return
	}

	switch {
	case stringField(node, "title") != "" && stringField(node, "body_html", "body") != "":
		h.classifyPost(id, node)
	case stringField(node, "name") != "" && hasAnyKey(node, "photos", "photo_ids", "cover_url", "cover"):
		h.classifyGallery(id, node)
	case len(photoCandidates(node)) > 0:
		h.classifyPhoto(id, node)
	}
}

func (h *harvest) classifyPost(id string, node map[string]interface{}) {
	p := h.post(id)
	if p.title == "" {
		p.title = stringField(node, "title")
	}
	if p.body == "" {
		p.body = stringField(node, "body_html", "body")
	}
	if p.published.IsZero() {
		p.published = timeField(node, "published_at", "published", "date")
	}
}

func (h *harvest) classifyGallery(id string, node map[string]interface{}) {
	g := h.gallery(id)
	if g.name == "" {
		g.name = stringField(node, "name")
	}
	if g.description == "" {
		g.description = stringField(node, "description")
	}
	if g.cover == "" {
		g.cover = stringField(node, "cover_url", "cover")
	}

	if members, ok := node["photo_ids"].([]interface{}); ok {
		for _, m := range members {
			if s, ok := m.(string); ok {
				g.addMember(s)
			}
		}
	}
	if nested, ok := node["photos"].([]interface{}); ok {
		for _, m := range nested {
			if obj, ok := m.(map[string]interface{}); ok {
				memberID := stringField(obj, "id", "_id")
				g.addMember(memberID)
				if memberID != "" && stringField(obj, "gallery_id") == "" {
					obj["gallery_id"] = id
				}
			}
		}
	}
}

func (h *harvest) classifyPhoto(id string, node map[string]interface{}) {
	p := h.photo(id)
	p.candidates = append(p.candidates, photoCandidates(node)...)
	if p.caption == "" {
		p.caption = stringField(node, "caption")
	}
	if p.galleryID == "" {
		p.galleryID = stringField(node, "gallery_id")
	}
}

// photoCandidates extracts every asset URL variant an object carries:
// direct url-ish fields plus nested variant arrays.
func photoCandidates(node map[string]interface{}) []rawCandidate {
	var cands []rawCandidate

	if u := stringField(node, "display_url", "image_url", "url", "src"); u != "" {
		cands = append(cands, rawCandidate{
			url:    u,
			width:  intField(node, "width"),
			height: intField(node, "height"),
		})
	}

	for _, key := range []string{"images", "candidates", "versions", "sizes"} {
		variants, ok := node[key].([]interface{})
		if !ok {
			continue
		}
		for _, v := range variants {
			obj, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			u := stringField(obj, "url", "src")
			if u == "" {
				continue
			}
			cands = append(cands, rawCandidate{
				url:     u,
				width:   intField(obj, "width"),
				height:  intField(obj, "height"),
				density: floatField(obj, "density"),
			})
		}
	}
	return cands
}

// addDOM runs the DOM half of the extraction pass over the final page
// snapshot.
func (h *harvest) addDOM(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}

	doc.Find("[data-photo-id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-photo-id")
		if id == "" {
			return
		}
		p := h.photo(id)
		if caption, ok := s.Attr("data-caption"); ok && p.caption == "" {
			p.caption = caption
		}
		if owner := s.Closest("[data-gallery-id]"); owner.Length() > 0 && p.galleryID == "" {
			p.galleryID, _ = owner.Attr("data-gallery-id")
		}

		img := s
		if !s.Is("img") {
			img = s.Find("img").First()
		}
		if src, ok := img.Attr("src"); ok && src != "" {
			p.candidates = append(p.candidates, rawCandidate{url: src})
		}
		if srcset, ok := img.Attr("srcset"); ok {
			p.candidates = append(p.candidates, parseSrcset(srcset)...)
		}
	})

	doc.Find("[data-gallery-id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-gallery-id")
		if id == "" {
			return
		}
		g := h.gallery(id)
		if g.name == "" {
			if name, ok := s.Attr("data-gallery-name"); ok {
				g.name = name
			} else {
				g.name = strings.TrimSpace(s.Find(".gallery-title").First().Text())
			}
		}
		s.Find("[data-photo-id]").Each(func(_ int, m *goquery.Selection) {
			memberID, _ := m.Attr("data-photo-id")
			g.addMember(memberID)
		})
	})

	doc.Find("article[data-entry-id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-entry-id")
		if id == "" {
			return
		}
		p := h.post(id)
		if p.title == "" {
			p.title = strings.TrimSpace(s.Find("h1,h2").First().Text())
		}
		if p.body == "" {
			if body, err := s.Find(".entry-body").First().Html(); err == nil {
				p.body = strings.TrimSpace(body)
			}
		}
		if p.published.IsZero() {
			if dt, ok := s.Find("time").First().Attr("datetime"); ok {
				if parsed, err := time.Parse(time.RFC3339, dt); err == nil {
					p.published = parsed
				}
			}
		}
	})

	return nil
}

// parseSrcset splits an img srcset into candidates with width or density
// descriptors.
func parseSrcset(srcset string) []rawCandidate {
	var cands []rawCandidate
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		cand := rawCandidate{url: fields[0]}
		if len(fields) > 1 {
			desc := fields[1]
			switch {
			case strings.HasSuffix(desc, "w"):
				cand.width, _ = strconv.Atoi(strings.TrimSuffix(desc, "w"))
			case strings.HasSuffix(desc, "x"):
				cand.density, _ = strconv.ParseFloat(strings.TrimSuffix(desc, "x"), 64)
			}
		}
		cands = append(cands, cand)
	}
	return cands
}

// buildEntities resolves the harvest into manifest entities: best variant
// per photo, normalized URLs, stable IDs, collision-resolved slugs, and
// blog bodies rewritten to local asset references. Entities whose asset
// URL fails normalization are dropped with a logged reason.
func (c *Controller) buildEntities(h *harvest) *Entities {
	now := time.Now().UTC()
	reg := normalize.NewSlugRegistry()
	ents := &Entities{}

	for _, rp := range h.photos {
		best, ok := normalize.SelectHighestResolution(toCandidates(rp.candidates))
		if !ok {
			c.log.DebugWithFields("photo dropped, no asset URL discovered", map[string]interface{}{
				"id": rp.id,
			})
			continue
		}
		res := normalize.NormalizeAssetURL(best.URL)
		if !res.OK() {
			c.log.WarnWithFields("photo dropped, asset URL rejected", map[string]interface{}{
				"id":     rp.id,
				"url":    best.URL,
				"reason": res.Reason,
			})
			continue
		}
		ents.Photos = append(ents.Photos, manifest.Photo{
			ID:          normalize.StableID(rp.id, res.URL, "photo"),
			URL:         res.URL,
			Width:       best.Width,
			Height:      best.Height,
			Caption:     rp.caption,
			GalleryID:   rp.galleryID,
			ContentType: contentTypeForURL(res.URL),
			CapturedAt:  now,
		})
	}

	for _, rg := range h.galleries {
		cover := ""
		if rg.cover != "" {
			res := normalize.NormalizeAssetURL(rg.cover)
			if res.OK() {
				cover = res.URL
			} else {
				c.log.DebugWithFields("gallery cover dropped, URL rejected", map[string]interface{}{
					"id":     rg.id,
					"reason": res.Reason,
				})
			}
		}
		ents.Galleries = append(ents.Galleries, manifest.Gallery{
			ID:          normalize.StableID(rg.id, cover, "gallery"),
			Name:        rg.name,
			Description: rg.description,
			CoverURL:    cover,
			PhotoIDs:    append([]string(nil), rg.photoIDs...),
		})
	}

	for _, rp := range h.posts {
		id := normalize.StableID(rp.id, "", "post")
		body := c.rewritePostBody(rp.body, ents, now)
		ents.BlogPosts = append(ents.BlogPosts, manifest.BlogPost{
			ID:          id,
			Slug:        normalize.Slug(rp.title, id, reg),
			Title:       rp.title,
			BodyHTML:    body,
			PublishedAt: rp.published,
		})
	}

	return ents
}

// rewritePostBody rewrites embedded remote asset references to local
// relative media paths, registering each referenced asset for download.
// Blog pages render under blog/<slug>/, two levels above the archive root.
func (c *Controller) rewritePostBody(body string, ents *Entities, now time.Time) string {
	if body == "" {
		return body
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		c.log.WithError(err).Warn("could not parse blog post body, keeping it verbatim")
		return body
	}

	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		res := normalize.NormalizeAssetURL(src)
		if !res.OK() {
			c.log.DebugWithFields("embedded asset reference kept verbatim", map[string]interface{}{
				"src":    src,
				"reason": res.Reason,
			})
			return
		}

		id := normalize.StableID("", res.URL, "asset")
		contentType := contentTypeForURL(res.URL)
		if !hasPhotoID(ents.Photos, id) {
			ents.Photos = append(ents.Photos, manifest.Photo{
				ID:          id,
				URL:         res.URL,
				ContentType: contentType,
				CapturedAt:  now,
			})
		}
		local := path.Join("..", "..", c.cfg.Output.MetadataDir, "media", normalize.MediaFilename(id, contentType))
		img.SetAttr("src", local)
	})

	rewritten, err := doc.Find("body").Html()
	if err != nil {
		c.log.WithError(err).Warn("could not serialize rewritten blog post body")
		return body
	}
	return strings.TrimSpace(rewritten)
}

func hasPhotoID(photos []manifest.Photo, id string) bool {
	for i := range photos {
		if photos[i].ID == id {
			return true
		}
	}
	return false
}

func toCandidates(raw []rawCandidate) []normalize.Candidate {
	cands := make([]normalize.Candidate, 0, len(raw))
	for _, rc := range raw {
		cands = append(cands, normalize.Candidate{
			URL:     rc.url,
			Width:   rc.width,
			Height:  rc.height,
			Density: rc.density,
		})
	}
	return cands
}

// contentTypeForURL guesses a media content type from the URL's extension.
// Unknown extensions default to JPEG, the dominant asset type.
func contentTypeForURL(u string) string {
	trimmed := u
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch strings.ToLower(path.Ext(trimmed)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "image/jpeg"
	}
}

func stringField(node map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := node[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func hasAnyKey(node map[string]interface{}, keys ...string) bool {
	for _, key := range keys {
		if _, ok := node[key]; ok {
			return true
		}
	}
	return false
}

func intField(node map[string]interface{}, key string) int {
	if f, ok := node[key].(float64); ok {
		return int(f)
	}
	return 0
}

func floatField(node map[string]interface{}, key string) float64 {
	if f, ok := node[key].(float64); ok {
		return f
	}
	return 0
}

func timeField(node map[string]interface{}, keys ...string) time.Time {
	for _, key := range keys {
		s, ok := node[key].(string)
		if !ok {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
