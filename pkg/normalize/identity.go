package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// stableIDHashLen is the hex prefix length of hashed fallback IDs.
const stableIDHashLen = 12

// StableID derives a stable content ID. A non-empty provider ID wins;
// otherwise the ID is a type-tagged prefix of the canonical URL's hash.
func StableID(providerID, canonicalURL, kind string) string {
	if trimmed := strings.TrimSpace(providerID); trimmed != "" {
		return trimmed
	}
	sum := sha256.Sum256([]byte(canonicalURL))
	return kind + "-" + hex.EncodeToString(sum[:])[:stableIDHashLen]
}

// SlugRegistry tracks slug ownership within one generation pass. Threading
// the same registry through a whole pass makes suffix assignment
// deterministic for a given call ordering.
type SlugRegistry struct {
	owner map[string]string // slug -> content ID
}

// NewSlugRegistry creates an empty registry.
func NewSlugRegistry() *SlugRegistry {
	return &SlugRegistry{owner: make(map[string]string)}
}

// Slug derives a URL-safe slug for a display name, resolving collisions
// against the registry. The same (name, id) pair always yields the same
// slug; a different ID colliding on the same base gets a deterministic hash
// suffix, and a numeric suffix if even that collides.
func Slug(name, id string, reg *SlugRegistry) string {
	base := slugify(name)
	if base == "" {
		base = "item-" + hashSuffix(id)
	}

	if slug, ok := reg.claim(base, id); ok {
		return slug
	}

	suffixed := base + "-" + hashSuffix(id)
	if slug, ok := reg.claim(suffixed, id); ok {
		return slug
	}

	for n := 2; ; n++ {
		numbered := fmt.Sprintf("%s-%d", suffixed, n)
		if slug, ok := reg.claim(numbered, id); ok {
			return slug
		}
	}
}

// claim registers slug for id, or confirms existing ownership. Returns
// false when the slug belongs to a different ID.
func (r *SlugRegistry) claim(slug, id string) (string, bool) {
	owner, exists := r.owner[slug]
	if !exists {
		r.owner[slug] = id
		return slug, true
	}
	if owner == id {
		return slug, true
	}
	return "", false
}

// hashSuffix returns a deterministic 6-character suffix for an ID.
func hashSuffix(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:6]
}

// slugify lowercases, decomposes diacritics, collapses whitespace and
// underscores to single hyphens, and strips everything outside [a-z0-9-].
func slugify(name string) string {
	decomposed := norm.NFD.String(name)

	var b strings.Builder
	b.Grow(len(decomposed))
	lastHyphen := true // suppress leading hyphens
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark left over from decomposition
		case unicode.IsSpace(r) || r == '_' || r == '-':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		default:
			r = unicode.ToLower(r)
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
				lastHyphen = false
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// maxFilenameLen is the conventional filesystem limit for a single name.
const maxFilenameLen = 255

// contentTypeExtensions maps known content types to file extensions.
var contentTypeExtensions = map[string]string{
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/avif":    "avif",
	"image/svg+xml": "svg",
	"image/bmp":     "bmp",
	"image/tiff":    "tiff",
	"video/mp4":     "mp4",
	"video/webm":    "webm",
}

// MediaFilename builds the on-disk filename for a media asset: sanitized
// stable ID plus an extension derived from the content type ("bin" for
// unknown types), truncated to fit the 255-byte filesystem limit.
func MediaFilename(id, contentType string) string {
	ext := ExtensionForContentType(contentType)

	safe := sanitizeID(id)
	if safe == "" {
		safe = "item-" + hashSuffix(id)
	}

	maxBase := maxFilenameLen - len(ext) - 1
	if len(safe) > maxBase {
		safe = safe[:maxBase]
	}

	return safe + "." + ext
}

// ExtensionForContentType maps a content type to its on-disk extension,
// "bin" for anything unrecognized.
func ExtensionForContentType(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if mapped, ok := contentTypeExtensions[mediaType]; ok {
		return mapped
	}
	return "bin"
}

func sanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}
