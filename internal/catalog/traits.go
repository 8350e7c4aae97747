package catalog

import "strings"

// Category names one attachment slot. The values line up with the bracket
// tokens used in stored filenames (see the attach package).
type Category string

const (
	CategoryDisclosure Category = "disclosure"
	CategoryDrawing    Category = "drawing"
	CategorySpec       Category = "spec"
	CategoryClaims     Category = "claims"
	CategoryAbstract   Category = "abstract"
)

// Field traits are derived from title text rather than stored in the catalog.
// The catalog rows come from the storefront's service definitions, which only
// carry titles, so pattern matching is the contract we have. A title like
// "Other Instructions for Drawings" would match both heuristics; such a field
// is simply non-core either way.

var commentMarkers = []string{"comment", "notes", "instructions", "message"}

// IsCommentLike reports whether a field is a free-text remark rather than a
// substantive answer.
func IsCommentLike(title string) bool {
	lower := strings.ToLower(title)
	for _, marker := range commentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsUploadField reports whether a field collects files rather than text.
func IsUploadField(title string) bool {
	_, ok := CategoryForTitle(title)
	return ok
}

// CategoryForTitle maps a field title onto the attachment category it feeds.
// "Drawings/Figures" is matched exactly for backward compatibility with the
// original catalog row that predates upload-suffixed titles.
func CategoryForTitle(title string) (Category, bool) {
	lower := strings.ToLower(strings.TrimSpace(title))
	if lower == "drawings/figures" {
		return CategoryDrawing, true
	}
	if !strings.Contains(lower, "upload") {
		return "", false
	}
	switch {
	case strings.Contains(lower, "disclosure"):
		return CategoryDisclosure, true
	case strings.Contains(lower, "drawing"), strings.Contains(lower, "figure"):
		return CategoryDrawing, true
	case strings.Contains(lower, "specification"), strings.Contains(lower, "spec"):
		return CategorySpec, true
	case strings.Contains(lower, "claim"):
		return CategoryClaims, true
	case strings.Contains(lower, "abstract"):
		return CategoryAbstract, true
	}
	return "", false
}

// ParseCategory validates a raw category identifier.
func ParseCategory(raw string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryDisclosure:
		return CategoryDisclosure, true
	case CategoryDrawing:
		return CategoryDrawing, true
	case CategorySpec:
		return CategorySpec, true
	case CategoryClaims:
		return CategoryClaims, true
	case CategoryAbstract:
		return CategoryAbstract, true
	}
	return "", false
}

// IsNameList reports whether a field holds a repeatable list of person names
// (applicants or inventors), serialized as newline-joined text.
func IsNameList(title string) bool {
	lower := strings.ToLower(title)
	if !strings.Contains(lower, "name") {
		return false
	}
	return strings.Contains(lower, "applicant") || strings.Contains(lower, "inventor")
}

// IsCore reports whether a field counts toward completeness: neither an
// upload slot nor a comment-like remark.
func IsCore(title string) bool {
	return !IsUploadField(title) && !IsCommentLike(title)
}

// NormalizeTitle lower-cases a title, strips punctuation, and collapses
// whitespace, producing the lookup key used for limits.
func NormalizeTitle(title string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ', r == '\t', r == '/', r == '-', r == '_':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped
		}
	}
	return strings.TrimSpace(b.String())
}
