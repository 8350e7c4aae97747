// Package attach implements the per-category file attachment pipeline:
// validation, upload, soft-delete removal, and reconciliation of optimistic
// local state against the server-confirmed set.
package attach

import (
	"path/filepath"
	"strings"
	"time"

	"filings/api/internal/catalog"
)

// Status is the lifecycle state of one attachment. Exactly one holds at any
// time. removing is only reachable from done; error is reachable from any
// state and is terminal until a fresh upload creates a new item.
type Status string

const (
	StatusUploading Status = "uploading"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusRemoving  Status = "removing"
)

// Attachment is one file in the pipeline. LocalID is client-generated and
// stable for the item's lifetime; ServerID is assigned after the first
// successful metadata insert.
type Attachment struct {
	LocalID     string
	ServerID    string
	Category    catalog.Category
	DisplayName string
	StoredName  string
	StoragePath string
	MimeType    string
	SizeBytes   int64
	Status      Status
	Error       string
	CreatedAt   time.Time
}

// Stored filenames carry a fixed bracket token per category, so the category
// can be reconstructed purely from the filename. This is a durable on-record
// format: files uploaded before categories existed have no token and are
// attributed to the drawing category.
var categoryPrefixes = map[catalog.Category]string{
	catalog.CategoryDisclosure: "[DISCLOSURE]",
	catalog.CategoryDrawing:    "[DRAWING]",
	catalog.CategorySpec:       "[SPEC]",
	catalog.CategoryClaims:     "[CLAIMS]",
	catalog.CategoryAbstract:   "[ABSTRACT]",
}

// Categories lists every attachment category in display order.
var Categories = []catalog.Category{
	catalog.CategoryDisclosure,
	catalog.CategoryDrawing,
	catalog.CategorySpec,
	catalog.CategoryClaims,
	catalog.CategoryAbstract,
}

// PrefixFor returns the bracket token for a category.
func PrefixFor(c catalog.Category) string {
	return categoryPrefixes[c]
}

// StoredName composes the on-record filename for a category and original
// filename.
func StoredName(c catalog.Category, original string) string {
	return PrefixFor(c) + " " + original
}

// ParseStoredName splits a stored filename into its category and the original
// filename. Prefixless filenames are legacy and map to the drawing category.
func ParseStoredName(stored string) (catalog.Category, string) {
	for c, prefix := range categoryPrefixes {
		if strings.HasPrefix(stored, prefix+" ") {
			return c, strings.TrimPrefix(stored, prefix+" ")
		}
	}
	return catalog.CategoryDrawing, stored
}

// mime types inferred from extension when the browser reports none.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".svg":  "image/svg+xml",
}

// EffectiveMimeType prefers the reported type and falls back to extension
// inference for the small known set. Empty means the type could not be
// determined.
func EffectiveMimeType(fileName, reported string) string {
	if strings.TrimSpace(reported) != "" {
		return reported
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	return extensionTypes[ext]
}

// AllowedType reports whether mimeType is in the allow-list.
func AllowedType(mimeType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, mimeType) {
			return true
		}
	}
	return false
}
