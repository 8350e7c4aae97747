package attach

import (
	"testing"

	"filings/api/internal/catalog"
)

func TestStoredNameRoundTrip(t *testing.T) {
	for _, category := range Categories {
		stored := StoredName(category, "figure-1.pdf")
		parsed, display := ParseStoredName(stored)
		if parsed != category {
			t.Fatalf("category %s came back as %s", category, parsed)
		}
		if display != "figure-1.pdf" {
			t.Fatalf("display name = %q", display)
		}
	}
}

func TestParseStoredNameWithoutToken(t *testing.T) {
	// Files stored before category tokens existed carry no prefix and are
	// attributed to the drawing category with the full name kept.
	category, display := ParseStoredName("legacy-sketch.png")
	if category != catalog.CategoryDrawing {
		t.Fatalf("category = %s, want drawing", category)
	}
	if display != "legacy-sketch.png" {
		t.Fatalf("display = %q", display)
	}
}

func TestPrefixesAreDistinct(t *testing.T) {
	seen := map[string]catalog.Category{}
	for _, category := range Categories {
		prefix := PrefixFor(category)
		if prefix == "" {
			t.Fatalf("category %s has no prefix", category)
		}
		if prior, dup := seen[prefix]; dup {
			t.Fatalf("categories %s and %s share prefix %s", prior, category, prefix)
		}
		seen[prefix] = category
	}
}

func TestEffectiveMimeType(t *testing.T) {
	cases := []struct {
		file, reported, want string
	}{
		{"claims.pdf", "application/pdf", "application/pdf"},
		{"claims.pdf", "", "application/pdf"},
		{"scan.JPG", "", "image/jpeg"},
		{"diagram.svg", "", "image/svg+xml"},
		{"unknown.xyz", "", ""},
		{"unknown.xyz", "application/octet-stream", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := EffectiveMimeType(tc.file, tc.reported); got != tc.want {
			t.Fatalf("EffectiveMimeType(%q, %q) = %q, want %q", tc.file, tc.reported, got, tc.want)
		}
	}
}

func TestAllowedType(t *testing.T) {
	allowed := []string{"application/pdf", "image/png"}
	if !AllowedType("APPLICATION/PDF", allowed) {
		t.Fatal("case-insensitive match failed")
	}
	if AllowedType("image/gif", allowed) {
		t.Fatal("disallowed type accepted")
	}
}
