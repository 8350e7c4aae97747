package catalog

import "testing"

func TestIsCommentLike(t *testing.T) {
	cases := map[string]bool{
		"Additional Comments":       true,
		"Special Instructions":      true,
		"Notes for the Attorney":    true,
		"Message to Examiner":       true,
		"Title of Invention":        false,
		"Brief Summary of the Invention": false,
	}
	for title, want := range cases {
		if got := IsCommentLike(title); got != want {
			t.Fatalf("IsCommentLike(%q) = %v, want %v", title, got, want)
		}
	}
}

func TestIsUploadField(t *testing.T) {
	cases := map[string]bool{
		"Invention Disclosure Upload":       true,
		"Drawings/Figures":                  true,
		"Provisional Specification Upload":  true,
		"Claims Upload":                     true,
		"Abstract Upload":                   true,
		"Title of Invention":                false,
		"Examiner Objections Summary":       false,
	}
	for title, want := range cases {
		if got := IsUploadField(title); got != want {
			t.Fatalf("IsUploadField(%q) = %v, want %v", title, got, want)
		}
	}
}

func TestCategoryForTitle(t *testing.T) {
	cases := []struct {
		title string
		want  Category
		ok    bool
	}{
		{"Invention Disclosure Upload", CategoryDisclosure, true},
		{"Drawings/Figures", CategoryDrawing, true},
		{"Provisional Specification Upload", CategorySpec, true},
		{"Claims Upload", CategoryClaims, true},
		{"Abstract Upload", CategoryAbstract, true},
		{"Title of Invention", "", false},
	}
	for _, tc := range cases {
		got, ok := CategoryForTitle(tc.title)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("CategoryForTitle(%q) = %s, %v", tc.title, got, ok)
		}
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range []Category{CategoryDisclosure, CategoryDrawing, CategorySpec, CategoryClaims, CategoryAbstract} {
		got, ok := ParseCategory(string(c))
		if !ok || got != c {
			t.Fatalf("ParseCategory(%s) = %s, %v", c, got, ok)
		}
	}
	if got, ok := ParseCategory(" DRAWING "); !ok || got != CategoryDrawing {
		t.Fatalf("ParseCategory with padding = %s, %v", got, ok)
	}
	if _, ok := ParseCategory("appendix"); ok {
		t.Fatal("unknown category accepted")
	}
}

func TestIsNameList(t *testing.T) {
	cases := map[string]bool{
		"Applicant Name(s)":  true,
		"Inventor Name(s)":   true,
		"Title of Invention": false,
		"Field of Invention": false,
	}
	for title, want := range cases {
		if got := IsNameList(title); got != want {
			t.Fatalf("IsNameList(%q) = %v, want %v", title, got, want)
		}
	}
}

func TestIsCore(t *testing.T) {
	cases := map[string]bool{
		"Title of Invention":          true,
		"Applicant Name(s)":           true,
		"Invention Disclosure Upload": false,
		"Drawings/Figures":            false,
		"Additional Comments":         false,
		"Special Instructions":        false,
	}
	for title, want := range cases {
		if got := IsCore(title); got != want {
			t.Fatalf("IsCore(%q) = %v, want %v", title, got, want)
		}
	}
}

func TestNormalizeTitle(t *testing.T) {
	if NormalizeTitle("Drawings/Figures") != NormalizeTitle("drawings figures") {
		t.Fatal("separator characters not collapsed")
	}
	if NormalizeTitle("  Title  of   Invention ") != NormalizeTitle("Title of Invention") {
		t.Fatal("whitespace not collapsed")
	}
	if NormalizeTitle("Applicant Name(s)") != NormalizeTitle("applicant names") {
		t.Fatal("punctuation not stripped")
	}
}
