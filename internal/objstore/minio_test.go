package objstore

import "testing"

func TestObjectPath(t *testing.T) {
	if got := ObjectPath("u1", "ord1", "file.pdf"); got != "u1/ord1/file.pdf" {
		t.Fatalf("ObjectPath = %q", got)
	}
	if got := ObjectPath("u1", "", "file.pdf"); got != "u1/no-order/file.pdf" {
		t.Fatalf("orderless ObjectPath = %q", got)
	}
}

func TestContentHashIsStable(t *testing.T) {
	a := ContentHash([]byte("same bytes"))
	b := ContentHash([]byte("same bytes"))
	if a == "" || a != b {
		t.Fatalf("hashes differ: %q vs %q", a, b)
	}
	if ContentHash([]byte("other bytes")) == a {
		t.Fatal("distinct content collided")
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(a))
	}
}
