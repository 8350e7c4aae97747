// Package draft manages in-progress form answers: the typed cache key, the
// value map, and the Redis-backed local tier layered under the Postgres
// source of truth.
package draft

import (
	"fmt"
	"strings"

	"filings/api/internal/catalog"
)

// Values maps a field title to its answer text.
type Values map[string]string

// Clone returns an independent copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// AllBlank reports whether every value is empty or whitespace. Blank value
// sets are never cached and never clobbered by seeding.
func (v Values) AllBlank() bool {
	for _, val := range v {
		if strings.TrimSpace(val) != "" {
			return false
		}
	}
	return true
}

// FilterKeys keeps only entries whose key appears in the given field titles.
func (v Values) FilterKeys(titles []string) Values {
	allowed := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		allowed[t] = struct{}{}
	}
	out := make(Values)
	for k, val := range v {
		if _, ok := allowed[k]; ok {
			out[k] = val
		}
	}
	return out
}

// JoinNames serializes an ordered name list as newline-joined text, dropping
// blank entries. The serialized form's non-blank lines always equal the
// list's non-blank entries.
func JoinNames(names []string) string {
	var kept []string
	for _, n := range names {
		if strings.TrimSpace(n) != "" {
			kept = append(kept, strings.TrimSpace(n))
		}
	}
	return strings.Join(kept, "\n")
}

// SplitNames parses newline-joined text back into an ordered name list. The
// result always has at least one row, possibly blank, so callers have
// something to render.
func SplitNames(serialized string) []string {
	var names []string
	for _, line := range strings.Split(serialized, "\n") {
		if strings.TrimSpace(line) != "" {
			names = append(names, strings.TrimSpace(line))
		}
	}
	if len(names) == 0 {
		return []string{""}
	}
	return names
}

// Key identifies one draft: a user filling one form type, optionally bound to
// an order. OrderID is empty when the user has no order context yet.
type Key struct {
	UserID   string
	OrderID  string
	FormType catalog.FormType
}

// Fallback returns the order-less variant of the key, used for the "last
// values entered for this form type" read path.
func (k Key) Fallback() Key {
	return Key{UserID: k.UserID, FormType: k.FormType}
}

// String renders the key for cache storage. The components are joined with a
// separator that cannot appear in ids or form types, so distinct tuples can
// never collide.
func (k Key) String() string {
	return fmt.Sprintf("draft:%s|%s|%s", k.UserID, k.OrderID, k.FormType)
}
