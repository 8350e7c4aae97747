// Package search finds a user's previously submitted intake forms by answer
// text, via Meilisearch when available with a PostgreSQL full-text fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	FormType string `json:"formType"`
	OrderID  string `json:"orderId,omitempty"`
	Snippet  string `json:"snippet"`
}

// Query describes a search request. UserID is mandatory: submissions are
// only ever searchable by their owner.
type Query struct {
	UserID         string
	Text           string
	FilterFormType string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SubmissionRecord is the data we index for a confirmed submission.
type SubmissionRecord struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	OrderID  string `json:"orderId"`
	FormType string `json:"formType"`
	Text     string `json:"text"`
}
