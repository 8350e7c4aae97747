package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the confirmed drafts' flattened answer
// text, with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || strings.TrimSpace(q.UserID) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := `d.user_id = $2 AND d.completed AND d.fts @@ plainto_tsquery('english', $1)`
	args := []any{q.Text, q.UserID}
	if q.FilterFormType != "" {
		where += fmt.Sprintf(" AND d.form_type = $%d", len(args)+1)
		args = append(args, q.FilterFormType)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM form_drafts d WHERE ` + where
	if err := p.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT d.id, d.form_type, d.order_id,
			ts_headline('english', d.values_text, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(d.fts, plainto_tsquery('english', $1)) AS rank
		FROM form_drafts d
		WHERE %s
		ORDER BY rank DESC
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search submissions: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ID, &r.FormType, &r.OrderID, &r.Snippet, &rank); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every confirmed submission for reindexing into
// Meilisearch.
func (p *PgFTS) LoadAllRecords() ([]SubmissionRecord, error) {
	rows, err := p.db.Query(`
		SELECT id, user_id, order_id, form_type, values_text
		FROM form_drafts
		WHERE completed
	`)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	defer rows.Close()

	var out []SubmissionRecord
	for rows.Next() {
		var rec SubmissionRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.OrderID, &rec.FormType, &rec.Text); err != nil {
			return nil, fmt.Errorf("scan submission record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
