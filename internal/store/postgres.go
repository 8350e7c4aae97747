package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrPermissionDenied marks a write rejected by row-level policies. Callers
// use it to decide whether a fallback strategy applies.
var ErrPermissionDenied = errors.New("permission denied")

func isPermissionDenied(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const draftColumns = `id, user_id, order_id, form_type, field_values, completed, created_at, updated_at`

func scanDraft(row *sql.Row) (DraftRecord, error) {
	var rec DraftRecord
	var rawValues []byte
	err := row.Scan(&rec.ID, &rec.UserID, &rec.OrderID, &rec.FormType, &rawValues, &rec.Completed, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return DraftRecord{}, err
	}
	if err := json.Unmarshal(rawValues, &rec.Values); err != nil {
		return DraftRecord{}, fmt.Errorf("decode draft values: %w", err)
	}
	return rec, nil
}

// GetDraft fetches the exact (user, order, form type) row. sql.ErrNoRows on a
// miss.
func (s *PostgresStore) GetDraft(ctx context.Context, userID, orderID, formType string) (DraftRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM form_drafts
		WHERE user_id=$1 AND order_id=$2 AND form_type=$3
	`, userID, orderID, formType)
	return scanDraft(row)
}

// GetMostRecentDraft fetches the freshest row for (user, form type) across
// any order binding.
func (s *PostgresStore) GetMostRecentDraft(ctx context.Context, userID, formType string) (DraftRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM form_drafts
		WHERE user_id=$1 AND form_type=$2
		ORDER BY updated_at DESC
		LIMIT 1
	`, userID, formType)
	return scanDraft(row)
}

// GetMostRecentDraftAnyType fetches the user's single freshest row across all
// form types. Callers surface this only as a prefill candidate.
func (s *PostgresStore) GetMostRecentDraftAnyType(ctx context.Context, userID string) (DraftRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+draftColumns+`
		FROM form_drafts
		WHERE user_id=$1
		ORDER BY updated_at DESC
		LIMIT 1
	`, userID)
	return scanDraft(row)
}

// UpsertDraft writes a draft keyed by (user, order, form type). The completed
// flag is always taken from the record, never left standing from an earlier
// write.
func (s *PostgresStore) UpsertDraft(ctx context.Context, rec DraftRecord) error {
	rawValues, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("encode draft values: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO form_drafts (id, user_id, order_id, form_type, field_values, values_text, completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, order_id, form_type) DO UPDATE SET
			field_values=EXCLUDED.field_values,
			values_text=EXCLUDED.values_text,
			completed=EXCLUDED.completed,
			updated_at=NOW()
	`, rec.ID, rec.UserID, rec.OrderID, rec.FormType, rawValues, flattenValues(rec.Values), rec.Completed)
	if err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	return nil
}

// flattenValues concatenates answers in stable key order for the full-text
// index column.
func flattenValues(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		if strings.TrimSpace(values[k]) == "" {
			continue
		}
		parts = append(parts, values[k])
	}
	return strings.Join(parts, "\n")
}

const attachmentColumns = `id, user_id, order_id, form_type, file_name, storage_path, mime_type, size_bytes, content_hash, deleted_at, created_at`

// ListAttachments returns the non-deleted metadata rows for one form, oldest
// first.
func (s *PostgresStore) ListAttachments(ctx context.Context, userID, orderID, formType string) ([]AttachmentRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attachmentColumns+`
		FROM form_attachments
		WHERE user_id=$1 AND order_id=$2 AND form_type=$3 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`, userID, orderID, formType)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []AttachmentRow
	for rows.Next() {
		var a AttachmentRow
		if err := rows.Scan(&a.ID, &a.UserID, &a.OrderID, &a.FormType, &a.FileName, &a.StoragePath, &a.MimeType, &a.SizeBytes, &a.ContentHash, &a.DeletedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAttachment stores metadata for an uploaded file and returns the row
// id.
func (s *PostgresStore) InsertAttachment(ctx context.Context, a AttachmentRow) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO form_attachments (id, user_id, order_id, form_type, file_name, storage_path, mime_type, size_bytes, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, a.ID, a.UserID, a.OrderID, a.FormType, a.FileName, a.StoragePath, a.MimeType, a.SizeBytes, a.ContentHash).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert attachment: %w", err)
	}
	return id, nil
}

// SoftDeleteAttachment marks a row deleted without removing it.
func (s *PostgresStore) SoftDeleteAttachment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE form_attachments SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		if isPermissionDenied(err) {
			return fmt.Errorf("soft delete attachment: %w", ErrPermissionDenied)
		}
		return fmt.Errorf("soft delete attachment: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HardDeleteAttachment removes the row outright. Fallback path only, for
// deployments where the soft-delete update is rejected by row policies.
func (s *PostgresStore) HardDeleteAttachment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM form_attachments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("hard delete attachment: %w", err)
	}
	return nil
}

// GetOrder fetches an order. sql.ErrNoRows when absent.
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, service_key, status, paid_at, created_at
		FROM orders
		WHERE id=$1
	`, orderID).Scan(&o.ID, &o.UserID, &o.ServiceKey, &o.Status, &o.PaidAt, &o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// InsertOrder records an order row. The payment flow that creates real orders
// lives outside this service; this exists for bootstrap and tests.
func (s *PostgresStore) InsertOrder(ctx context.Context, o Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, service_key, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, o.ID, o.UserID, o.ServiceKey, o.Status)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}
