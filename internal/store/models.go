package store

import "time"

// DraftRecord is one persisted answer set, keyed by (user, order, form type).
// OrderID is the empty string when the draft has no order context yet; the
// empty string stands in for NULL so the upsert key stays a plain unique
// constraint.
type DraftRecord struct {
	ID        string
	UserID    string
	OrderID   string
	FormType  string
	Values    map[string]string
	Completed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttachmentRow is the metadata row for one uploaded file. FileName carries
// the bracket category prefix; the category is reconstructed purely from the
// filename, which keeps rows uploaded before categories existed readable.
type AttachmentRow struct {
	ID          string
	UserID      string
	OrderID     string
	FormType    string
	FileName    string
	StoragePath string
	MimeType    string
	SizeBytes   int64
	ContentHash string
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

// Order is the slice of the order/payment record the intake core consumes:
// enough to bind a form session and pre-select a form type.
type Order struct {
	ID         string
	UserID     string
	ServiceKey string
	Status     string
	PaidAt     *time.Time
	CreatedAt  time.Time
}
