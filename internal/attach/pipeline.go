package attach

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"filings/api/internal/catalog"
	"filings/api/internal/objstore"
	"filings/api/internal/store"
	"filings/api/internal/util"
)

// ErrOperationInFlight guards against double-invoking removal while an item
// is already uploading or removing.
var ErrOperationInFlight = errors.New("attachment operation already in progress")

// ErrNotFound is returned for an unknown local id.
var ErrNotFound = errors.New("attachment not found")

// MetadataStore is the slice of the remote store the pipeline needs.
type MetadataStore interface {
	ListAttachments(ctx context.Context, userID, orderID, formType string) ([]store.AttachmentRow, error)
	InsertAttachment(ctx context.Context, a store.AttachmentRow) (string, error)
	SoftDeleteAttachment(ctx context.Context, id string) error
	HardDeleteAttachment(ctx context.Context, id string) error
}

// Config carries the validation knobs, passed in explicitly at construction.
type Config struct {
	MaxFileSize   int64
	AllowedTypes  []string
	RemoveTimeout time.Duration
}

// Notifier is the optional side-channel for user-visible feedback about
// attachment outcomes. The pipeline works without one.
type Notifier interface {
	Notify(level, message string)
}

// Pipeline owns the attachment list for one mounted form, keyed by the same
// (user, order, form type) tuple as the draft. Operations on different items
// are independent; the mutex protects the list and every mutable item field.
type Pipeline struct {
	cfg      Config
	meta     MetadataStore
	storage  objstore.Storage
	notify   Notifier
	userID   string
	orderID  string
	formType catalog.FormType

	mu    sync.Mutex
	items []*Attachment
}

// NewPipeline creates a pipeline bound to one form. notify may be nil.
func NewPipeline(cfg Config, meta MetadataStore, storage objstore.Storage, notify Notifier, userID, orderID string, formType catalog.FormType) *Pipeline {
	if cfg.RemoveTimeout <= 0 {
		cfg.RemoveTimeout = 10 * time.Second
	}
	return &Pipeline{
		cfg:      cfg,
		meta:     meta,
		storage:  storage,
		notify:   notify,
		userID:   userID,
		orderID:  orderID,
		formType: formType,
	}
}

// Upload validates and stores one file under a category. Validation failures
// (oversize, unsupported type) mark the item error locally without any
// network call. Each file's outcome is independent; callers loop for
// multi-file selections. The returned value is a snapshot; the tracked item
// is only ever mutated under the pipeline lock.
func (p *Pipeline) Upload(ctx context.Context, category catalog.Category, fileName string, content []byte, reportedType string) Attachment {
	mimeType := EffectiveMimeType(fileName, reportedType)
	item := &Attachment{
		LocalID:     util.NewID("att"),
		Category:    category,
		DisplayName: fileName,
		StoredName:  StoredName(category, fileName),
		MimeType:    mimeType,
		SizeBytes:   int64(len(content)),
		Status:      StatusUploading,
		CreatedAt:   time.Now(),
	}
	p.add(item)

	if int64(len(content)) > p.cfg.MaxFileSize {
		return p.fail(item, "File too large")
	}
	if mimeType == "" || !AllowedType(mimeType, p.cfg.AllowedTypes) {
		return p.fail(item, "Unsupported type")
	}

	path, err := p.storage.Upload(ctx, p.userID, p.orderID, item.LocalID+"_"+item.StoredName, content, mimeType)
	if err != nil {
		log.Printf("attach: upload %s failed: %v", item.StoredName, err)
		return p.fail(item, "Upload failed")
	}
	p.mu.Lock()
	item.StoragePath = path
	p.mu.Unlock()

	row := store.AttachmentRow{
		ID:          util.NewID("fatt"),
		UserID:      p.userID,
		OrderID:     p.orderID,
		FormType:    string(p.formType),
		FileName:    item.StoredName,
		StoragePath: path,
		MimeType:    mimeType,
		SizeBytes:   int64(len(content)),
		ContentHash: objstore.ContentHash(content),
	}
	serverID, err := p.meta.InsertAttachment(ctx, row)
	if err != nil {
		log.Printf("attach: insert metadata for %s failed: %v", item.StoredName, err)
		return p.fail(item, "Upload failed")
	}

	p.mu.Lock()
	item.ServerID = serverID
	item.Status = StatusDone
	snap := *item
	p.mu.Unlock()
	return snap
}

// Remove deletes one attachment: soft-delete the metadata row under a
// bounded watchdog, best-effort delete the stored object, drop the item from
// the local list immediately, then reconcile against the server in the
// background. A permissions rejection falls back to a hard delete once.
func (p *Pipeline) Remove(ctx context.Context, localID string) error {
	p.mu.Lock()
	item := p.find(localID)
	if item == nil {
		p.mu.Unlock()
		return ErrNotFound
	}
	if item.Status == StatusRemoving || item.Status == StatusUploading {
		p.mu.Unlock()
		return ErrOperationInFlight
	}
	if item.Status != StatusDone {
		p.mu.Unlock()
		return ErrOperationInFlight
	}
	item.Status = StatusRemoving
	serverID := item.ServerID
	storagePath := item.StoragePath
	p.mu.Unlock()

	deleteCtx, cancel := context.WithTimeout(ctx, p.cfg.RemoveTimeout)
	defer cancel()
	if err := p.meta.SoftDeleteAttachment(deleteCtx, serverID); err != nil {
		if errors.Is(err, store.ErrPermissionDenied) {
			if hardErr := p.meta.HardDeleteAttachment(deleteCtx, serverID); hardErr != nil {
				p.rollbackRemove(item, "Removal failed: "+hardErr.Error())
				return hardErr
			}
		} else {
			p.rollbackRemove(item, "Removal failed: "+err.Error())
			return err
		}
	}

	if storagePath != "" {
		if err := p.storage.Delete(ctx, storagePath); err != nil {
			// Non-fatal: the metadata row is gone, so the file is orphaned
			// but invisible.
			log.Printf("attach: remove stored object %s: %v (removed, file retained)", storagePath, err)
			p.notifyf("info", "Attachment removed; the stored file could not be deleted and was retained")
		}
	}

	p.drop(localID)

	go func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), p.cfg.RemoveTimeout)
		defer cancel()
		if err := p.Refresh(refreshCtx); err != nil {
			log.Printf("attach: post-remove refresh: %v", err)
		}
	}()
	return nil
}

// Refresh replaces the local list with the server's non-deleted set, keeping
// any local items still uploading or in error that the server does not know
// about. A server read must never erase an in-flight upload.
func (p *Pipeline) Refresh(ctx context.Context) error {
	rows, err := p.meta.ListAttachments(ctx, p.userID, p.orderID, string(p.formType))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	serverIDs := make(map[string]struct{}, len(rows))
	next := make([]*Attachment, 0, len(rows))
	for _, row := range rows {
		serverIDs[row.ID] = struct{}{}
		if existing := p.findByServerID(row.ID); existing != nil && existing.Status != StatusRemoving {
			next = append(next, existing)
			continue
		}
		category, display := ParseStoredName(row.FileName)
		next = append(next, &Attachment{
			LocalID:     util.NewID("att"),
			ServerID:    row.ID,
			Category:    category,
			DisplayName: display,
			StoredName:  row.FileName,
			StoragePath: row.StoragePath,
			MimeType:    row.MimeType,
			SizeBytes:   row.SizeBytes,
			Status:      StatusDone,
			CreatedAt:   row.CreatedAt,
		})
	}
	for _, item := range p.items {
		if item.Status != StatusUploading && item.Status != StatusError {
			continue
		}
		if _, known := serverIDs[item.ServerID]; known && item.ServerID != "" {
			continue
		}
		next = append(next, item)
	}
	p.items = next
	return nil
}

// Items returns a snapshot of all attachments.
func (p *Pipeline) Items() []Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Attachment, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, *item)
	}
	return out
}

// ItemsByCategory returns a snapshot of the attachments attributed to one
// category. Attribution comes from the stored filename, so a file never
// shows up under more than one section.
func (p *Pipeline) ItemsByCategory(category catalog.Category) []Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Attachment
	for _, item := range p.items {
		if item.Category == category {
			out = append(out, *item)
		}
	}
	return out
}

func (p *Pipeline) add(item *Attachment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
}

func (p *Pipeline) fail(item *Attachment, reason string) Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	item.Status = StatusError
	item.Error = reason
	return *item
}

func (p *Pipeline) notifyf(level, message string) {
	if p.notify == nil {
		return
	}
	p.notify.Notify(level, message)
}

// rollbackRemove returns an item to a done-equivalent display with an error
// annotation instead of deleting it.
func (p *Pipeline) rollbackRemove(item *Attachment, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item.Status = StatusError
	item.Error = reason
}

func (p *Pipeline) drop(localID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.items[:0]
	for _, item := range p.items {
		if item.LocalID != localID {
			kept = append(kept, item)
		}
	}
	p.items = kept
}

func (p *Pipeline) find(localID string) *Attachment {
	for _, item := range p.items {
		if item.LocalID == localID {
			return item
		}
	}
	return nil
}

func (p *Pipeline) findByServerID(serverID string) *Attachment {
	if serverID == "" {
		return nil
	}
	for _, item := range p.items {
		if item.ServerID == serverID {
			return item
		}
	}
	return nil
}
