// Package app wires the form session core to HTTP: it owns the registry of
// open sessions and translates transport-level requests into controller and
// pipeline operations.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"filings/api/internal/attach"
	"filings/api/internal/catalog"
	"filings/api/internal/draft"
	"filings/api/internal/export"
	"filings/api/internal/formsession"
	"filings/api/internal/history"
	"filings/api/internal/objstore"
	"filings/api/internal/search"
	"filings/api/internal/store"
	"filings/api/internal/util"
)

// Store is the slice of the persistence layer the service needs.
type Store interface {
	formsession.DraftStore
	attach.MetadataStore
	GetOrder(ctx context.Context, orderID string) (store.Order, error)
	Ping(ctx context.Context) error
}

// Config carries the per-session tuning handed down from the process config.
type Config struct {
	Session formsession.Config
	Attach  attach.Config
}

// Notice is one piece of user-visible feedback emitted by a session.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// sessionNotifier buffers notices until the next view drains them.
type sessionNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *sessionNotifier) Notify(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{Level: level, Message: message})
}

func (n *sessionNotifier) Drain() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.notices
	n.notices = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}

// formSession couples the draft controller with the attachment pipeline for
// one mounted form.
type formSession struct {
	id       string
	userID   string
	orderID  string
	formType catalog.FormType
	ctrl     *formsession.Controller
	pipe     *attach.Pipeline
	notices  *sessionNotifier
}

type Service struct {
	store   Store
	cache   formsession.LocalCache
	storage objstore.Storage
	history *history.Service
	search  *search.Service
	cfg     Config

	mu       sync.Mutex
	sessions map[string]*formSession
}

// New creates the application service. history and search may be nil when the
// corresponding backends are not configured.
func New(st Store, cache formsession.LocalCache, storage objstore.Storage, hist *history.Service, srch *search.Service, cfg Config) *Service {
	return &Service{
		store:    st,
		cache:    cache,
		storage:  storage,
		history:  hist,
		search:   srch,
		cfg:      cfg,
		sessions: map[string]*formSession{},
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ResolveFormType applies the selection precedence: a paid order's service
// key decides the form type; the explicit hint pre-selects when the order
// carries no recognizable key, or when no order is bound at all.
func (s *Service) ResolveFormType(ctx context.Context, userID, orderID, hint string) (catalog.FormType, error) {
	if strings.TrimSpace(orderID) != "" {
		order, err := s.store.GetOrder(ctx, orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", domainError(http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found", nil)
		}
		if err != nil {
			return "", fmt.Errorf("load order %s: %w", orderID, err)
		}
		if order.UserID != userID {
			return "", domainError(http.StatusForbidden, "FORBIDDEN", "Order belongs to another user", nil)
		}
		if ft, ok := catalog.FormTypeForServiceKey(order.ServiceKey); ok {
			return ft, nil
		}
		if ft, ok := catalog.ParseFormType(strings.TrimSpace(hint)); ok {
			return ft, nil
		}
		return "", domainError(http.StatusUnprocessableEntity, "UNKNOWN_SERVICE", "Order service has no intake form", nil)
	}
	if ft, ok := catalog.ParseFormType(strings.TrimSpace(hint)); ok {
		return ft, nil
	}
	return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "A valid formType or orderId is required", nil)
}

// OpenSession binds a controller and attachment pipeline for one form and
// registers them under a fresh session id.
func (s *Service) OpenSession(ctx context.Context, userID, orderID, formTypeHint string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	formType, err := s.ResolveFormType(ctx, userID, orderID, formTypeHint)
	if err != nil {
		return nil, err
	}

	notices := &sessionNotifier{}
	ctrl := formsession.New(s.cfg.Session, s.store, s.cache, notices)
	if err := ctrl.Bind(ctx, userID, orderID, formType); err != nil {
		return nil, fmt.Errorf("bind session: %w", err)
	}
	pipe := attach.NewPipeline(s.cfg.Attach, s.store, s.storage, notices, userID, orderID, formType)
	if err := pipe.Refresh(ctx); err != nil {
		log.Printf("session refresh attachments user=%s order=%s: %v", userID, orderID, err)
	}

	sess := &formSession{
		id:       util.NewID("fs"),
		userID:   userID,
		orderID:  orderID,
		formType: formType,
		ctrl:     ctrl,
		pipe:     pipe,
		notices:  notices,
	}
	// Publication rides the save completion, so a confirm that outlives the
	// watchdog still reaches history and the search index when it lands.
	ctrl.OnConfirmed(func(values draft.Values) {
		s.recordConfirmed(sess, values)
	})
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	return s.sessionPayload(sess), nil
}

func (s *Service) lookup(sessionID, userID string) (*formSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
	}
	if sess.userID != userID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return sess, nil
}

// ViewSession returns the current render-facing snapshot.
func (s *Service) ViewSession(sessionID, userID string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// CloseSession unregisters the session. In-flight saves finish detached.
func (s *Service) CloseSession(sessionID, userID string) error {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return err
	}
	sess.ctrl.Close()
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// SetField writes one answer through the limit enforcer.
func (s *Service) SetField(sessionID, userID, title, value string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := sess.ctrl.SetField(title, value); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// SetNameRow updates one row of a multi-author name list.
func (s *Service) SetNameRow(sessionID, userID, title string, index int, value string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.SetNameRow(title, index, value); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

func (s *Service) AddNameRow(sessionID, userID, title string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.AddNameRow(title); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

func (s *Service) RemoveNameRow(sessionID, userID, title string, index int) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.RemoveNameRow(title, index); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// SubmitSession moves an editing session into review, gated on core-field
// completeness.
func (s *Service) SubmitSession(sessionID, userID string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.Submit(); err != nil {
		var incomplete *formsession.IncompleteError
		if errors.As(err, &incomplete) {
			return nil, domainError(http.StatusUnprocessableEntity, "INCOMPLETE", "Required fields incomplete", map[string]any{"missing": incomplete.Missing})
		}
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// ConfirmSession finalizes the submission. History and search publication
// is hooked to the save completion in OpenSession, so it happens exactly
// when the confirming write lands, stalled or not.
func (s *Service) ConfirmSession(ctx context.Context, sessionID, userID string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.Confirm(ctx); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// recordConfirmed publishes a confirmed submission to history and search.
// Both are best-effort: the confirm already persisted authoritatively.
func (s *Service) recordConfirmed(sess *formSession, values draft.Values) {
	if s.history != nil {
		_, err := s.history.Record(sess.userID, sess.orderID, string(sess.formType), history.Snapshot{
			FormType: string(sess.formType),
			OrderID:  sess.orderID,
			Values:   values,
		}, sess.userID)
		if err != nil {
			log.Printf("record submission history user=%s order=%s: %v", sess.userID, sess.orderID, err)
		}
	}
	if s.search != nil {
		var parts []string
		for _, def := range sess.ctrl.Fields() {
			if v := strings.TrimSpace(values[def.Title]); v != "" {
				parts = append(parts, v)
			}
		}
		s.search.IndexSubmission(search.SubmissionRecord{
			ID:       sess.ctrl.View().Key.String(),
			UserID:   sess.userID,
			OrderID:  sess.orderID,
			FormType: string(sess.formType),
			Text:     strings.Join(parts, "\n"),
		})
	}
}

// SaveSession persists the draft immediately, bypassing the debounce.
func (s *Service) SaveSession(ctx context.Context, sessionID, userID string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.Save(ctx); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// EditSession reopens a reviewing or confirmed session for changes.
func (s *Service) EditSession(sessionID, userID string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.Edit(); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// RefillSession clears every answer and restarts the form.
func (s *Service) RefillSession(sessionID, userID string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.Refill(); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// ApplyPrefill copies the offered prior answers into the blank form.
func (s *Service) ApplyPrefill(sessionID, userID string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.ctrl.ApplyPrefill(); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess), nil
}

// UploadAttachment validates and stores one file under a category. The
// returned item carries status error on a validation or upload failure.
func (s *Service) UploadAttachment(ctx context.Context, sessionID, userID, category, fileName string, content []byte, reportedType string) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	cat, ok := catalog.ParseCategory(category)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown attachment category", nil)
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file name is required", nil)
	}
	item := sess.pipe.Upload(ctx, cat, fileName, content, reportedType)
	return attachmentPayload(item), nil
}

// RemoveAttachment soft-deletes one attachment.
func (s *Service) RemoveAttachment(ctx context.Context, sessionID, userID, localID string) error {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return err
	}
	if err := sess.pipe.Remove(ctx, localID); err != nil {
		if errors.Is(err, attach.ErrNotFound) {
			return domainError(http.StatusNotFound, "ATTACHMENT_NOT_FOUND", "Attachment not found", nil)
		}
		if errors.Is(err, attach.ErrOperationInFlight) {
			return domainError(http.StatusConflict, "OPERATION_IN_FLIGHT", "Attachment operation already in progress", nil)
		}
		return err
	}
	return nil
}

// ListAttachments returns the session's attachment list, optionally after a
// refresh against the server-confirmed set.
func (s *Service) ListAttachments(ctx context.Context, sessionID, userID string, refresh bool) (map[string]any, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if refresh {
		if err := sess.pipe.Refresh(ctx); err != nil {
			log.Printf("refresh attachments session=%s: %v", sessionID, err)
		}
	}
	return map[string]any{"attachments": attachmentsPayload(sess.pipe.Items())}, nil
}

// ExportSubmission renders the session's current answers and attachment list
// to PDF or DOCX.
func (s *Service) ExportSubmission(ctx context.Context, sessionID, userID string, format export.Format) (*export.Result, error) {
	sess, err := s.lookup(sessionID, userID)
	if err != nil {
		return nil, err
	}
	view := sess.ctrl.View()

	sub := export.Submission{
		FormTitle: catalog.DisplayTitle(sess.formType),
		OrderID:   sess.orderID,
		UserID:    sess.userID,
	}
	for _, def := range sess.ctrl.Fields() {
		if catalog.IsUploadField(def.Title) {
			continue
		}
		sub.Fields = append(sub.Fields, export.Field{Title: def.Title, Value: view.Values[def.Title]})
	}
	for _, item := range sess.pipe.Items() {
		if item.Status != attach.StatusDone {
			continue
		}
		sub.Attachments = append(sub.Attachments, export.AttachmentLine{
			Category: string(item.Category),
			Name:     item.DisplayName,
		})
	}
	result, err := export.Export(sub, format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export backend unavailable", nil)
		}
		return nil, err
	}
	return result, nil
}

// Search finds the user's confirmed submissions by answer text.
func (s *Service) Search(ctx context.Context, userID, text, filterFormType string, limit, offset int) (map[string]any, error) {
	if s.search == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search backend unavailable", nil)
	}
	resp := s.search.Search(search.Query{
		UserID:         userID,
		Text:           text,
		FilterFormType: filterFormType,
		Limit:          limit,
		Offset:         offset,
	})
	return map[string]any{"results": resp.Results, "total": resp.Total, "query": resp.Query}, nil
}

// History lists the recorded submission snapshots for one form.
func (s *Service) History(userID, orderID, formType string, limit int) (map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History backend unavailable", nil)
	}
	if _, ok := catalog.ParseFormType(formType); !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown form type", nil)
	}
	commits, err := s.history.History(userID, orderID, formType, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	items := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		items = append(items, map[string]any{
			"hash":      c.Hash,
			"message":   c.Message,
			"createdAt": c.CreatedAt,
		})
	}
	return map[string]any{"history": items}, nil
}

// HistorySnapshot loads the answers recorded at one confirm.
func (s *Service) HistorySnapshot(userID, orderID, formType, hash string) (map[string]any, error) {
	if s.history == nil {
		return nil, domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "History backend unavailable", nil)
	}
	snap, err := s.history.GetSnapshot(userID, orderID, formType, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "SNAPSHOT_NOT_FOUND", "Snapshot not found", nil)
	}
	return map[string]any{
		"formType": snap.FormType,
		"orderId":  snap.OrderID,
		"values":   snap.Values,
	}, nil
}

// FormCatalog lists every known form type and its fields.
func (s *Service) FormCatalog() map[string]any {
	forms := make([]map[string]any, 0, len(catalog.KnownFormTypes))
	for _, ft := range catalog.KnownFormTypes {
		forms = append(forms, map[string]any{
			"formType": string(ft),
			"title":    catalog.DisplayTitle(ft),
			"fields":   fieldsPayload(catalog.FieldsFor(ft)),
		})
	}
	return map[string]any{"forms": forms}
}

func (s *Service) sessionPayload(sess *formSession) map[string]any {
	view := sess.ctrl.View()

	nameRows := map[string][]string{}
	for _, def := range sess.ctrl.Fields() {
		if catalog.IsNameList(def.Title) {
			nameRows[def.Title] = sess.ctrl.NameRows(def.Title)
		}
	}

	return map[string]any{
		"sessionId":        sess.id,
		"orderId":          sess.orderID,
		"formType":         string(sess.formType),
		"state":            string(view.State),
		"readOnly":         view.ReadOnly,
		"confirmMode":      view.ConfirmMode,
		"completed":        view.Completed,
		"values":           map[string]string(view.Values),
		"missing":          nonNilStrings(view.Missing),
		"nameRows":         nameRows,
		"prefillAvailable": view.Prefill,
		"saveStalled":      view.SaveStalled,
		"fields":           fieldsPayload(sess.ctrl.Fields()),
		"attachments":      attachmentsPayload(sess.pipe.Items()),
		"notices":          sess.notices.Drain(),
	}
}

func fieldsPayload(defs []catalog.FieldDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		f := map[string]any{
			"title":    def.Title,
			"core":     catalog.IsCore(def.Title),
			"upload":   catalog.IsUploadField(def.Title),
			"nameList": catalog.IsNameList(def.Title),
		}
		if cat, ok := catalog.CategoryForTitle(def.Title); ok {
			f["category"] = string(cat)
		}
		if def.Limit != nil {
			f["limit"] = map[string]any{"kind": string(def.Limit.Kind), "max": def.Limit.Max}
		}
		out = append(out, f)
	}
	return out
}

func attachmentPayload(item attach.Attachment) map[string]any {
	payload := map[string]any{
		"localId":    item.LocalID,
		"category":   string(item.Category),
		"name":       item.DisplayName,
		"storedName": item.StoredName,
		"mimeType":   item.MimeType,
		"sizeBytes":  item.SizeBytes,
		"status":     string(item.Status),
	}
	if item.ServerID != "" {
		payload["serverId"] = item.ServerID
	}
	if item.Error != "" {
		payload["error"] = item.Error
	}
	return payload
}

func attachmentsPayload(items []attach.Attachment) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, attachmentPayload(item))
	}
	return out
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
