package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"filings/api/internal/attach"
	"filings/api/internal/catalog"
	"filings/api/internal/formsession"
	"filings/api/internal/history"
	"filings/api/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	drafts   map[string]store.DraftRecord
	orders   map[string]store.Order
	attach   map[string]store.AttachmentRow
	upserted []store.DraftRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drafts: map[string]store.DraftRecord{},
		orders: map[string]store.Order{},
		attach: map[string]store.AttachmentRow{},
	}
}

func draftKey(userID, orderID, formType string) string {
	return userID + "|" + orderID + "|" + formType
}

func (f *fakeStore) GetDraft(ctx context.Context, userID, orderID, formType string) (store.DraftRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.drafts[draftKey(userID, orderID, formType)]; ok {
		return rec, nil
	}
	return store.DraftRecord{}, sql.ErrNoRows
}

func (f *fakeStore) GetMostRecentDraft(ctx context.Context, userID, formType string) (store.DraftRecord, error) {
	return store.DraftRecord{}, sql.ErrNoRows
}

func (f *fakeStore) GetMostRecentDraftAnyType(ctx context.Context, userID string) (store.DraftRecord, error) {
	return store.DraftRecord{}, sql.ErrNoRows
}

func (f *fakeStore) UpsertDraft(ctx context.Context, rec store.DraftRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[draftKey(rec.UserID, rec.OrderID, rec.FormType)] = rec
	f.upserted = append(f.upserted, rec)
	return nil
}

func (f *fakeStore) ListAttachments(ctx context.Context, userID, orderID, formType string) ([]store.AttachmentRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AttachmentRow
	for _, row := range f.attach {
		if row.UserID == userID && row.OrderID == orderID && row.FormType == formType {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, a store.AttachmentRow) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attach[a.ID] = a
	return a.ID, nil
}

func (f *fakeStore) SoftDeleteAttachment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.attach[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.attach, id)
	return nil
}

func (f *fakeStore) HardDeleteAttachment(ctx context.Context, id string) error {
	return f.SoftDeleteAttachment(ctx, id)
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID string) (store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		return o, nil
	}
	return store.Order{}, sql.ErrNoRows
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (m *memStorage) Upload(ctx context.Context, userID, orderID, objectName string, content []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := userID + "/" + objectName
	m.objects[path] = content
	return path, nil
}

func (m *memStorage) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func testService(t *testing.T, st *fakeStore) *Service {
	t.Helper()
	cfg := Config{
		Session: formsession.Config{DebounceInterval: 5 * time.Millisecond, SaveTimeout: 200 * time.Millisecond},
		Attach:  attach.Config{MaxFileSize: 1024, AllowedTypes: []string{"application/pdf"}, RemoveTimeout: 100 * time.Millisecond},
	}
	return New(st, nil, newMemStorage(), history.New(t.TempDir()), nil, cfg)
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DomainError", err)
	}
	return de.Status
}

func TestOpenSessionWithFormTypeHint(t *testing.T) {
	svc := testService(t, newFakeStore())
	payload, err := svc.OpenSession(context.Background(), "u1", "", "drafting")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if payload["sessionId"] == "" {
		t.Fatal("session id missing")
	}
	if payload["state"] != "editing" {
		t.Fatalf("state = %v", payload["state"])
	}
	if payload["formType"] != "drafting" {
		t.Fatalf("formType = %v", payload["formType"])
	}
}

func TestOpenSessionResolvesOrderServiceKey(t *testing.T) {
	st := newFakeStore()
	st.orders["ord1"] = store.Order{ID: "ord1", UserID: "u1", ServiceKey: "pct-filing", Status: "paid"}
	svc := testService(t, st)

	// The order's service decides the form type even against a conflicting
	// hint.
	payload, err := svc.OpenSession(context.Background(), "u1", "ord1", "drafting")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if payload["formType"] != string(catalog.FormPCTFiling) {
		t.Fatalf("formType = %v, want pct_filing", payload["formType"])
	}
}

func TestOpenSessionUnknownServiceKeyFallsBackToHint(t *testing.T) {
	st := newFakeStore()
	st.orders["ord1"] = store.Order{ID: "ord1", UserID: "u1", ServiceKey: "trademark-watch", Status: "paid"}
	svc := testService(t, st)

	// The hint pre-selects when the order's service has no mapped form.
	payload, err := svc.OpenSession(context.Background(), "u1", "ord1", "fer_response")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if payload["formType"] != string(catalog.FormFERResponse) {
		t.Fatalf("formType = %v, want fer_response", payload["formType"])
	}

	// Without a usable hint the order still cannot resolve.
	_, err = svc.OpenSession(context.Background(), "u1", "ord1", "")
	if got := domainStatus(t, err); got != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", got)
	}
}

func TestOpenSessionForeignOrderForbidden(t *testing.T) {
	st := newFakeStore()
	st.orders["ord1"] = store.Order{ID: "ord1", UserID: "someone-else", ServiceKey: "pct-filing"}
	svc := testService(t, st)

	_, err := svc.OpenSession(context.Background(), "u1", "ord1", "")
	if got := domainStatus(t, err); got != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", got)
	}
}

func TestOpenSessionRejectsUnknownFormType(t *testing.T) {
	svc := testService(t, newFakeStore())
	_, err := svc.OpenSession(context.Background(), "u1", "", "utility_model")
	if got := domainStatus(t, err); got != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", got)
	}
}

func TestSessionOwnership(t *testing.T) {
	svc := testService(t, newFakeStore())
	payload, err := svc.OpenSession(context.Background(), "u1", "", "drafting")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	sessionID := payload["sessionId"].(string)

	_, err = svc.ViewSession(sessionID, "intruder")
	if got := domainStatus(t, err); got != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", got)
	}
}

func TestFullConfirmFlow(t *testing.T) {
	st := newFakeStore()
	st.orders["ord1"] = store.Order{ID: "ord1", UserID: "u1", ServiceKey: "patent-drafting"}
	svc := testService(t, st)

	payload, err := svc.OpenSession(context.Background(), "u1", "ord1", "")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	sessionID := payload["sessionId"].(string)

	for _, field := range payload["fields"].([]map[string]any) {
		if field["core"] != true {
			continue
		}
		title := field["title"].(string)
		if _, err := svc.SetField(sessionID, "u1", title, "answer"); err != nil {
			t.Fatalf("SetField(%s): %v", title, err)
		}
	}

	if _, err := svc.SubmitSession(sessionID, "u1"); err != nil {
		t.Fatalf("SubmitSession: %v", err)
	}
	confirmed, err := svc.ConfirmSession(context.Background(), sessionID, "u1")
	if err != nil {
		t.Fatalf("ConfirmSession: %v", err)
	}
	if confirmed["state"] != "confirmed" || confirmed["readOnly"] != true {
		t.Fatalf("confirmed payload = state %v readOnly %v", confirmed["state"], confirmed["readOnly"])
	}

	st.mu.Lock()
	persisted := len(st.upserted) > 0 && st.upserted[len(st.upserted)-1].Completed
	st.mu.Unlock()
	if !persisted {
		t.Fatal("confirm did not persist a completed draft")
	}

	hist, err := svc.History("u1", "ord1", "drafting", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist["history"].([]map[string]any)) != 1 {
		t.Fatal("confirm not recorded in history")
	}
}

func TestSubmitIncompleteReportsMissing(t *testing.T) {
	svc := testService(t, newFakeStore())
	payload, err := svc.OpenSession(context.Background(), "u1", "", "patentability_search")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	sessionID := payload["sessionId"].(string)

	_, err = svc.SubmitSession(sessionID, "u1")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "INCOMPLETE" {
		t.Fatalf("err = %v, want INCOMPLETE", err)
	}
	details := de.Details.(map[string]any)
	if len(details["missing"].([]string)) == 0 {
		t.Fatal("missing fields not reported")
	}
}

func TestUploadAttachmentAndList(t *testing.T) {
	svc := testService(t, newFakeStore())
	payload, err := svc.OpenSession(context.Background(), "u1", "", "drafting")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	sessionID := payload["sessionId"].(string)

	item, err := svc.UploadAttachment(context.Background(), sessionID, "u1", "claims", "claims.pdf", []byte("%PDF"), "application/pdf")
	if err != nil {
		t.Fatalf("UploadAttachment: %v", err)
	}
	if item["status"] != "done" {
		t.Fatalf("status = %v (%v)", item["status"], item["error"])
	}
	if item["storedName"] != "[CLAIMS] claims.pdf" {
		t.Fatalf("storedName = %v", item["storedName"])
	}

	listed, err := svc.ListAttachments(context.Background(), sessionID, "u1", false)
	if err != nil {
		t.Fatalf("ListAttachments: %v", err)
	}
	if len(listed["attachments"].([]map[string]any)) != 1 {
		t.Fatal("uploaded attachment not listed")
	}
}

func TestUploadAttachmentUnknownCategory(t *testing.T) {
	svc := testService(t, newFakeStore())
	payload, err := svc.OpenSession(context.Background(), "u1", "", "drafting")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	sessionID := payload["sessionId"].(string)

	_, err = svc.UploadAttachment(context.Background(), sessionID, "u1", "appendix", "x.pdf", []byte("%PDF"), "application/pdf")
	if got := domainStatus(t, err); got != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", got)
	}
}

func TestCloseSessionUnregisters(t *testing.T) {
	svc := testService(t, newFakeStore())
	payload, err := svc.OpenSession(context.Background(), "u1", "", "drafting")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	sessionID := payload["sessionId"].(string)

	if err := svc.CloseSession(sessionID, "u1"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	_, err = svc.ViewSession(sessionID, "u1")
	if got := domainStatus(t, err); got != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", got)
	}
}

func TestSearchUnavailableWithoutBackend(t *testing.T) {
	svc := testService(t, newFakeStore())
	_, err := svc.Search(context.Background(), "u1", "widget", "", 10, 0)
	if got := domainStatus(t, err); got != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", got)
	}
}
