package app

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testServer(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	svc := testService(t, st)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server, st
}

func doJSON(t *testing.T, method, url, userID string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := testServer(t)
	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Fatalf("health = %d %v", resp.StatusCode, payload)
	}
}

func TestFormsCatalogIsPublic(t *testing.T) {
	server, _ := testServer(t)
	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/forms", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(payload["forms"].([]any)) != 7 {
		t.Fatalf("forms = %v", payload["forms"])
	}
}

func TestSessionsRequireIdentity(t *testing.T) {
	server, _ := testServer(t)
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/sessions", "", map[string]any{"formType": "drafting"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("code = %v", payload["code"])
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	server, _ := testServer(t)

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/sessions", "u1", map[string]any{"formType": "patentability_search"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d %v", resp.StatusCode, payload)
	}
	sessionID := payload["sessionId"].(string)
	base := server.URL + "/api/sessions/" + sessionID

	resp, _ = doJSON(t, http.MethodPost, base+"/fields", "u1", map[string]any{
		"title": "Title of Invention",
		"value": "A better mousetrap",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set field status = %d", resp.StatusCode)
	}

	// Incomplete submit surfaces the missing core fields.
	resp, payload = doJSON(t, http.MethodPost, base+"/submit", "u1", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("submit status = %d, want 422", resp.StatusCode)
	}
	details := payload["details"].(map[string]any)
	if len(details["missing"].([]any)) == 0 {
		t.Fatal("missing fields not in response")
	}

	resp, payload = doJSON(t, http.MethodGet, base, "u1", nil)
	if resp.StatusCode != http.StatusOK || payload["state"] != "editing" {
		t.Fatalf("view = %d state %v", resp.StatusCode, payload["state"])
	}

	resp, _ = doJSON(t, http.MethodDelete, base, "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base, "u1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("view after close = %d, want 404", resp.StatusCode)
	}
}

func TestNameRowRoutes(t *testing.T) {
	server, _ := testServer(t)
	_, payload := doJSON(t, http.MethodPost, server.URL+"/api/sessions", "u1", map[string]any{"formType": "drafting"})
	base := server.URL + "/api/sessions/" + payload["sessionId"].(string)

	resp, _ := doJSON(t, http.MethodPost, base+"/names/set", "u1", map[string]any{
		"title": "Inventor Name(s)", "index": 0, "value": "Grace Hopper",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set name status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, base+"/names/add", "u1", map[string]any{"title": "Inventor Name(s)"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add name status = %d", resp.StatusCode)
	}
	resp, payload = doJSON(t, http.MethodPost, base+"/names/set", "u1", map[string]any{
		"title": "Inventor Name(s)", "index": 1, "value": "Katherine Johnson",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set second name status = %d", resp.StatusCode)
	}
	values := payload["values"].(map[string]any)
	if values["Inventor Name(s)"] != "Grace Hopper\nKatherine Johnson" {
		t.Fatalf("joined names = %q", values["Inventor Name(s)"])
	}
}

func TestAttachmentUploadOverHTTP(t *testing.T) {
	server, _ := testServer(t)
	_, payload := doJSON(t, http.MethodPost, server.URL+"/api/sessions", "u1", map[string]any{"formType": "drafting"})
	base := server.URL + "/api/sessions/" + payload["sessionId"].(string)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	_ = form.WriteField("category", "drawing")
	part, err := form.CreateFormFile("file", "figure.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("%PDF-1.4"))
	form.Close()

	req, err := http.NewRequest(http.MethodPost, base+"/attachments", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	items := out["attachments"].([]any)
	if len(items) != 1 {
		t.Fatalf("attachments = %v", items)
	}
	item := items[0].(map[string]any)
	if item["status"] != "done" {
		t.Fatalf("status = %v (%v)", item["status"], item["error"])
	}
	if !strings.HasPrefix(item["storedName"].(string), "[DRAWING] ") {
		t.Fatalf("storedName = %v", item["storedName"])
	}
}

func TestWrongStateMapsToConflict(t *testing.T) {
	server, _ := testServer(t)
	_, payload := doJSON(t, http.MethodPost, server.URL+"/api/sessions", "u1", map[string]any{"formType": "drafting"})
	base := server.URL + "/api/sessions/" + payload["sessionId"].(string)

	// Confirm before submit is a state violation.
	resp, out := doJSON(t, http.MethodPost, base+"/confirm", "u1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("confirm status = %d, want 409", resp.StatusCode)
	}
	if out["code"] != "WRONG_STATE" {
		t.Fatalf("code = %v", out["code"])
	}
}
