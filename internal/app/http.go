package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"filings/api/internal/export"
	"filings/api/internal/formsession"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/forms" {
		writeJSON(w, http.StatusOK, s.service.FormCatalog())
		return
	}

	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		filterType := strings.TrimSpace(r.URL.Query().Get("type"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		offset := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
				return
			}
			offset = parsed
		}

		payload, err := s.service.Search(r.Context(), userID, q, filterType, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/history" {
		orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))
		formType := strings.TrimSpace(r.URL.Query().Get("formType"))
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		payload, err := s.service.History(userID, orderID, formType, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "history" && r.Method == http.MethodGet {
		orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))
		formType := strings.TrimSpace(r.URL.Query().Get("formType"))
		payload, err := s.service.HistorySnapshot(userID, orderID, formType, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/sessions" {
		var body struct {
			OrderID  string `json:"orderId"`
			FormType string `json:"formType"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.OpenSession(r.Context(), userID, strings.TrimSpace(body.OrderID), body.FormType)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "sessions" {
		s.handleSession(w, r, userID, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, userID, sessionID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ViewSession(sessionID, userID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.CloseSession(sessionID, userID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	action := parts[3]

	if action == "attachments" {
		s.handleAttachments(w, r, userID, sessionID, parts)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var payload map[string]any
	var err error

	switch action {
	case "fields":
		var body struct {
			Title string `json:"title"`
			Value string `json:"value"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		payload, err = s.service.SetField(sessionID, userID, body.Title, body.Value)
	case "names":
		if len(parts) != 5 {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		var body struct {
			Title string `json:"title"`
			Index int    `json:"index"`
			Value string `json:"value"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		switch parts[4] {
		case "add":
			payload, err = s.service.AddNameRow(sessionID, userID, body.Title)
		case "set":
			payload, err = s.service.SetNameRow(sessionID, userID, body.Title, body.Index, body.Value)
		case "remove":
			payload, err = s.service.RemoveNameRow(sessionID, userID, body.Title, body.Index)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
	case "submit":
		payload, err = s.service.SubmitSession(sessionID, userID)
	case "confirm":
		payload, err = s.service.ConfirmSession(r.Context(), sessionID, userID)
	case "save":
		payload, err = s.service.SaveSession(r.Context(), sessionID, userID)
	case "edit":
		payload, err = s.service.EditSession(sessionID, userID)
	case "refill":
		payload, err = s.service.RefillSession(sessionID, userID)
	case "prefill":
		payload, err = s.service.ApplyPrefill(sessionID, userID)
	case "export":
		s.handleExport(w, r, userID, sessionID)
		return
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// maxUploadMemory bounds the in-memory part of multipart parsing; larger
// files spill to disk.
const maxUploadMemory = 8 << 20

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, userID, sessionID string, parts []string) {
	if len(parts) == 4 && r.Method == http.MethodGet {
		refresh := r.URL.Query().Get("refresh") == "true"
		payload, err := s.service.ListAttachments(r.Context(), sessionID, userID, refresh)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
			return
		}
		category := strings.TrimSpace(r.FormValue("category"))
		if r.MultipartForm == nil || len(r.MultipartForm.File["file"]) == 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one file is required", nil)
			return
		}

		// Each file is validated and uploaded independently; one bad file
		// does not fail the batch.
		items := make([]map[string]any, 0, len(r.MultipartForm.File["file"]))
		for _, header := range r.MultipartForm.File["file"] {
			file, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read uploaded file", nil)
				return
			}
			content, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read uploaded file", nil)
				return
			}
			item, err := s.service.UploadAttachment(r.Context(), sessionID, userID, category, header.Filename, content, header.Header.Get("Content-Type"))
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": items})
		return
	}

	if len(parts) == 5 && r.Method == http.MethodDelete {
		if err := s.service.RemoveAttachment(r.Context(), sessionID, userID, parts[4]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, userID, sessionID string) {
	var body struct {
		Format string `json:"format"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	format := export.Format(body.Format)
	if format != export.FormatPDF && format != export.FormatDOCX {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf' or 'docx'", nil)
		return
	}

	result, err := s.service.ExportSubmission(r.Context(), sessionID, userID, format)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.Write(result.Data)
}

// requireUser resolves the caller's identity. Authentication itself lives at
// the storefront edge; this service trusts the forwarded user header.
func (s *HTTPServer) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	return userID, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var incomplete *formsession.IncompleteError
	if errors.As(err, &incomplete) {
		return http.StatusUnprocessableEntity, "INCOMPLETE", "Required fields incomplete", map[string]any{"missing": incomplete.Missing}
	}
	if errors.Is(err, formsession.ErrWrongState) {
		return http.StatusConflict, "WRONG_STATE", "Operation not permitted in current state", nil
	}
	if errors.Is(err, formsession.ErrUnknownField) {
		return http.StatusUnprocessableEntity, "UNKNOWN_FIELD", "Field does not belong to this form", nil
	}
	if errors.Is(err, formsession.ErrSaveInFlight) {
		return http.StatusConflict, "SAVE_IN_FLIGHT", "Save already in progress", nil
	}
	if errors.Is(err, formsession.ErrSaveStalled) {
		return http.StatusAccepted, "SAVE_STALLED", "Save taking longer than usual", nil
	}
	if errors.Is(err, formsession.ErrUnauthenticated) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
