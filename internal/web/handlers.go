// internal/web/handlers.go
//
// Request handlers.  Thin adapters: decode, call the service, map the error
// taxonomy onto HTTP statuses, encode.  No business decisions live here.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/registry"
)

//
// ── Wire shapes ──────────────────────────────────────────────────────────
//

// entryView is the JSON projection of one entry for list/create responses.
type entryView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Subject       string     `json:"subject,omitempty"`
	Body          string     `json:"body,omitempty"`
	CC            string     `json:"cc,omitempty"`
	Status        string     `json:"status"`
	ScanCount     int64      `json:"scan_count"`
	CreatedAt     time.Time  `json:"created_at"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
	CodeURL       string     `json:"code_url"`
}

func viewOf(e *registry.Entry) entryView {
	return entryView{
		ID:            e.ID,
		Email:         e.Target.Email,
		Subject:       e.Target.Subject,
		Body:          e.Target.Body,
		CC:            e.Target.CC,
		Status:        string(e.Status),
		ScanCount:     e.ScanCount,
		CreatedAt:     e.CreatedAt,
		LastScannedAt: e.LastScannedAt,
		CodeURL:       "/code/" + e.ID,
	}
}

type createRequest struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	CC      string `json:"cc"`
}

type statusRequest struct {
	Status string `json:"status"`
}

//
// ── JSON helpers ─────────────────────────────────────────────────────────
//

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Errorw("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, registry.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, registry.ErrInvalidTarget):
		code = http.StatusBadRequest
	case errors.Is(err, registry.ErrUnavailable):
		code = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, code, map[string]string{"status": "error", "error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "error": "malformed JSON body",
		})
		return false
	}
	return true
}

//
// ── Resolution ───────────────────────────────────────────────────────────
//

// resolveCode handles a scan: 302 to the mailto URI when active, the
// inactive page when stopped, 404 when unknown, 503 when the store could
// not answer in time.
func (h *Handlers) resolveCode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	target, err := h.resolver.Resolve(r.Context(), id, h.clients.FromRequest(r))
	switch {
	case err == nil:
		http.Redirect(w, r, target, http.StatusFound)
	case errors.Is(err, registry.ErrDisabled):
		h.inactivePage(w)
	case errors.Is(err, registry.ErrNotFound):
		http.NotFound(w, r)
	default:
		w.Header().Set("Retry-After", "1")
		http.Error(w, "temporarily unavailable, retry shortly", http.StatusServiceUnavailable)
	}
}

//
// ── Management API ───────────────────────────────────────────────────────
//

func (h *Handlers) listCodes(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, viewOf(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"count":  len(views),
		"data":   views,
	})
}

func (h *Handlers) createCode(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.admin.Create(r.Context(), req.ID, registry.Target{
		Email:   req.Email,
		Subject: req.Subject,
		Body:    req.Body,
		CC:      req.CC,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status": "success",
		"data":   viewOf(e),
	})
}

func (h *Handlers) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := registry.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "error": err.Error(),
		})
		return
	}
	e, err := h.admin.SetStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   viewOf(e),
	})
}

func (h *Handlers) bulkSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := registry.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "error": err.Error(),
		})
		return
	}
	affected, err := h.admin.BulkSetStatus(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"affected": affected,
	})
}

func (h *Handlers) updateTarget(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.admin.UpdateTarget(r.Context(), chi.URLParam(r, "id"), registry.Target{
		Email:   req.Email,
		Subject: req.Subject,
		Body:    req.Body,
		CC:      req.CC,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   viewOf(e),
	})
}

func (h *Handlers) deleteCode(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handlers) codeStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.admin.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   st,
	})
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	agg, err := h.admin.Aggregate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"stats":     agg,
		"storage":   h.storage,
		"timestamp": time.Now().UTC(),
	})
}

//
// ── Liveness ─────────────────────────────────────────────────────────────
//

// health reports process liveness plus registry counters.  The supervisor
// and any hosting platform's probe both hit this endpoint.
func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	agg, err := h.store.Aggregate(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC(),
		"storage":     h.storage,
		"entries":     agg.Entries,
		"total_scans": agg.TotalScans,
		"uptime":      time.Since(h.started).Round(time.Second).String(),
	})
}
