package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinscribe/platform/internal/shared/errors"
)

// Handler provides HTTP handlers for the audit module
type Handler struct {
	repo Repository
}

// NewHandler creates a new audit handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChainHandler)

	return r
}

// ListEntries lists audit entries with filters
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Action:    r.URL.Query().Get("action"),
		SessionID: r.URL.Query().Get("session_id"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			filter.Offset = n
		}
	}

	entries, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"count": len(entries),
	})
}

// VerifyChainHandler verifies the integrity of the stored chain,
// walking it in pages from the genesis entry. The previous page's last
// hash anchors each page so trails of any length verify.
func (h *Handler) VerifyChainHandler(w http.ResponseWriter, r *http.Request) {
	const pageSize = 500

	prevHash := ""
	total := 0
	for offset := 0; ; offset += pageSize {
		entries, err := h.repo.List(r.Context(), ListFilter{Limit: pageSize, Offset: offset, Ascending: true})
		if err != nil {
			writeError(w, err)
			return
		}
		if len(entries) == 0 {
			break
		}

		if err := VerifyChain(entries, prevHash); err != nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"valid": false,
				"error": err.Error(),
			})
			return
		}

		prevHash = entries[len(entries)-1].Hash
		total += len(entries)
		if len(entries) < pageSize {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"entries": total,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error": appErr.Message,
			"code":  appErr.Code,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
