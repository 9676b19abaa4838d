package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinscribe/platform/internal/audit"
	"github.com/clinscribe/platform/internal/shared/errors"
	"github.com/clinscribe/platform/internal/shared/types"
)

type contextKey string

const sessionContextKey contextKey = "session"

// Handler provides HTTP handlers for session management
type Handler struct {
	manager   *Manager
	auditRepo audit.Repository
}

// NewHandler creates a new session handler
func NewHandler(manager *Manager, auditRepo audit.Repository) *Handler {
	return &Handler{manager: manager, auditRepo: auditRepo}
}

// record appends an audit entry; trail failures never fail the request
func (h *Handler) record(r *http.Request, entry *audit.Entry) {
	if err := h.auditRepo.Append(r.Context(), entry.WithIP(clientIP(r))); err != nil {
		h.manager.log.Error().Err(err).Str("action", entry.Action).Msg("failed to audit session event")
	}
}

// Routes registers the session routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/current", h.Current)
	r.Delete("/current", h.Destroy)

	return r
}

// Create starts a new session
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	s, token, err := h.manager.Create(clientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	id := s.ID.String()
	h.record(r, audit.NewEntry(audit.ActorTypeClient, "session", audit.ActionSessionCreated, "session", &id, nil).WithSession(&s.ID))

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_token": token,
		"expires_in":    int(time.Until(s.ExpiresAt).Seconds()),
	})
}

// Current validates the presented token
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}

	s, err := h.manager.Validate(token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"session": s,
	})
}

// Destroy logs the session out
func (h *Handler) Destroy(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != "" {
		if s, err := h.manager.Validate(token); err == nil {
			h.manager.Destroy(s.ID)
			id := s.ID.String()
			h.record(r, audit.NewEntry(audit.ActorTypeClient, "session", audit.ActionSessionDestroyed, "session", &id, nil).WithSession(&s.ID))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Middleware requires a valid session token on guarded routes
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.record(r, audit.NewEntry(audit.ActorTypeClient, "session", audit.ActionUnauthorizedAccess, "endpoint", nil, map[string]any{
				"path":   r.URL.Path,
				"reason": "missing token",
			}))
			writeError(w, errors.Unauthorized("missing session token"))
			return
		}

		s, err := h.manager.Validate(token)
		if err != nil {
			h.record(r, audit.NewEntry(audit.ActorTypeClient, "session", audit.ActionUnauthorizedAccess, "endpoint", nil, map[string]any{
				"path":   r.URL.Path,
				"reason": "invalid token",
			}))
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext extracts the validated session from request context
func FromContext(ctx context.Context) *Session {
	s, ok := ctx.Value(sessionContextKey).(*Session)
	if !ok {
		return nil
	}
	return s
}

// SessionID returns the validated session's ID, or nil outside a
// guarded route.
func SessionID(ctx context.Context) *types.ID {
	s := FromContext(ctx)
	if s == nil {
		return nil
	}
	id := s.ID
	return &id
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	return strings.Split(r.RemoteAddr, ":")[0]
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
