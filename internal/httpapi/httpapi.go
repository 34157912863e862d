// Package httpapi implements the HTTP API: session-cookie auth, project
// CRUD/reorder, task/task-queue/bundle-draft endpoints, and
// attachment upload/list/assign/download.
//
// Grounded on the teacher's internal/http package: one Handler struct per
// concern, each with its own RegisterRoutes(mux) using Go 1.22+
// method-pattern routing and a shared writeJSON helper. Generalized from
// the teacher's Bearer-token-plus-X-GoClaw-User-Id-header scheme to this
// runtime's ads_session cookie, verified against authdb.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/authdb"
)

type contextKey string

const userIDContextKey contextKey = "httpapi.user_id"

// SessionCookieName is the cookie carrying the raw session token.
const SessionCookieName = "ads_session"

// Handler serves the HTTP API's auth, project, and task surfaces.
type Handler struct {
	auth         *authdb.DB
	runtimes     *Runtimes
	cookieSecure bool
	loginLimiter *rateLimiter

	// onProjectCreated, if set, is called synchronously after a project row
	// is inserted, so whoever owns process wiring (cmd/) can build and
	// Register its ProjectRuntime immediately rather than leaving the new
	// project unable to run tasks until the next restart.
	onProjectCreated func(authdb.Project)
}

// NewHandler creates a Handler backed by auth and runtimes. cookieSecure
// controls the Secure attribute on the session cookie (spec §6: optional
// for dev, set in production).
func NewHandler(auth *authdb.DB, runtimes *Runtimes, cookieSecure bool) *Handler {
	return &Handler{
		auth:         auth,
		runtimes:     runtimes,
		cookieSecure: cookieSecure,
		loginLimiter: newRateLimiter(),
	}
}

// OnProjectCreated registers fn to run after every successful project
// creation. Only one callback is kept; a later call replaces the former.
func (h *Handler) OnProjectCreated(fn func(authdb.Project)) {
	h.onProjectCreated = fn
}

// RegisterRoutes registers every endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.authMiddleware(h.handleLogout))

	mux.HandleFunc("GET /api/projects", h.authMiddleware(h.handleListProjects))
	mux.HandleFunc("POST /api/projects", h.authMiddleware(h.handleCreateProject))
	mux.HandleFunc("PATCH /api/projects/{id}", h.authMiddleware(h.handleUpdateProject))
	mux.HandleFunc("DELETE /api/projects/{id}", h.authMiddleware(h.handleDeleteProject))
	mux.HandleFunc("POST /api/projects/reorder", h.authMiddleware(h.handleReorderProjects))

	mux.HandleFunc("POST /api/tasks", h.authMiddleware(h.handleCreateTask))
	mux.HandleFunc("POST /api/tasks/{id}/run", h.authMiddleware(h.handleRunTask))
	mux.HandleFunc("GET /api/task-queue/status", h.authMiddleware(h.handleQueueStatus))
	mux.HandleFunc("POST /api/task-queue/start", h.authMiddleware(h.handleQueueStart))
	mux.HandleFunc("POST /api/task-queue/pause", h.authMiddleware(h.handleQueuePause))
	mux.HandleFunc("POST /api/task-bundle-drafts/{id}/approve", h.authMiddleware(h.handleApproveBundleDraft))

	mux.HandleFunc("POST /api/attachments", h.authMiddleware(h.handleUploadAttachment))
	mux.HandleFunc("GET /api/attachments", h.authMiddleware(h.handleListAttachments))
	mux.HandleFunc("POST /api/attachments/{id}/assign", h.authMiddleware(h.handleAssignAttachment))
	mux.HandleFunc("GET /api/attachments/{id}/blob", h.authMiddleware(h.handleDownloadAttachment))
}

// authMiddleware verifies the ads_session cookie and injects the
// authenticated user id into the request context.
func (h *Handler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil {
			writeError(w, apperr.Wrap(apperr.Auth, "no session cookie"))
			return
		}
		sess, err := h.auth.VerifySession(r.Context(), cookie.Value, time.Now(), r.RemoteAddr, r.UserAgent())
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey, sess.UserID)
		next(w, r.WithContext(ctx))
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError translates an apperr-classified error into the spec's
// {"error":"message"} body with the matching 4xx/5xx status.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, authdb.ErrProjectNotFound), errors.Is(err, authdb.ErrPromptNotFound), errors.Is(err, ErrUnknownProject):
		return http.StatusNotFound
	case errors.Is(err, apperr.Auth):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.Input):
		return http.StatusBadRequest
	case errors.Is(err, apperr.RateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.Abort):
		return http.StatusConflict
	case errors.Is(err, apperr.Config):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperr.Upstream):
		return http.StatusBadGateway
	case errors.Is(err, apperr.Storage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// userIDFromContext returns the authenticated user id authMiddleware
// injected, or "" if called outside an authenticated request.
func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}
