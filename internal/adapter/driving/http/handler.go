// Package httphandler is the driving adapter serving the localhost JSON API
// consumed by the external presentation layer.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mhsenkow/snapfeed/internal/application"
	"github.com/mhsenkow/snapfeed/internal/domain/model"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	timeline   *application.TimelineService
	refresher  *application.RefreshService
	engagement *application.EngagementSync
	sessions   *application.SessionManager
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	timeline *application.TimelineService,
	refresher *application.RefreshService,
	engagement *application.EngagementSync,
	sessions *application.SessionManager,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		timeline:   timeline,
		refresher:  refresher,
		engagement: engagement,
		sessions:   sessions,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/timeline", h.GetTimeline)
	mux.HandleFunc("POST /api/v1/timeline/refresh", h.RefreshTimeline)
	mux.HandleFunc("POST /api/v1/posts/{id}/toggle", h.TogglePost)
	mux.HandleFunc("GET /api/v1/session", h.GetSession)
	mux.HandleFunc("POST /api/v1/auth/mastodon/start", h.StartMastodonLogin)
	mux.HandleFunc("GET /api/v1/auth/mastodon/callback", h.MastodonCallback)
	mux.HandleFunc("POST /api/v1/auth/bluesky/login", h.BlueskyLogin)
	mux.HandleFunc("POST /api/v1/auth/{platform}/logout", h.Logout)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// GetTimeline returns the merged, de-duplicated, newest-first timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	posts := h.timeline.Snapshot()

	resp := make([]PostResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, toPostResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RefreshTimeline triggers an immediate refresh of every authenticated
// backend and reports each backend's outcome. Partial failures come back
// with 200: degraded aggregation still carries the healthy backend's posts.
func (h *Handler) RefreshTimeline(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.refresher.RefreshNow(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "refresh canceled")
		return
	}

	resp := make([]BackendStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		resp = append(resp, toBackendStatusResponse(st))
	}

	writeJSON(w, http.StatusOK, resp)
}

// TogglePost flips a like or bookmark on a post. By the time an error is
// returned here the optimistic local change has already been rolled back.
func (h *Handler) TogglePost(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("id")

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := model.EngagementKind(req.Kind)
	if kind != model.EngagementLike && kind != model.EngagementBookmark {
		writeError(w, http.StatusBadRequest, "kind must be \"like\" or \"bookmark\"")
		return
	}

	if err := h.engagement.Toggle(r.Context(), postID, kind); err != nil {
		if errors.Is(err, model.ErrUnsupportedEngagement) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("toggle failed", "post", postID, "kind", kind, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	post, ok := h.timeline.Store().Get(postID)
	if !ok {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// GetSession reports both backends' authentication state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.States())
}

// StartMastodonLogin registers an OAuth client with the chosen instance and
// returns the authorization URL for the external browser surface.
func (h *Handler) StartMastodonLogin(w http.ResponseWriter, r *http.Request) {
	var req MastodonLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Instance == "" {
		writeError(w, http.StatusBadRequest, "instance is required")
		return
	}

	authURL, err := h.sessions.BeginMastodonLogin(r.Context(), req.Instance)
	if err != nil {
		var regErr *model.RegistrationError
		if errors.As(err, &regErr) {
			h.logger.Error("mastodon registration failed", "instance", regErr.Instance, "status", regErr.StatusCode)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, MastodonLoginResponse{AuthorizeURL: authURL})
}

// MastodonCallback consumes the authorization-code redirect and completes
// the login.
func (h *Handler) MastodonCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	state, err := h.sessions.CompleteMastodonLogin(r.Context(), code)
	if err != nil {
		h.logger.Error("mastodon login failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// BlueskyLogin performs the direct identifier+app-password login.
func (h *Handler) BlueskyLogin(w http.ResponseWriter, r *http.Request) {
	var req BlueskyLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "identifier and password are required")
		return
	}

	state, err := h.sessions.LoginBluesky(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.logger.Error("bluesky login failed", "error", err)
		writeError(w, http.StatusBadGateway, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// Logout clears the stored credential for a backend.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	platform := model.Platform(r.PathValue("platform"))
	if platform != model.PlatformMastodon && platform != model.PlatformBluesky {
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	if err := h.sessions.Logout(r.Context(), platform); err != nil {
		h.logger.Error("logout failed", "platform", platform, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
