package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mhsenkow/snapfeed/internal/application"
	"github.com/mhsenkow/snapfeed/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// PostResponse is the JSON representation of a unified post handed to the
// presentation layer. It is flat and backend-agnostic: the only trace of
// the post's origin is the platform tag.
type PostResponse struct {
	ID                string           `json:"id"`
	Platform          string           `json:"platform"`
	AuthorHandle      string           `json:"author_handle"`
	AuthorDisplayName string           `json:"author_display_name"`
	AvatarURL         string           `json:"avatar_url,omitempty"`
	BodyText          string           `json:"body_text"`
	BodyHTML          string           `json:"body_html,omitempty"`
	URL               string           `json:"url,omitempty"`
	CreatedAt         string           `json:"created_at"`
	Counts            model.Counts     `json:"counts"`
	Liked             bool             `json:"liked"`
	Bookmarked        bool             `json:"bookmarked"`
	MediaRefs         []model.MediaRef `json:"media_refs"`
	Hashtags          []string         `json:"hashtags"`
	ResharedBy        string           `json:"reshared_by,omitempty"`
}

// BackendStatusResponse reports one backend's share of a refresh.
type BackendStatusResponse struct {
	Platform string `json:"platform"`
	Fetched  int    `json:"fetched"`
	HasMore  bool   `json:"has_more"`
	Partial  bool   `json:"partial"`
	Error    string `json:"error,omitempty"`
}

// ToggleRequest is the JSON body for the engagement toggle endpoint.
type ToggleRequest struct {
	Kind string `json:"kind"`
}

// MastodonLoginRequest starts a Mastodon login attempt.
type MastodonLoginRequest struct {
	Instance string `json:"instance"`
}

// MastodonLoginResponse carries the authorization URL the caller must open
// in an external browser surface.
type MastodonLoginResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// BlueskyLoginRequest is the JSON body for the Bluesky login endpoint.
type BlueskyLoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toPostResponse converts a unified post to its JSON representation.
func toPostResponse(p model.UnifiedPost) PostResponse {
	media := p.MediaRefs
	if media == nil {
		media = []model.MediaRef{}
	}
	hashtags := p.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}

	return PostResponse{
		ID:                p.ID,
		Platform:          string(p.Platform),
		AuthorHandle:      p.AuthorHandle,
		AuthorDisplayName: p.AuthorDisplayName,
		AvatarURL:         p.AvatarURL,
		BodyText:          p.BodyText,
		BodyHTML:          p.BodyHTML,
		URL:               p.URL,
		CreatedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
		Counts:            p.Counts,
		Liked:             p.Liked,
		Bookmarked:        p.Bookmarked,
		MediaRefs:         media,
		Hashtags:          hashtags,
		ResharedBy:        p.ResharedBy,
	}
}

// toBackendStatusResponse converts a refresh status to its JSON representation.
func toBackendStatusResponse(st application.BackendStatus) BackendStatusResponse {
	resp := BackendStatusResponse{
		Platform: string(st.Platform),
		Fetched:  st.Fetched,
		HasMore:  st.HasMore,
		Partial:  st.Partial,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}
