package mastodon

import (
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mhsenkow/snapfeed/internal/domain/model"
)

// stripPolicy removes all markup, leaving plain text for search and preview.
// The original HTML is preserved separately for display.
var stripPolicy = bluemonday.StrictPolicy()

// apiStatus is the native Mastodon status shape, reduced to the fields the
// engine consumes.
type apiStatus struct {
	ID               string          `json:"id"`
	CreatedAt        time.Time       `json:"created_at"`
	URL              string          `json:"url"`
	Content          string          `json:"content"`
	Account          apiAccount      `json:"account"`
	RepliesCount     int             `json:"replies_count"`
	ReblogsCount     int             `json:"reblogs_count"`
	FavouritesCount  int             `json:"favourites_count"`
	Favourited       bool            `json:"favourited"`
	Bookmarked       bool            `json:"bookmarked"`
	Reblog           *apiStatus      `json:"reblog"`
	MediaAttachments []apiAttachment `json:"media_attachments"`
	Tags             []apiTag        `json:"tags"`
}

type apiAccount struct {
	Acct        string `json:"acct"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

type apiAttachment struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	PreviewURL  string `json:"preview_url"`
	Description string `json:"description"`
}

type apiTag struct {
	Name string `json:"name"`
}

// normalizeStatus converts a native status into the unified shape. A boost
// is unwrapped to its inner status with the booster recorded in ResharedBy,
// so the same underlying post reached through different boosts de-dups to
// one entry. Pure and idempotent: equal inputs yield structurally equal
// outputs.
func normalizeStatus(s apiStatus) model.UnifiedPost {
	resharedBy := ""
	if s.Reblog != nil {
		resharedBy = s.Account.Acct
		s = *s.Reblog
	}

	post := model.UnifiedPost{
		ID:                "mastodon:" + s.ID,
		Platform:          model.PlatformMastodon,
		AuthorHandle:      s.Account.Acct,
		AuthorDisplayName: s.Account.DisplayName,
		AvatarURL:         s.Account.Avatar,
		BodyText:          stripHTML(s.Content),
		BodyHTML:          s.Content,
		URL:               s.URL,
		CreatedAt:         s.CreatedAt,
		Counts: model.Counts{
			Replies:  s.RepliesCount,
			Reshares: s.ReblogsCount,
			Likes:    s.FavouritesCount,
		},
		Liked:      s.Favourited,
		Bookmarked: s.Bookmarked,
		MediaRefs:  make([]model.MediaRef, 0, len(s.MediaAttachments)),
		Hashtags:   make([]string, 0, len(s.Tags)),
		ResharedBy: resharedBy,
		NativeID:   s.ID,
	}

	for _, a := range s.MediaAttachments {
		post.MediaRefs = append(post.MediaRefs, model.MediaRef{
			URL:         a.URL,
			PreviewURL:  a.PreviewURL,
			Type:        a.Type,
			Description: a.Description,
		})
	}
	for _, t := range s.Tags {
		post.Hashtags = append(post.Hashtags, t.Name)
	}

	return post
}

// stripHTML reduces rich-text content to plain text: tags removed, entities
// decoded, surrounding whitespace trimmed. Paragraph and line breaks become
// newlines so multi-paragraph posts stay readable as text.
func stripHTML(content string) string {
	if content == "" {
		return ""
	}

	// Mastodon content uses <p> blocks and <br> within them.
	replaced := strings.NewReplacer(
		"</p>", "\n\n",
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
	).Replace(content)

	stripped := stripPolicy.Sanitize(replaced)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
