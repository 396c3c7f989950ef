package bluesky_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhsenkow/snapfeed/internal/adapter/driven/bluesky"
	"github.com/mhsenkow/snapfeed/internal/domain/model"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) (*bluesky.Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := bluesky.NewClientWithHTTPClient(server.Client(), server.URL)
	return client, server
}

func TestLogin_Success(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.server.createSession", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice.bsky.social", body["identifier"])
		assert.Equal(t, "app-password", body["password"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(bluesky.Session{
			DID:        "did:plc:alice",
			Handle:     "alice.bsky.social",
			AccessJwt:  "access-1",
			RefreshJwt: "refresh-1",
		})
	})

	client, _ := newTestClient(t, handler)
	sess, err := client.Login(context.Background(), "alice.bsky.social", "app-password")

	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", sess.DID)
	assert.Equal(t, "access-1", sess.AccessJwt)
	assert.Equal(t, "refresh-1", sess.RefreshJwt)
	assert.Equal(t, "did:plc:alice", client.DID())
}

func TestLogin_BadCredentials(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
	})

	client, _ := newTestClient(t, handler)
	_, err := client.Login(context.Background(), "alice.bsky.social", "wrong")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestValidateSession(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/xrpc/com.atproto.server.getSession", r.URL.Path)
			assert.Equal(t, "Bearer stored-access", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"did":"did:plc:alice","handle":"alice.bsky.social"}`))
		})

		client, _ := newTestClient(t, handler)
		ok, err := client.ValidateSession(context.Background(), "did:plc:alice", "stored-access")

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "did:plc:alice", client.DID())
	})

	t.Run("rejected token is not an error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"ExpiredToken"}`))
		})

		client, _ := newTestClient(t, handler)
		ok, err := client.ValidateSession(context.Background(), "did:plc:alice", "expired-access")

		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, client.DID())
	})
}

func TestRefreshSession(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.server.refreshSession", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer refresh-1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(bluesky.Session{
			DID:        "did:plc:alice",
			Handle:     "alice.bsky.social",
			AccessJwt:  "access-2",
			RefreshJwt: "refresh-2",
		})
	})

	client, _ := newTestClient(t, handler)
	sess, err := client.RefreshSession(context.Background(), "refresh-1")

	require.NoError(t, err)
	assert.Equal(t, "access-2", sess.AccessJwt)
	assert.Equal(t, "refresh-2", sess.RefreshJwt)
	assert.Equal(t, "did:plc:alice", client.DID())
}

func TestRefreshSession_Rejected(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"ExpiredToken"}`))
	})

	client, _ := newTestClient(t, handler)
	_, err := client.RefreshSession(context.Background(), "dead-refresh")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestFetchPage_CursorFlow(t *testing.T) {
	var gotQuery []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/app.bsky.feed.getTimeline", r.URL.Path)
		gotQuery = append(gotQuery, r.URL.RawQuery)

		w.Header().Set("Content-Type", "application/json")
		if len(gotQuery) == 1 {
			w.Write([]byte(`{
				"feed": [
					{"post": {"uri": "at://did:plc:a/app.bsky.feed.post/1", "cid": "cid1", "author": {"handle": "a.bsky.social"}, "record": {"text": "first", "createdAt": "2026-03-01T10:00:00Z"}}}
				],
				"cursor": "page-2-token"
			}`))
			return
		}
		w.Write([]byte(`{"feed": []}`))
	})

	client, _ := newTestClient(t, handler)
	client.SetSession("did:plc:viewer", "access")

	page, err := client.FetchPage(context.Background(), "", 25)
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "page-2-token", page.NextCursor, "cursor is the server's opaque token")

	next, err := client.FetchPage(context.Background(), page.NextCursor, 25)
	require.NoError(t, err)
	assert.Empty(t, next.Posts)
	assert.Empty(t, next.NextCursor, "exhausted feed omits the cursor")

	require.Len(t, gotQuery, 2)
	assert.NotContains(t, gotQuery[0], "cursor=")
	assert.Contains(t, gotQuery[1], "cursor=page-2-token")
	assert.Contains(t, gotQuery[1], "limit=25")
}

func TestFetchPage_AuthorFeed(t *testing.T) {
	var gotPath, gotActor string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotActor = r.URL.Query().Get("actor")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"feed": []}`))
	})

	client, _ := newTestClient(t, handler)
	client.SetFeed(bluesky.FeedAuthor, "alice.bsky.social")

	_, err := client.FetchPage(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, "/xrpc/app.bsky.feed.getAuthorFeed", gotPath)
	assert.Equal(t, "alice.bsky.social", gotActor)
}

func TestFetchPage_RateLimited(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client, _ := newTestClient(t, handler)
	_, err := client.FetchPage(context.Background(), "", 25)

	var rateErr *model.RateLimitError
	require.ErrorAs(t, err, &rateErr)
}

func TestLike_CreatesRecordAndReturnsURI(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.repo.createRecord", r.URL.Path)

		var body struct {
			Repo       string `json:"repo"`
			Collection string `json:"collection"`
			Record     struct {
				Type    string `json:"$type"`
				Subject struct {
					URI string `json:"uri"`
					CID string `json:"cid"`
				} `json:"subject"`
			} `json:"record"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "did:plc:viewer", body.Repo)
		assert.Equal(t, "app.bsky.feed.like", body.Collection)
		assert.Equal(t, "app.bsky.feed.like", body.Record.Type)
		assert.Equal(t, "at://did:plc:a/app.bsky.feed.post/1", body.Record.Subject.URI)
		assert.Equal(t, "cid1", body.Record.Subject.CID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"uri": "at://did:plc:viewer/app.bsky.feed.like/3kxyz", "cid": "likecid"}`))
	})

	client, _ := newTestClient(t, handler)
	client.SetSession("did:plc:viewer", "access")

	post := model.UnifiedPost{
		NativeID:  "at://did:plc:a/app.bsky.feed.post/1",
		NativeCID: "cid1",
	}
	likeRef, err := client.Like(context.Background(), post)

	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:viewer/app.bsky.feed.like/3kxyz", likeRef)
}

func TestUnlike_DeletesRecordByKey(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.repo.deleteRecord", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "did:plc:viewer", body["repo"])
		assert.Equal(t, "app.bsky.feed.like", body["collection"])
		assert.Equal(t, "3kxyz", body["rkey"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	client, _ := newTestClient(t, handler)
	client.SetSession("did:plc:viewer", "access")

	post := model.UnifiedPost{
		NativeID:      "at://did:plc:a/app.bsky.feed.post/1",
		ViewerLikeURI: "at://did:plc:viewer/app.bsky.feed.like/3kxyz",
	}
	require.NoError(t, client.Unlike(context.Background(), post))
}

func TestUnlike_WithoutLikeURIFails(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	client.SetSession("did:plc:viewer", "access")

	err := client.Unlike(context.Background(), model.UnifiedPost{NativeID: "at://x/y/1"})
	require.Error(t, err)
}

func TestBookmark_Unsupported(t *testing.T) {
	client := bluesky.NewClient("")
	post := model.UnifiedPost{NativeID: "at://x/y/1"}

	assert.ErrorIs(t, client.Bookmark(context.Background(), post), model.ErrUnsupportedEngagement)
	assert.ErrorIs(t, client.Unbookmark(context.Background(), post), model.ErrUnsupportedEngagement)
}

func TestUnauthenticatedLikeFails(t *testing.T) {
	client := bluesky.NewClient("")

	_, err := client.Like(context.Background(), model.UnifiedPost{NativeID: "at://x/y/1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}
