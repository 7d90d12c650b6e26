package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// PostedComment records one commentThreads.insert call seen by the mock.
type PostedComment struct {
	ChannelID   string
	VideoID     string
	Text        string
	AccessToken string
}

// MockYouTubeServer mocks the YouTube Data API plus the Google OAuth token
// endpoint. Configure responses with the Mock* helpers, point a
// youtubeapi.Client's Endpoint and OAuth.Endpoint at Server.URL, and inspect
// the recorded traffic afterwards.
type MockYouTubeServer struct {
	*httptest.Server

	mu sync.Mutex
	// channel id and title returned for mine=true lookups
	myChannelID    string
	myChannelTitle string
	// handle -> channel id; missing handle yields zero results
	handles map[string]string
	// channel id -> latest video id; empty string yields zero results
	latest map[string]string
	// channel ids whose search call fails with HTTP 500
	searchFailures map[string]bool
	// user refresh token -> access token; missing token yields HTTP 400
	refreshGrants map[string]string
	// access token granted for any authorization code exchange
	exchangeAccessToken  string
	exchangeRefreshToken string

	failComments bool

	refreshCalls int
	posted       []PostedComment
}

// NewMockYouTubeServer starts the mock; it is closed via t.Cleanup.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		handles:        make(map[string]string),
		latest:         make(map[string]string),
		searchFailures: make(map[string]bool),
		refreshGrants:  make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/channels", m.handleChannels)
	mux.HandleFunc("/youtube/v3/search", m.handleSearch)
	mux.HandleFunc("/youtube/v3/commentThreads", m.handleCommentThreads)
	mux.HandleFunc("/token", m.handleToken)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// MockMyChannel sets the channel identity returned for mine=true lookups.
func (m *MockYouTubeServer) MockMyChannel(id, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.myChannelID = id
	m.myChannelTitle = title
}

// MockHandle maps a handle to a channel id.
func (m *MockYouTubeServer) MockHandle(handle, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[handle] = channelID
}

// MockLatestVideo sets the newest video id for a channel. An empty id means
// the channel has no videos.
func (m *MockYouTubeServer) MockLatestVideo(channelID, videoID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[channelID] = videoID
}

// FailSearchFor makes latest-video lookups for a channel return HTTP 500.
func (m *MockYouTubeServer) FailSearchFor(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchFailures[channelID] = true
}

// MockRefreshGrant maps a refresh token to the access token it yields.
func (m *MockYouTubeServer) MockRefreshGrant(refreshToken, accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshGrants[refreshToken] = accessToken
}

// MockExchange sets the tokens returned for any authorization-code exchange.
func (m *MockYouTubeServer) MockExchange(accessToken, refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchangeAccessToken = accessToken
	m.exchangeRefreshToken = refreshToken
}

// FailComments makes every commentThreads.insert call return HTTP 500.
func (m *MockYouTubeServer) FailComments() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failComments = true
}

// RefreshCalls reports how many refresh_token grants the mock served.
func (m *MockYouTubeServer) RefreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

// Posted returns the comments recorded so far, in arrival order.
func (m *MockYouTubeServer) Posted() []PostedComment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PostedComment, len(m.posted))
	copy(out, m.posted)
	return out
}

func (m *MockYouTubeServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := r.URL.Query()
	var items []map[string]any
	switch {
	case q.Get("mine") == "true":
		if m.myChannelID != "" {
			items = append(items, map[string]any{
				"id":      m.myChannelID,
				"snippet": map[string]any{"title": m.myChannelTitle},
			})
		}
	case q.Get("forHandle") != "":
		if id, ok := m.handles[q.Get("forHandle")]; ok {
			items = append(items, map[string]any{"id": id})
		}
	}
	writeListResponse(w, items)
}

func (m *MockYouTubeServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channelID := r.URL.Query().Get("channelId")
	if m.searchFailures[channelID] {
		http.Error(w, `{"error": {"code": 500, "message": "backend error"}}`, http.StatusInternalServerError)
		return
	}
	var items []map[string]any
	if videoID := m.latest[channelID]; videoID != "" {
		items = append(items, map[string]any{
			"id":      map[string]any{"kind": "youtube#video", "videoId": videoID},
			"snippet": map[string]any{"channelId": channelID},
		})
	}
	writeListResponse(w, items)
}

func (m *MockYouTubeServer) handleCommentThreads(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Snippet struct {
			ChannelID       string `json:"channelId"`
			VideoID         string `json:"videoId"`
			TopLevelComment struct {
				Snippet struct {
					TextOriginal string `json:"textOriginal"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failComments {
		http.Error(w, `{"error": {"code": 500, "message": "backend error"}}`, http.StatusInternalServerError)
		return
	}
	m.posted = append(m.posted, PostedComment{
		ChannelID:   body.Snippet.ChannelID,
		VideoID:     body.Snippet.VideoID,
		Text:        body.Snippet.TopLevelComment.Snippet.TextOriginal,
		AccessToken: bearerToken(r),
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"id": "thread-id"})
}

func (m *MockYouTubeServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.PostFormValue("grant_type") {
	case "refresh_token":
		m.refreshCalls++
		access, ok := m.refreshGrants[r.PostFormValue("refresh_token")]
		if !ok {
			http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	case "authorization_code":
		if m.exchangeAccessToken == "" {
			http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
			return
		}
		resp := map[string]any{
			"access_token": m.exchangeAccessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if m.exchangeRefreshToken != "" {
			resp["refresh_token"] = m.exchangeRefreshToken
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		http.Error(w, `{"error": "unsupported_grant_type"}`, http.StatusBadRequest)
	}
}

func writeListResponse(w http.ResponseWriter, items []map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"pageInfo": map[string]any{"totalResults": len(items), "resultsPerPage": len(items)},
		"items":    items,
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
