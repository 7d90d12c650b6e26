package dispatch

import (
	"context"
	"database/sql"
	"testing"

	"golang.org/x/oauth2"

	"github.com/jmallard/commentcue/config"
	"github.com/jmallard/commentcue/db"
	"github.com/jmallard/commentcue/testutil"
	"github.com/jmallard/commentcue/youtubeapi"
)

func TestGroupByUser(t *testing.T) {
	drained := []db.QueuedComment{
		{Comment: "a1", UserID: "alice"},
		{Comment: "b1", UserID: "bob"},
		{Comment: "a2", UserID: "alice"},
		{Comment: "a1", UserID: "alice"}, // duplicates preserved
	}
	grouped := groupByUser(drained)
	if len(grouped) != 2 {
		t.Fatalf("groups = %d, want 2", len(grouped))
	}
	if grouped[0].UserID != "alice" || grouped[1].UserID != "bob" {
		t.Errorf("group order = [%s %s], want first-seen [alice bob]", grouped[0].UserID, grouped[1].UserID)
	}
	wantAlice := []string{"a1", "a2", "a1"}
	if len(grouped[0].Comments) != len(wantAlice) {
		t.Fatalf("alice comments = %v, want %v", grouped[0].Comments, wantAlice)
	}
	for i, c := range wantAlice {
		if grouped[0].Comments[i] != c {
			t.Errorf("alice comments[%d] = %q, want %q", i, grouped[0].Comments[i], c)
		}
	}
	if len(grouped[1].Comments) != 1 || grouped[1].Comments[0] != "b1" {
		t.Errorf("bob comments = %v, want [b1]", grouped[1].Comments)
	}
}

func TestGroupByUserEmpty(t *testing.T) {
	if got := groupByUser(nil); len(got) != 0 {
		t.Errorf("groupByUser(nil) = %v, want empty", got)
	}
}

// --- integration tests against Postgres and the mock YouTube API ---

func newTestClient(m *testutil.MockYouTubeServer) *youtubeapi.Client {
	c := youtubeapi.New(&config.Config{
		APIKey:       "test-key",
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/",
	})
	c.Endpoint = m.URL
	c.OAuth.Endpoint = oauth2.Endpoint{
		AuthURL:   m.URL + "/auth",
		TokenURL:  m.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return c
}

func seedUser(t *testing.T, database *sql.DB, id, refreshToken string) {
	t.Helper()
	if err := db.UpsertUser(context.Background(), database, id, id, refreshToken); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedChannel(t *testing.T, database *sql.DB, id, handle, latest string) {
	t.Helper()
	if err := db.InsertChannel(context.Background(), database, id, handle, latest); err != nil {
		t.Fatalf("seed channel %s: %v", id, err)
	}
}

func seedComment(t *testing.T, database *sql.DB, text, userID, channelID string) {
	t.Helper()
	if err := db.InsertComment(context.Background(), database, text, userID, channelID); err != nil {
		t.Fatalf("seed comment: %v", err)
	}
}

func channelWatermark(t *testing.T, database *sql.DB, id string) string {
	t.Helper()
	channels, err := db.ListChannels(context.Background(), database)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	for _, c := range channels {
		if c.ID == id {
			return c.Latest
		}
	}
	t.Fatalf("channel %s not found", id)
	return ""
}

func TestRunNewUpload(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := testutil.NewMockYouTubeServer(t)
	yt := newTestClient(m)
	ctx := context.Background()

	seedUser(t, database, "alice", "rt-alice")
	seedUser(t, database, "bob", "rt-bob")
	seedChannel(t, database, "UCchan", "somechannel", "v1")
	seedComment(t, database, "first!", "alice", "UCchan")
	seedComment(t, database, "nice", "bob", "UCchan")
	seedComment(t, database, "second", "alice", "UCchan")

	m.MockLatestVideo("UCchan", "v2")
	m.MockRefreshGrant("rt-alice", "at-alice")
	m.MockRefreshGrant("rt-bob", "at-bob")

	report, err := Run(ctx, database, yt)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.NewUploads != 1 {
		t.Errorf("new uploads = %d, want 1", report.NewUploads)
	}
	if report.CommentsPosted != 3 {
		t.Errorf("comments posted = %d, want 3", report.CommentsPosted)
	}

	if got := channelWatermark(t, database, "UCchan"); got != "v2" {
		t.Errorf("watermark = %q, want v2", got)
	}
	if n, _ := db.CountComments(ctx, database, "UCchan"); n != 0 {
		t.Errorf("queued comments after run = %d, want 0", n)
	}

	posted := m.Posted()
	if len(posted) != 3 {
		t.Fatalf("posted = %d comments, want 3", len(posted))
	}
	for _, p := range posted {
		if p.VideoID != "v2" || p.ChannelID != "UCchan" {
			t.Errorf("comment posted to %s/%s, want UCchan/v2", p.ChannelID, p.VideoID)
		}
	}
	// Per-user submission order is preserved within each user's batch.
	var aliceTexts []string
	for _, p := range posted {
		if p.AccessToken == "at-alice" {
			aliceTexts = append(aliceTexts, p.Text)
		}
	}
	if len(aliceTexts) != 2 || aliceTexts[0] != "first!" || aliceTexts[1] != "second" {
		t.Errorf("alice comments posted = %v, want [first! second]", aliceTexts)
	}
}

func TestRunNoChange(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := testutil.NewMockYouTubeServer(t)
	yt := newTestClient(m)
	ctx := context.Background()

	seedUser(t, database, "alice", "rt-alice")
	seedChannel(t, database, "UCchan", "somechannel", "v1")
	seedComment(t, database, "queued", "alice", "UCchan")
	m.MockLatestVideo("UCchan", "v1")

	report, err := Run(ctx, database, yt)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.NewUploads != 0 || report.CommentsPosted != 0 {
		t.Errorf("report = %+v, want no uploads and no posts", report)
	}
	if n, _ := db.CountComments(ctx, database, "UCchan"); n != 1 {
		t.Errorf("queued comments = %d, want 1 (untouched)", n)
	}
	if m.RefreshCalls() != 0 {
		t.Errorf("refresh calls = %d, want 0", m.RefreshCalls())
	}
	if len(m.Posted()) != 0 {
		t.Errorf("posted = %d, want 0", len(m.Posted()))
	}
}

func TestRunSecondRunIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := testutil.NewMockYouTubeServer(t)
	yt := newTestClient(m)
	ctx := context.Background()

	seedUser(t, database, "alice", "rt-alice")
	seedChannel(t, database, "UCchan", "somechannel", "v1")
	seedComment(t, database, "hello", "alice", "UCchan")
	m.MockLatestVideo("UCchan", "v2")
	m.MockRefreshGrant("rt-alice", "at-alice")

	if _, err := Run(ctx, database, yt); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := Run(ctx, database, yt)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.NewUploads != 0 || report.CommentsPosted != 0 {
		t.Errorf("second run report = %+v, want no-op", report)
	}
	if len(m.Posted()) != 1 {
		t.Errorf("total posted after two runs = %d, want 1", len(m.Posted()))
	}
}

func TestRunEmptyWatermarkCountsAsChange(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := testutil.NewMockYouTubeServer(t)
	yt := newTestClient(m)
	ctx := context.Background()

	seedUser(t, database, "alice", "rt-alice")
	seedChannel(t, database, "UCnew", "newchannel", "")
	seedComment(t, database, "pioneer", "alice", "UCnew")
	m.MockLatestVideo("UCnew", "v1")
	m.MockRefreshGrant("rt-alice", "at-alice")

	report, err := Run(ctx, database, yt)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.NewUploads != 1 || report.CommentsPosted != 1 {
		t.Errorf("report = %+v, want one upload and one post", report)
	}
	if got := channelWatermark(t, database, "UCnew"); got != "v1" {
		t.Errorf("watermark = %q, want v1", got)
	}
}

func TestRunTokenCacheReuseAcrossChannels(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := testutil.NewMockYouTubeServer(t)
	yt := newTestClient(m)
	ctx := context.Background()

	seedUser(t, database, "alice", "rt-alice")
	seedChannel(t, database, "UCone", "one", "v1")
	seedChannel(t, database, "UCtwo", "two", "v1")
	seedComment(t, database, "on one", "alice", "UCone")
	seedComment(t, database, "on two", "alice", "UCtwo")
	m.MockLatestVideo("UCone", "v2")
	m.MockLatestVideo("UCtwo", "v3")
	m.MockRefreshGrant("rt-alice", "at-alice")

	report, err := Run(ctx, database, yt)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.CommentsPosted != 2 {
		t.Errorf("comments posted = %d, want 2", report.CommentsPosted)
	}
	if m.RefreshCalls() != 1 {
		t.Errorf("refresh calls = %d, want exactly 1 for the whole run", m.RefreshCalls())
	}
}

func TestRunFetchFailureAbortsRun(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := testutil.NewMockYouTubeServer(t)
	yt := newTestClient(m)
	ctx := context.Background()

	seedUser(t, database, "alice", "rt-alice")
	seedChannel(t, database, "UCbroken", "broken", "v1")
	seedComment(t, database, "queued", "alice", "UCbroken")
	m.FailSearchFor("UCbroken")

	if _, err := Run(ctx, database, yt); err == nil {
		t.Fatal("expected error when latest-video fetch fails")
	}
	// Nothing was mutated: watermark and queue are intact.
	if got := channelWatermark(t, database, "UCbroken"); got != "v1" {
		t.Errorf("watermark = %q, want v1", got)
	}
	if n, _ := db.CountComments(ctx, database, "UCbroken"); n != 1 {
		t.Errorf("queued comments = %d, want 1", n)
	}
}

func TestRunRefreshFailureAbortsRun(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := testutil.NewMockYouTubeServer(t)
	yt := newTestClient(m)
	ctx := context.Background()

	seedUser(t, database, "alice", "rt-unknown")
	seedChannel(t, database, "UCchan", "somechannel", "v1")
	seedComment(t, database, "hello", "alice", "UCchan")
	m.MockLatestVideo("UCchan", "v2")
	// no refresh grant mocked for rt-unknown

	if _, err := Run(ctx, database, yt); err == nil {
		t.Fatal("expected error when token refresh fails")
	}
	// Watermark already advanced and the queue already drained: the accepted
	// failure mode is that these comments are lost.
	if got := channelWatermark(t, database, "UCchan"); got != "v2" {
		t.Errorf("watermark = %q, want v2", got)
	}
	if n, _ := db.CountComments(ctx, database, "UCchan"); n != 0 {
		t.Errorf("queued comments = %d, want 0 (drained before refresh)", n)
	}
}

func TestRunPostFailureContinues(t *testing.T) {
	database := testutil.SetupTestDB(t)
	m := testutil.NewMockYouTubeServer(t)
	yt := newTestClient(m)
	ctx := context.Background()

	seedUser(t, database, "alice", "rt-alice")
	seedChannel(t, database, "UCchan", "somechannel", "v1")
	seedComment(t, database, "one", "alice", "UCchan")
	seedComment(t, database, "two", "alice", "UCchan")
	m.MockLatestVideo("UCchan", "v2")
	m.MockRefreshGrant("rt-alice", "at-alice")
	m.FailComments()

	report, err := Run(ctx, database, yt)
	if err != nil {
		t.Fatalf("Run: %v (post failures must not abort the run)", err)
	}
	if report.CommentsFailed != 2 || report.CommentsPosted != 0 {
		t.Errorf("report = %+v, want 2 failed and 0 posted", report)
	}
}
