// Package youtubeapi wraps the Google OAuth2 client config and the YouTube
// Data API for the calls this service needs: identifying the logged-in
// channel, resolving a handle to a channel id, finding a channel's newest
// video, and posting top-level comments on a user's behalf.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/jmallard/commentcue/config"
)

// ErrNoChannel is returned when a handle lookup yields zero results.
var ErrNoChannel = errors.New("no channel found")

// scope required to post comments on behalf of a user.
const commentScope = "https://www.googleapis.com/auth/youtube.force-ssl"

// Client talks to the YouTube Data API. Endpoint overrides the API base URL
// and OAuth.Endpoint the token endpoints, both used by tests.
type Client struct {
	APIKey   string
	OAuth    *oauth2.Config
	Endpoint string
}

// New builds a Client from service configuration, using Google's OAuth
// endpoints and the comment scope.
func New(cfg *config.Config) *Client {
	return &Client{
		APIKey: cfg.APIKey,
		OAuth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{commentScope},
		},
	}
}

// AuthCodeURL returns the consent URL for the authorization-code flow.
// Offline access is requested so a refresh token is issued.
func (c *Client) AuthCodeURL(state string) string {
	return c.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for access and refresh tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.OAuth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// RefreshAccessToken exchanges a stored refresh token for a fresh access
// token. The result is never persisted; callers cache it per poll run.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	ts := c.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	return tok.AccessToken, nil
}

// keyService builds a Data API client authorized by API key only.
func (c *Client) keyService(ctx context.Context) (*yt.Service, error) {
	opts := []option.ClientOption{option.WithAPIKey(c.APIKey)}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// bearerService builds a Data API client authorized by a user access token.
func (c *Client) bearerService(ctx context.Context, accessToken string) (*yt.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// MyChannel returns the id and display title of the channel the access token
// belongs to.
func (c *Client) MyChannel(ctx context.Context, accessToken string) (id, title string, err error) {
	svc, err := c.bearerService(ctx, accessToken)
	if err != nil {
		return "", "", fmt.Errorf("build youtube client: %w", err)
	}
	resp, err := svc.Channels.List([]string{"id", "snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("fetch own channel: %w", err)
	}
	if len(resp.Items) == 0 {
		return "", "", fmt.Errorf("fetch own channel: %w", ErrNoChannel)
	}
	ch := resp.Items[0]
	if ch.Snippet == nil {
		return "", "", fmt.Errorf("fetch own channel: missing snippet")
	}
	return ch.Id, ch.Snippet.Title, nil
}

// ChannelIDByHandle resolves a human-readable handle to a channel id.
// Returns ErrNoChannel when the handle matches nothing.
func (c *Client) ChannelIDByHandle(ctx context.Context, handle string) (string, error) {
	svc, err := c.keyService(ctx)
	if err != nil {
		return "", fmt.Errorf("build youtube client: %w", err)
	}
	resp, err := svc.Channels.List([]string{"id"}).ForHandle(handle).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("look up channel %q: %w", handle, err)
	}
	if resp.PageInfo == nil || resp.PageInfo.TotalResults == 0 || len(resp.Items) == 0 {
		return "", fmt.Errorf("look up channel %q: %w", handle, ErrNoChannel)
	}
	return resp.Items[0].Id, nil
}

// LatestVideoID returns the id of a channel's most recent video, or the
// empty string when the channel has no videos yet.
func (c *Client) LatestVideoID(ctx context.Context, channelID string) (string, error) {
	svc, err := c.keyService(ctx)
	if err != nil {
		return "", fmt.Errorf("build youtube client: %w", err)
	}
	resp, err := svc.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		Type("video").
		Order("date").
		MaxResults(1).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("search latest video for channel %s: %w", channelID, err)
	}
	if resp.PageInfo == nil || resp.PageInfo.TotalResults == 0 || len(resp.Items) == 0 {
		return "", nil
	}
	if resp.Items[0].Id == nil {
		return "", nil
	}
	return resp.Items[0].Id.VideoId, nil
}

// PostComment creates a top-level comment thread on a video, authorized as
// the commenting user.
func (c *Client) PostComment(ctx context.Context, accessToken, channelID, videoID, text string) error {
	svc, err := c.bearerService(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("build youtube client: %w", err)
	}
	thread := &yt.CommentThread{
		Snippet: &yt.CommentThreadSnippet{
			ChannelId: channelID,
			VideoId:   videoID,
			TopLevelComment: &yt.Comment{
				Snippet: &yt.CommentSnippet{TextOriginal: text},
			},
		},
	}
	if _, err := svc.CommentThreads.Insert([]string{"snippet"}, thread).Context(ctx).Do(); err != nil {
		return fmt.Errorf("post comment to video %s: %w", videoID, err)
	}
	return nil
}
