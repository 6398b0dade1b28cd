// Package platformstub provides a scripted platform client for handler and
// registry tests: every operation records an invocation count and returns
// whatever the test configured.
package platformstub

import (
	"context"
	"encoding/json"
	"sync"

	"instabridge/internal/platform"
)

// Client implements platform.Client with scripted results.
type Client struct {
	mu       sync.Mutex
	calls    map[string]int
	username string

	LoginErr     error
	RestoreErr   error
	SettingsBlob []byte
	SettingsErr  error

	User          platform.User
	UserErr       error
	Medias        []platform.Media
	MediasErr     error
	Followers     []platform.UserSummary
	FollowersErr  error
	Following     []platform.UserSummary
	FollowingErr  error
	LikeErr       error
	CommentID     string
	CommentErr    error

	LastCommentMediaID string
	LastCommentText    string
	UploadMediaID string
	UploadErr     error
	SearchResults []platform.UserSummary
	SearchErr     error
}

// New returns an empty scripted client.
func New() *Client {
	return &Client{calls: make(map[string]int)}
}

// Factory returns a platform.Factory that hands out this same stub for every
// login attempt, so call counts accumulate across logins.
func (c *Client) Factory() platform.Factory {
	return func() platform.Client {
		return c
	}
}

func (c *Client) record(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
}

// Calls reports how many times the named operation ran.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) Login(_ context.Context, username, _ string) error {
	c.record("login")
	if c.LoginErr != nil {
		return c.LoginErr
	}
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	return nil
}

func (c *Client) Restore(_ context.Context, settings []byte) error {
	c.record("restore")
	if c.RestoreErr != nil {
		return c.RestoreErr
	}
	var blob struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(settings, &blob); err == nil && blob.Username != "" {
		c.mu.Lock()
		c.username = blob.Username
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) Settings() ([]byte, error) {
	c.record("settings")
	if c.SettingsErr != nil {
		return nil, c.SettingsErr
	}
	if c.SettingsBlob != nil {
		return c.SettingsBlob, nil
	}
	c.mu.Lock()
	username := c.username
	c.mu.Unlock()
	return json.Marshal(map[string]string{"username": username})
}

func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Client) UserInfo(context.Context, string) (platform.User, error) {
	c.record("user_info")
	if c.UserErr != nil {
		return platform.User{}, c.UserErr
	}
	return c.User, nil
}

func (c *Client) UserMedias(_ context.Context, _ string, limit int) ([]platform.Media, error) {
	c.record("user_medias")
	if err := platform.ValidateLimit(limit); err != nil {
		return nil, err
	}
	if c.MediasErr != nil {
		return nil, c.MediasErr
	}
	return truncateMedias(c.Medias, limit), nil
}

func (c *Client) UserFollowers(_ context.Context, _ string, limit int) ([]platform.UserSummary, error) {
	c.record("user_followers")
	if err := platform.ValidateLimit(limit); err != nil {
		return nil, err
	}
	if c.FollowersErr != nil {
		return nil, c.FollowersErr
	}
	return truncateSummaries(c.Followers, limit), nil
}

func (c *Client) UserFollowing(_ context.Context, _ string, limit int) ([]platform.UserSummary, error) {
	c.record("user_following")
	if err := platform.ValidateLimit(limit); err != nil {
		return nil, err
	}
	if c.FollowingErr != nil {
		return nil, c.FollowingErr
	}
	return truncateSummaries(c.Following, limit), nil
}

func (c *Client) LikeMedia(context.Context, string) error {
	c.record("like_media")
	return c.LikeErr
}

func (c *Client) CommentMedia(_ context.Context, mediaID, text string) (string, error) {
	c.record("comment_media")
	c.mu.Lock()
	c.LastCommentMediaID = mediaID
	c.LastCommentText = text
	c.mu.Unlock()
	if c.CommentErr != nil {
		return "", c.CommentErr
	}
	return c.CommentID, nil
}

func (c *Client) UploadPhoto(context.Context, string, string) (string, error) {
	c.record("upload_photo")
	if c.UploadErr != nil {
		return "", c.UploadErr
	}
	return c.UploadMediaID, nil
}

func (c *Client) SearchUsers(_ context.Context, _ string, limit int) ([]platform.UserSummary, error) {
	c.record("search_users")
	if err := platform.ValidateLimit(limit); err != nil {
		return nil, err
	}
	if c.SearchErr != nil {
		return nil, c.SearchErr
	}
	return truncateSummaries(c.SearchResults, limit), nil
}

// ProxyCalls sums every operation that requires an authenticated session,
// letting tests assert that no platform work happened at all.
func (c *Client) ProxyCalls() int {
	ops := []string{
		"user_info", "user_medias", "user_followers", "user_following",
		"like_media", "comment_media", "upload_photo", "search_users",
	}
	total := 0
	for _, op := range ops {
		total += c.Calls(op)
	}
	return total
}

func truncateMedias(items []platform.Media, limit int) []platform.Media {
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]platform.Media(nil), items...)
}

func truncateSummaries(items []platform.UserSummary, limit int) []platform.UserSummary {
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]platform.UserSummary(nil), items...)
}
