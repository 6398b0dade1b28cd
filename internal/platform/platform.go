// Package platform models the upstream social-media service as an opaque
// capability: authenticate, restore a saved session, and run a fixed set of
// read/write operations. Handlers depend only on the Client interface; the
// HTTP adapter in this package is the single concrete implementation.
package platform

import (
	"context"
	"time"
)

// User captures the profile fields the facade exposes for a full account view.
type User struct {
	PK             int64
	Username       string
	FullName       string
	Biography      string
	ProfilePicURL  string
	FollowerCount  int
	FollowingCount int
	MediaCount     int
	IsVerified     bool
}

// UserSummary is the reduced record returned by follower, following, and
// search listings.
type UserSummary struct {
	PK            int64
	Username      string
	FullName      string
	ProfilePicURL string
	IsVerified    bool
	FollowerCount int
}

// Media describes a single feed item.
type Media struct {
	PK           int64
	CaptionText  string
	MediaType    int
	ThumbnailURL string
	LikeCount    int
	CommentCount int
	TakenAt      time.Time
}

// Client is the platform capability handed to authenticated sessions. Login
// and Restore are mutually exclusive entry points; every other method
// requires one of them to have succeeded first. Implementations resolve
// usernames to platform identifiers internally so each facade operation maps
// to exactly one Client call.
type Client interface {
	// Login performs a fresh credentialed authentication.
	Login(ctx context.Context, username, password string) error
	// Restore loads a previously exported settings blob and revalidates it
	// against the platform without credentials.
	Restore(ctx context.Context, settings []byte) error
	// Settings exports the state needed to Restore this session later.
	Settings() ([]byte, error)
	// Username reports the account this client is authenticated as.
	Username() string

	UserInfo(ctx context.Context, username string) (User, error)
	UserMedias(ctx context.Context, username string, limit int) ([]Media, error)
	UserFollowers(ctx context.Context, username string, limit int) ([]UserSummary, error)
	UserFollowing(ctx context.Context, username string, limit int) ([]UserSummary, error)
	LikeMedia(ctx context.Context, mediaID string) error
	CommentMedia(ctx context.Context, mediaID, text string) (string, error)
	UploadPhoto(ctx context.Context, path, caption string) (string, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]UserSummary, error)
}

// Factory produces an unauthenticated Client. The API handler calls it once
// per login attempt so concurrent sessions never share connection state.
type Factory func() Client

// ValidateLimit rejects non-positive collection limits before any network
// call is made.
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return &Error{Kind: KindBadRequest, Message: "limit must be a positive integer"}
	}
	return nil
}
