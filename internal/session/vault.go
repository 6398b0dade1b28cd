package session

import "context"

// SettingsVault stores exported platform settings blobs per username so a
// later login can resume without a credentialed call. Presence of a blob
// never guarantees validity; callers must treat restore failures as a cue to
// fall back to fresh login.
type SettingsVault interface {
	Load(ctx context.Context, username string) ([]byte, bool, error)
	Save(ctx context.Context, username string, settings []byte) error
	Delete(ctx context.Context, username string) error
}
