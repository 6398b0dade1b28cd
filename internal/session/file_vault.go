package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// FileVault keeps one settings file per username under a fixed directory.
// Writes go through a temp file and rename so a crash mid-write never leaves
// a truncated blob behind.
type FileVault struct {
	dir    string
	sealer *Sealer
}

// FileVaultOption configures a FileVault.
type FileVaultOption func(*FileVault)

// WithSealer encrypts blobs at rest with the provided Sealer.
func WithSealer(sealer *Sealer) FileVaultOption {
	return func(v *FileVault) {
		v.sealer = sealer
	}
}

// NewFileVault creates the vault directory if needed and returns the vault.
func NewFileVault(dir string, opts ...FileVaultOption) (*FileVault, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("vault directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	vault := &FileVault{dir: dir}
	for _, opt := range opts {
		if opt != nil {
			opt(vault)
		}
	}
	return vault, nil
}

var usernameFolder = cases.Lower(language.Und)

// vaultFilename derives a deterministic, filesystem-safe name for a username.
// Unicode input is NFKC-normalized and case-folded first so visually
// equivalent usernames share one file.
func vaultFilename(username string) (string, error) {
	folded := usernameFolder.String(norm.NFKC.String(strings.TrimSpace(username)))
	if folded == "" {
		return "", ErrUsernameRequired
	}
	var builder strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String() + ".session.json", nil
}

func (v *FileVault) path(username string) (string, error) {
	name, err := vaultFilename(username)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.dir, name), nil
}

// Load reads the stored blob for the username, reporting absence without
// error.
func (v *FileVault) Load(_ context.Context, username string) ([]byte, bool, error) {
	path, err := v.path(username)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read session file: %w", err)
	}
	if v.sealer != nil {
		data, err = v.sealer.Open(data)
		if err != nil {
			return nil, false, err
		}
	}
	return data, true, nil
}

// Save writes the blob atomically, replacing any previous file.
func (v *FileVault) Save(_ context.Context, username string, settings []byte) error {
	path, err := v.path(username)
	if err != nil {
		return err
	}
	data := settings
	if v.sealer != nil {
		data, err = v.sealer.Seal(settings)
		if err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(v.dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("create session temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("restrict session file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Delete removes the username's file; deleting an absent file is a no-op.
func (v *FileVault) Delete(_ context.Context, username string) error {
	path, err := v.path(username)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// Ping checks the vault directory is still accessible.
func (v *FileVault) Ping(context.Context) error {
	info, err := os.Stat(v.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("vault path %s is not a directory", v.dir)
	}
	return nil
}
