package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresVault persists settings blobs to a Postgres table so all facade
// replicas see the same resumable sessions.
type PostgresVault struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	sealer  *Sealer
}

// PostgresVaultOption configures a PostgresVault.
type PostgresVaultOption func(*PostgresVault)

// WithVaultTimeout bounds each vault query with the provided timeout.
func WithVaultTimeout(timeout time.Duration) PostgresVaultOption {
	return func(v *PostgresVault) {
		if timeout > 0 {
			v.timeout = timeout
		}
	}
}

// WithVaultSealer encrypts blobs before they reach the table.
func WithVaultSealer(sealer *Sealer) PostgresVaultOption {
	return func(v *PostgresVault) {
		v.sealer = sealer
	}
}

// NewPostgresVault opens a Postgres-backed vault using the provided DSN and
// ensures the backing table exists.
func NewPostgresVault(ctx context.Context, dsn string, opts ...PostgresVaultOption) (*PostgresVault, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres vault dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres vault config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres vault pool: %w", err)
	}
	vault := &PostgresVault{pool: pool}
	for _, opt := range opts {
		if opt != nil {
			opt(vault)
		}
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS platform_sessions (
    username   TEXT PRIMARY KEY,
    settings   BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)
`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure platform_sessions table: %w", err)
	}
	return vault, nil
}

func (v *PostgresVault) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.timeout)
}

func (v *PostgresVault) key(username string) (string, error) {
	name, err := vaultFilename(username)
	if err != nil {
		return "", err
	}
	// Reuse the filename normalization so file and Postgres vaults agree on
	// which usernames alias each other.
	return name, nil
}

// Load fetches the stored blob for the username.
func (v *PostgresVault) Load(ctx context.Context, username string) ([]byte, bool, error) {
	key, err := v.key(username)
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := v.queryCtx(ctx)
	defer cancel()
	var settings []byte
	err = v.pool.QueryRow(ctx, `SELECT settings FROM platform_sessions WHERE username = $1`, key).Scan(&settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if v.sealer != nil {
		settings, err = v.sealer.Open(settings)
		if err != nil {
			return nil, false, err
		}
	}
	return settings, true, nil
}

// Save upserts the blob for the username.
func (v *PostgresVault) Save(ctx context.Context, username string, settings []byte) error {
	key, err := v.key(username)
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
	ctx, cancel := v.queryCtx(ctx)
	defer cancel()
	_, err = v.pool.Exec(ctx, `
INSERT INTO platform_sessions (username, settings, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (username) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()
`, key, data)
	return err
}

// Delete removes the username's row; absent rows are a no-op.
func (v *PostgresVault) Delete(ctx context.Context, username string) error {
	key, err := v.key(username)
	if err != nil {
		return err
	}
	ctx, cancel := v.queryCtx(ctx)
	defer cancel()
	_, err = v.pool.Exec(ctx, `DELETE FROM platform_sessions WHERE username = $1`, key)
	return err
}

// Ping verifies the Postgres connection.
func (v *PostgresVault) Ping(ctx context.Context) error {
	ctx, cancel := v.queryCtx(ctx)
	defer cancel()
	return v.pool.Ping(ctx)
}

// Close releases the Postgres connection pool resources.
func (v *PostgresVault) Close(ctx context.Context) error {
	if v == nil || v.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		v.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
