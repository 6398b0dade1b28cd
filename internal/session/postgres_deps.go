//go:build postgres

package session

// This file exists solely to pin transitive dependencies of the pgx-backed
// vault so the go tool recognises them when tidying modules with the
// "postgres" build tag enabled.
import (
	_ "github.com/jackc/pgpassfile"
	_ "github.com/jackc/pgservicefile"
	_ "golang.org/x/sync/semaphore"
)
