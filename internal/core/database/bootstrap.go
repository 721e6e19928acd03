package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed scripts/initdb.sql
var initSQL string

const (
	schemaVersion = 1

	// codeUndefinedTable is the SQLSTATE for a missing relation.
	codeUndefinedTable = "42P01"
)

// EnsureBootstrapped applies scripts/initdb.sql when the recorded schema version is missing
// or older than schemaVersion. The script is idempotent.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var version int
	err := db.QueryRowContext(ctxBoot, `SELECT COALESCE(MAX(version), 0) FROM ingest_meta`).Scan(&version)
	apply, err := needsBootstrap(version, err)
	if err != nil {
		return fmt.Errorf("schema version check: %w", err)
	}
	if !apply {
		slog.Debug("schema already bootstrapped", "version", version)
		return nil
	}

	tx, err := db.BeginTx(ctxBoot, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctxBoot, initSQL); err != nil {
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	slog.Info("schema bootstrapped", "from", version, "to", schemaVersion)
	return nil
}

// needsBootstrap decides from the version query result; a missing meta table means a fresh database.
func needsBootstrap(version int, queryErr error) (bool, error) {
	var pgErr *pgconn.PgError
	switch {
	case queryErr == nil:
		return version < schemaVersion, nil
	case errors.As(queryErr, &pgErr) && pgErr.Code == codeUndefinedTable:
		return true, nil
	default:
		return false, queryErr
	}
}
