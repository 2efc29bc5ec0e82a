package database

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

//go:embed schema.sql
var schemaSQL string

// schemaLockKey serializes concurrent Migrate calls across processes.
const schemaLockKey int64 = 0x67726164 // "grad"

// WithVectorTypes registers pgvector types on each new connection. Before Migrate has
// created the extension registration fails; the connection is still usable because
// pgvector-go values fall back to their text encoding.
func WithVectorTypes() PoolOption {
	return WithAfterConnect(func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
			slog.Debug("pgvector types not registered", "error", err)
		}

		return nil
	})
}

// Migrate applies the application schema and River's migrations. Both are idempotent.
// Idle pool connections are reset afterwards so they pick up the vector types.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}

	if len(res.Versions) > 0 {
		slog.Info("River migrations applied", "count", len(res.Versions))
	}

	pool.Reset()

	return nil
}
