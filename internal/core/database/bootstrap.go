package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

func EnsureBootstrapped(ctx context.Context, db *sql.DB, embedDim int) error {

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 't2t2_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	if !exists {
		if err := runBootstrap(ctxBoot, db); err != nil {
			return err
		}
		return checkEmbeddingDim(ctxBoot, db, embedDim)
	}

	var hasVersion bool
	if err := db.QueryRowContext(ctxBoot, `SELECT EXISTS (SELECT 1 FROM t2t2_meta WHERE version = 1)`).Scan(&hasVersion); err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if !hasVersion {
		if err := runBootstrap(ctxBoot, db); err != nil {
			return err
		}
	}

	return checkEmbeddingDim(ctxBoot, db, embedDim)
}

// checkEmbeddingDim ensures the vector column matches the configured
// embedding model dimension. A mismatched model produces meaningless
// similarity scores silently, so fail loudly at startup instead.
func checkEmbeddingDim(ctx context.Context, db *sql.DB, embedDim int) error {
	if embedDim <= 0 {
		return nil
	}
	var dim int
	err := db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'message_embeddings'::regclass AND attname = 'embedding'`).
		Scan(&dim)
	if err != nil {
		return fmt.Errorf("embedding dim check failed: %w", err)
	}
	if dim != embedDim {
		return fmt.Errorf("embedding column has dim %d but EMBED_DIM is %d; one embedding model is pinned per deployment", dim, embedDim)
	}
	return nil
}

func runBootstrap(ctx context.Context, db *sql.DB) error {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
