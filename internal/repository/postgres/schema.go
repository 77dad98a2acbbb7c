package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables for one environment prefix if they do not
// exist. Idempotent, safe to run on every seed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				owner_id TEXT NOT NULL,
				title TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				note_type TEXT NOT NULL DEFAULT 'article',
				word_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, tables.Notes),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				parent_log_id UUID REFERENCES %s(id),
				resource_id UUID NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
				owner_id TEXT NOT NULL,
				attempt_number INTEGER NOT NULL DEFAULT 1,
				status TEXT NOT NULL,
				model_used TEXT NOT NULL DEFAULT '',
				input_data JSONB,
				output_data JSONB,
				error_details JSONB,
				processing_time_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMPTZ
			)`, tables.ProcessingLogs, tables.ProcessingLogs, tables.Notes),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				resource_id UUID NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
				owner_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				status TEXT NOT NULL,
				body TEXT NOT NULL,
				start_offset INTEGER,
				end_offset INTEGER,
				quoted_text TEXT,
				is_stale BOOLEAN NOT NULL DEFAULT FALSE,
				original_quoted_text TEXT,
				thread_root_id UUID REFERENCES %s(id) ON DELETE CASCADE,
				thread_prev_id UUID,
				created_by_ai BOOLEAN NOT NULL DEFAULT FALSE,
				ai_suggestion_type TEXT,
				processing_log_id UUID REFERENCES %s(id),
				retry_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				resolved_at TIMESTAMPTZ,
				CONSTRAINT anchor_range_check CHECK (
					start_offset IS NULL OR end_offset > start_offset
				)
			)`, tables.Annotations, tables.Notes, tables.Annotations, tables.ProcessingLogs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_resource_idx ON %s (resource_id, owner_id)`,
			tables.Annotations, tables.Annotations),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_thread_idx ON %s (thread_root_id) WHERE thread_root_id IS NOT NULL`,
			tables.Annotations, tables.Annotations),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_resource_idx ON %s (resource_id, owner_id, created_at DESC)`,
			tables.ProcessingLogs, tables.ProcessingLogs),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// DropTables removes the environment's tables. Seed-time only; the caller
// must never allow this in production.
func DropTables(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	for _, table := range []string{tables.Annotations, tables.ProcessingLogs, tables.Notes} {
		if _, err := pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, table)); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return nil
}
