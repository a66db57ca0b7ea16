package storage

import (
	"context"
	"fmt"
	"time"
)

// ProcessedHashRepository is the hash dedup ledger. The unique constraint on
// the signature column is the sole concurrency guard: insert-uniqueness is
// cheaper than an application-level lock and sufficient for at-most-once
// processing.
type ProcessedHashRepository struct {
	db *PostgresDB
}

// NewProcessedHashRepository creates a new processed hash repository
func NewProcessedHashRepository(db *PostgresDB) *ProcessedHashRepository {
	return &ProcessedHashRepository{db: db}
}

// HasProcessed reports whether a signature was already accepted for processing.
func (r *ProcessedHashRepository) HasProcessed(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_hashes WHERE signature = $1)`,
		signature,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed hash: %w", err)
	}
	return exists, nil
}

// MarkProcessed records a signature as processed. Returns false if the
// signature was already present; a concurrent duplicate insert resolves to
// exactly one winner via the unique constraint.
func (r *ProcessedHashRepository) MarkProcessed(ctx context.Context, signature string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `
		INSERT INTO processed_hashes (signature, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (signature) DO NOTHING
	`, signature, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to mark hash processed: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
