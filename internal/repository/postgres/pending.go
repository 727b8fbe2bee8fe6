package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
)

// PendingRepo manages the pending-sync queue for the Acoustic worker.
type PendingRepo struct{ db *sql.DB }

// NewPendingRepo creates a Postgres-backed pending-sync repository.
func NewPendingRepo(db *sql.DB) *PendingRepo { return &PendingRepo{db: db} }

// ListPendingBefore returns due records: stamped before the cutoff and
// under the retry ceiling, oldest stamp first. Records at or over the
// ceiling stay in the table as a dead-letter set for operators but are
// never selected again.
func (r *PendingRepo) ListPendingBefore(ctx context.Context, before time.Time, retryLimit, batchLimit int) ([]domain.PendingSyncRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT email_id, retry, last_error, create_timestamp, update_timestamp
		FROM pending_acoustic_record
		WHERE update_timestamp < $1 AND retry < $2
		ORDER BY update_timestamp ASC
		LIMIT $3
	`, before, retryLimit, batchLimit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingSyncRecord
	for rows.Next() {
		var rec domain.PendingSyncRecord
		if err := rows.Scan(&rec.EmailID, &rec.Retry, &rec.LastError,
			&rec.CreateTimestamp, &rec.UpdateTimestamp); err != nil {
			return nil, fmt.Errorf("scan pending record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkSynced removes the pending record after a successful upload.
func (r *PendingRepo) MarkSynced(ctx context.Context, emailID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_acoustic_record WHERE email_id = $1
	`, emailID); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// MarkRetry bumps the retry counter and re-stamps the record, pushing
// it to the back of the due queue.
func (r *PendingRepo) MarkRetry(ctx context.Context, emailID uuid.UUID, lastError string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE pending_acoustic_record
		SET retry = retry + 1, last_error = $2, update_timestamp = NOW()
		WHERE email_id = $1
	`, emailID, lastError); err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	return nil
}

// SyncBacklog counts records still eligible for selection.
func (r *PendingRepo) SyncBacklog(ctx context.Context, before time.Time, retryLimit int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_acoustic_record
		WHERE update_timestamp < $1 AND retry < $2
	`, before, retryLimit).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sync backlog: %w", err)
	}
	return n, nil
}

// RetryBacklog counts records that have failed at least once.
func (r *PendingRepo) RetryBacklog(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_acoustic_record WHERE retry > 0
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("retry backlog: %w", err)
	}
	return n, nil
}
