package worker

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mozilla-it/ctms-api-sub000/internal/acoustic"
	"github.com/mozilla-it/ctms-api-sub000/internal/config"
	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
	"github.com/mozilla-it/ctms-api-sub000/internal/pkg/distlock"
	"github.com/mozilla-it/ctms-api-sub000/internal/pkg/logger"
	"github.com/mozilla-it/ctms-api-sub000/internal/service/contact"
)

// ContactLoader rebuilds the full aggregate for one pending record.
type ContactLoader interface {
	GetContact(ctx context.Context, emailID uuid.UUID) (*domain.Contact, error)
}

// PendingStore is the pending-sync queue.
type PendingStore interface {
	ListPendingBefore(ctx context.Context, before time.Time, retryLimit, batchLimit int) ([]domain.PendingSyncRecord, error)
	MarkSynced(ctx context.Context, emailID uuid.UUID) error
	MarkRetry(ctx context.Context, emailID uuid.UUID, lastError string) error
	SyncBacklog(ctx context.Context, before time.Time, retryLimit int) (int, error)
	RetryBacklog(ctx context.Context) (int, error)
}

// FieldSource serves the current Acoustic allow-list snapshot.
type FieldSource interface {
	Get(ctx context.Context) (*acoustic.FieldConfig, error)
}

// Summary reports one sync cycle for logs and monitoring.
type Summary struct {
	CountTotal   int `json:"count_total"`
	CountSynced  int `json:"count_synced"`
	CountRetry   int `json:"count_retry"`
	CountSkipped int `json:"count_skipped"`
	SyncBacklog  int `json:"sync_backlog"`
	RetryBacklog int `json:"retry_backlog"`
}

// AcousticSyncWorker drains the pending-sync queue into Acoustic. One
// instance per deployment does work at a time; the rest idle behind the
// distributed lock.
type AcousticSyncWorker struct {
	contacts    ContactLoader
	pending     PendingStore
	fields      FieldSource
	uploader    acoustic.Uploader
	converter   acoustic.Converter
	db          *sql.DB
	redisClient *redis.Client // optional; nil falls back to PG advisory locks
	cfg         config.SyncConfig
	enabled     bool
	now         func() time.Time
}

// NewAcousticSyncWorker assembles the sync worker.
func NewAcousticSyncWorker(
	contacts ContactLoader,
	pending PendingStore,
	fields FieldSource,
	uploader acoustic.Uploader,
	db *sql.DB,
	redisClient *redis.Client,
	cfg config.SyncConfig,
	enabled bool,
) *AcousticSyncWorker {
	return &AcousticSyncWorker{
		contacts:    contacts,
		pending:     pending,
		fields:      fields,
		uploader:    uploader,
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		enabled:     enabled,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run polls at a fixed interval until the context is cancelled. Every
// tick it tries to become the active worker; losing the lock race is
// normal and just means another instance ran the cycle.
func (w *AcousticSyncWorker) Run(ctx context.Context) {
	logger.Info("acoustic sync worker started",
		"interval", w.cfg.Interval().String(),
		"retry_limit", w.cfg.RetryLimit,
		"batch_limit", w.cfg.BatchLimit,
		"acoustic_enabled", w.enabled)

	ticker := time.NewTicker(w.cfg.Interval())
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			logger.Info("acoustic sync worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *AcousticSyncWorker) runOnce(ctx context.Context) {
	lock := distlock.NewLock(w.redisClient, w.db, "acoustic:sync", w.cfg.LockTTL())
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("acquiring sync lock", "error", err.Error())
		return
	}
	if !acquired {
		logger.Debug("sync lock held elsewhere, skipping cycle")
		return
	}
	defer lock.Release(ctx)

	summary, err := w.SyncRecords(ctx, w.now())
	if err != nil {
		logger.Error("sync cycle failed", "error", err.Error())
		return
	}
	logger.Info("sync cycle complete",
		"count_total", summary.CountTotal,
		"count_synced", summary.CountSynced,
		"count_retry", summary.CountRetry,
		"count_skipped", summary.CountSkipped,
		"sync_backlog", summary.SyncBacklog,
		"retry_backlog", summary.RetryBacklog)
	w.touchHealthcheck()
}

// SyncRecords processes every due pending record, committing record by
// record so a crash mid-cycle loses at most the in-flight contact.
// Upload-then-delete is not transactional with Acoustic: the failure
// mode is a duplicate upload, which the destination upserts away.
func (w *AcousticSyncWorker) SyncRecords(ctx context.Context, before time.Time) (*Summary, error) {
	summary := &Summary{}

	var err error
	if summary.SyncBacklog, err = w.pending.SyncBacklog(ctx, before, w.cfg.RetryLimit); err != nil {
		return nil, err
	}
	if summary.RetryBacklog, err = w.pending.RetryBacklog(ctx); err != nil {
		return nil, err
	}

	fieldCfg, err := w.fields.Get(ctx)
	if err != nil {
		return nil, err
	}

	records, err := w.pending.ListPendingBefore(ctx, before, w.cfg.RetryLimit, w.cfg.BatchLimit)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		summary.CountTotal++
		switch w.syncPendingRecord(ctx, record, fieldCfg) {
		case stateSynced:
			summary.CountSynced++
		case stateRetry:
			summary.CountRetry++
		case stateSkipped:
			summary.CountSkipped++
		}
	}
	return summary, nil
}

type syncState int

const (
	stateSynced syncState = iota
	stateRetry
	stateSkipped
)

func (w *AcousticSyncWorker) syncPendingRecord(ctx context.Context, record domain.PendingSyncRecord, fieldCfg *acoustic.FieldConfig) syncState {
	if !w.enabled {
		// With uploads disabled, records drain as successes so the
		// queue does not grow without bound in non-production stacks.
		if err := w.pending.MarkSynced(ctx, record.EmailID); err != nil {
			logger.Error("dropping disabled-sync record", "error", err.Error())
			return stateRetry
		}
		return stateSkipped
	}

	c, err := w.contacts.GetContact(ctx, record.EmailID)
	if err == contact.ErrNotFound {
		// The contact was deleted while queued; nothing to upload.
		if err := w.pending.MarkSynced(ctx, record.EmailID); err != nil {
			logger.Error("dropping orphaned record", "error", err.Error())
			return stateRetry
		}
		return stateSkipped
	}
	if err != nil {
		logger.Error("loading contact for sync",
			"email_id", record.EmailID.String(), "error", err.Error())
		if err := w.pending.MarkRetry(ctx, record.EmailID, err.Error()); err != nil {
			logger.Error("marking retry", "error", err.Error())
		}
		return stateRetry
	}

	records, stats := w.converter.Convert(c, fieldCfg)
	if len(stats.SkippedNewsletters) > 0 {
		logger.Warn("newsletters without acoustic mapping",
			"email_id", record.EmailID.String(),
			"newsletters", strings.Join(stats.SkippedNewsletters, ","))
	}

	if err := w.uploader.UploadContact(ctx, records); err != nil {
		logger.Error("uploading contact",
			"email_id", record.EmailID.String(),
			"retry", record.Retry,
			"error", err.Error())
		if err := w.pending.MarkRetry(ctx, record.EmailID, err.Error()); err != nil {
			logger.Error("marking retry", "error", err.Error())
		}
		return stateRetry
	}

	if err := w.pending.MarkSynced(ctx, record.EmailID); err != nil {
		logger.Error("marking synced", "error", err.Error())
		return stateRetry
	}
	return stateSynced
}

// touchHealthcheck stamps the liveness file monitors watch. A stale
// stamp means the loop wedged even if the process is still up.
func (w *AcousticSyncWorker) touchHealthcheck() {
	if w.cfg.HealthcheckPath == "" {
		return
	}
	stamp := w.now().Format(time.RFC3339)
	if err := os.WriteFile(w.cfg.HealthcheckPath, []byte(stamp), 0o644); err != nil {
		logger.Warn("writing healthcheck file", "error", err.Error())
	}
}
