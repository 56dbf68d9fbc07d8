// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// DB is the subset of a pgx pool the PostgresWriter needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const insertEntry = `
	INSERT INTO decision_audit_log (
		id, user_id, resource, action, effect, policy_key,
		reason, failure_kind, duration_us, decided_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// PostgresWriter writes entries to the decision_audit_log table. Async
// entries are batched and flushed by size or period.
type PostgresWriter struct {
	db          DB
	asyncChan   chan Entry
	stopChan    chan struct{}
	wg          sync.WaitGroup
	batchSize   int
	flushPeriod time.Duration
	logger      *slog.Logger
}

// NewPostgresWriter creates a writer and starts its batch consumer.
func NewPostgresWriter(db DB) *PostgresWriter {
	w := &PostgresWriter{
		db:          db,
		asyncChan:   make(chan Entry, asyncBuffer),
		stopChan:    make(chan struct{}),
		batchSize:   100,
		flushPeriod: time.Second,
		logger:      slog.Default(),
	}
	w.wg.Add(1)
	go w.batchConsumer()
	return w
}

func entryArgs(e Entry) []any {
	return []any{
		e.ID, e.UserID, e.Resource, e.Action, e.Effect.String(), e.PolicyKey,
		e.Reason, e.FailureKind, e.DurationUS, e.Timestamp,
	}
}

// WriteSync inserts a single entry.
func (w *PostgresWriter) WriteSync(ctx context.Context, entry Entry) error {
	if _, err := w.db.Exec(ctx, insertEntry, entryArgs(entry)...); err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").
			With("resource", entry.Resource).
			With("action", entry.Action).
			Wrap(err)
	}
	return nil
}

// WriteAsync queues an entry for the next batch.
func (w *PostgresWriter) WriteAsync(entry Entry) error {
	select {
	case w.asyncChan <- entry:
		return nil
	default:
		channelFullCounter.Inc()
		return oops.Code("AUDIT_CHANNEL_FULL").Errorf("async audit channel full")
	}
}

func (w *PostgresWriter) batchConsumer() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	var batch []Entry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.writeBatch(ctx, batch); err != nil {
			w.logger.Error("failed to write audit batch", "error", err, "count", len(batch))
			failuresCounter.WithLabelValues("batch_write_failed").Inc()
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-w.asyncChan:
			batch = append(batch, entry)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stopChan:
			for {
				select {
				case entry := <-w.asyncChan:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch inserts entries in one transaction.
func (w *PostgresWriter) writeBatch(ctx context.Context, entries []Entry) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return oops.Wrap(err)
	}
	defer func() {
		//nolint:errcheck // rollback after commit is a no-op
		_ = tx.Rollback(ctx)
	}()

	for i := range entries {
		if _, err := tx.Exec(ctx, insertEntry, entryArgs(entries[i])...); err != nil {
			return oops.With("id", entries[i].ID).Wrap(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Wrap(err)
	}
	return nil
}

// PurgeAllows deletes allow entries decided before olderThan.
func (w *PostgresWriter) PurgeAllows(ctx context.Context, olderThan time.Time) (int64, error) {
	return w.purge(ctx, `DELETE FROM decision_audit_log WHERE effect = 'allow' AND decided_at < $1`, olderThan)
}

// PurgeDenials deletes denial entries decided before olderThan.
func (w *PostgresWriter) PurgeDenials(ctx context.Context, olderThan time.Time) (int64, error) {
	return w.purge(ctx, `DELETE FROM decision_audit_log WHERE effect <> 'allow' AND decided_at < $1`, olderThan)
}

func (w *PostgresWriter) purge(ctx context.Context, query string, olderThan time.Time) (int64, error) {
	tag, err := w.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, oops.Code("AUDIT_PURGE_FAILED").With("older_than", olderThan).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Close flushes queued entries and stops the consumer.
func (w *PostgresWriter) Close() error {
	close(w.stopChan)
	w.wg.Wait()
	return nil
}
