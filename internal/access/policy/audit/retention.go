// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/rowguard/rowguard/pkg/errutil"
)

// RetentionConfig defines how long audit entries are kept.
type RetentionConfig struct {
	RetainDenials time.Duration
	RetainAllows  time.Duration
	PurgeInterval time.Duration
}

// DefaultRetentionConfig returns the default retention configuration.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetainDenials: 90 * 24 * time.Hour,
		RetainAllows:  7 * 24 * time.Hour,
		PurgeInterval: 24 * time.Hour,
	}
}

// Purger deletes expired audit entries.
type Purger interface {
	PurgeAllows(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeDenials(ctx context.Context, olderThan time.Time) (int64, error)
}

// RetentionWorker purges expired entries periodically.
type RetentionWorker struct {
	cfg    RetentionConfig
	purger Purger
	logger *slog.Logger
	clock  func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionWorker creates a retention worker. A nil logger means
// slog.Default.
func NewRetentionWorker(cfg RetentionConfig, purger Purger, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionWorker{
		cfg:    cfg,
		purger: purger,
		logger: logger,
		clock:  time.Now,
	}
}

type purgeClass struct {
	name   string
	retain time.Duration
	purge  func(context.Context, time.Time) (int64, error)
}

func (w *RetentionWorker) classes() []purgeClass {
	return []purgeClass{
		{name: "allow", retain: w.cfg.RetainAllows, purge: w.purger.PurgeAllows},
		{name: "denial", retain: w.cfg.RetainDenials, purge: w.purger.PurgeDenials},
	}
}

// RunOnce runs one purge cycle. Every class is attempted; errors are joined.
func (w *RetentionWorker) RunOnce(ctx context.Context) error {
	now := w.clock()
	var errs []error
	for _, c := range w.classes() {
		cutoff := now.Add(-c.retain)
		n, err := c.purge(ctx, cutoff)
		if err != nil {
			errs = append(errs, oops.Code("AUDIT_PURGE_FAILED").
				With("class", c.name).
				With("cutoff", cutoff).
				Wrap(err))
			continue
		}
		if n == 0 {
			continue
		}
		purgedCounter.WithLabelValues(c.name).Add(float64(n))
		w.logger.InfoContext(ctx, "purged expired audit entries", "class", c.name, "count", n)
	}
	return errors.Join(errs...)
}

// Start runs a cycle immediately and then every PurgeInterval until Stop.
func (w *RetentionWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop cancels the worker and waits for it to exit.
func (w *RetentionWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *RetentionWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			errutil.LogErrorContext(ctx, w.logger, slog.LevelError, "audit retention cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
