// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/rowguard/rowguard/internal/access/policy/store"
	"github.com/rowguard/rowguard/pkg/errutil"
)

// Default cache configuration values.
const (
	defaultReloadAttempts = 3
	defaultReloadBackoff  = 100 * time.Millisecond
	defaultReloadMaxWait  = 5 * time.Second
)

// Source yields the raw bytes of a policy document.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
}

// FileSource reads a YAML or JSON document from disk.
type FileSource struct {
	Path string
}

// Load reads the file.
func (f FileSource) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, oops.Code(CodeDocumentInvalid).With("path", f.Path).Wrap(err)
	}
	return data, nil
}

// DocumentReader is the subset of the document store the cache needs.
type DocumentReader interface {
	Active(ctx context.Context) (*store.StoredDocument, error)
}

// StoreSource loads the active document from a document store.
type StoreSource struct {
	Store DocumentReader
}

// Load returns the body of the active document.
func (s StoreSource) Load(ctx context.Context) ([]byte, error) {
	doc, err := s.Store.Active(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Body, nil
}

// Listener abstracts a change feed. Implementations return a channel that
// emits a payload per change and closes when ctx is cancelled.
type Listener interface {
	Listen(ctx context.Context) (<-chan string, error)
}

// CacheOption configures Cache behavior.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	staleness       time.Duration
	attempts        uint64
	backoff         time.Duration
	maxWait         time.Duration
	lastUpdateGauge prometheus.Gauge
	logger          *slog.Logger
}

// WithStalenessThreshold marks the cache stale when no reload has succeeded
// within d. Zero disables the age check.
func WithStalenessThreshold(d time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.staleness = d
	}
}

// WithReloadRetry sets how often and how patiently a failed load is retried.
func WithReloadRetry(attempts uint64, base, maxWait time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.attempts = attempts
		c.backoff = base
		c.maxWait = maxWait
	}
}

// WithLastUpdateGauge records successful reloads on g.
func WithLastUpdateGauge(g prometheus.Gauge) CacheOption {
	return func(c *cacheConfig) {
		c.lastUpdateGauge = g
	}
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *cacheConfig) {
		c.logger = l
	}
}

// Cache holds the current compiled snapshot of a policy source. A failed
// reload keeps the previous snapshot in service.
type Cache struct {
	source   Source
	compiler *Compiler
	cfg      cacheConfig

	// reloadMu serializes Reload so snapshots are installed in load order.
	reloadMu sync.Mutex

	mu       sync.RWMutex
	snapshot *Snapshot

	// lastUpdate is the Unix time in nanoseconds of the last successful
	// reload. Zero means never.
	lastUpdate atomic.Int64

	wg sync.WaitGroup
}

// NewCache creates a cache over source. Call Reload before first use; until
// then the cache is stale and serves an empty snapshot.
func NewCache(source Source, compiler *Compiler, opts ...CacheOption) *Cache {
	cfg := cacheConfig{
		attempts: defaultReloadAttempts,
		backoff:  defaultReloadBackoff,
		maxWait:  defaultReloadMaxWait,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if compiler == nil {
		compiler = NewCompiler()
	}
	return &Cache{
		source:   source,
		compiler: compiler,
		cfg:      cfg,
		snapshot: EmptySnapshot(),
	}
}

// Snapshot returns the current snapshot. Snapshots are immutable.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Reload loads, parses and compiles the source and swaps the snapshot in.
// Load failures are retried with exponential backoff; a missing document
// and an invalid document are not. Concurrent calls run one at a time.
func (c *Cache) Reload(ctx context.Context) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	var data []byte
	b := retry.WithMaxRetries(c.cfg.attempts, retry.WithCappedDuration(c.cfg.maxWait, retry.NewExponential(c.cfg.backoff)))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var loadErr error
		data, loadErr = c.source.Load(ctx)
		if loadErr == nil || errors.Is(loadErr, fs.ErrNotExist) || store.IsNotFound(loadErr) {
			return loadErr
		}
		c.cfg.logger.Debug("policy load failed, retrying", "error", loadErr)
		return retry.RetryableError(loadErr)
	})
	if err != nil {
		return oops.With("operation", "policy cache reload").Wrap(err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return oops.With("operation", "policy cache reload").Wrap(err)
	}
	snap, err := c.compiler.Compile(doc)
	if err != nil {
		return oops.With("operation", "policy cache reload").Wrap(err)
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	now := time.Now()
	c.lastUpdate.Store(now.UnixNano())
	if c.cfg.lastUpdateGauge != nil {
		c.cfg.lastUpdateGauge.Set(float64(now.Unix()))
	}
	c.cfg.logger.Info("policy snapshot loaded",
		"version", snap.Version(),
		"policies", snap.Len(),
	)
	return nil
}

// IsStale reports whether the engine should refuse to answer from this
// cache: nothing has ever loaded, or the last load is older than the
// staleness threshold.
func (c *Cache) IsStale() bool {
	last := c.lastUpdate.Load()
	if last == 0 {
		return true
	}
	if c.cfg.staleness <= 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) > c.cfg.staleness
}

// LastUpdate returns the time of the last successful reload.
func (c *Cache) LastUpdate() time.Time {
	last := c.lastUpdate.Load()
	if last == 0 {
		return time.Time{}
	}
	return time.Unix(0, last)
}

// StartWithListener reloads the cache on every notification from listener
// until ctx is cancelled or the feed closes.
func (c *Cache) StartWithListener(ctx context.Context, listener Listener) error {
	ch, err := listener.Listen(ctx)
	if err != nil {
		return oops.With("operation", "policy cache start listener").Wrap(err)
	}

	c.wg.Add(1)
	go c.listenLoop(ctx, ch)
	return nil
}

// StartPolling reloads the cache every interval until ctx is cancelled.
func (c *Cache) StartPolling(ctx context.Context, interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.reloadLogged(ctx, "policy cache periodic reload failed")
			}
		}
	}()
}

// Wait blocks until background goroutines have exited.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) listenLoop(ctx context.Context, ch <-chan string) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			c.cfg.logger.Debug("policy change notification", "payload", payload)
			c.reloadLogged(ctx, "policy cache reload on notification failed")
		}
	}
}

func (c *Cache) reloadLogged(ctx context.Context, msg string) {
	if err := c.Reload(ctx); err != nil && ctx.Err() == nil {
		errutil.LogErrorContext(ctx, c.cfg.logger, slog.LevelError, msg, err)
	}
}
