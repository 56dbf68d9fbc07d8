// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"

	"github.com/rowguard/rowguard/internal/access/policy/types"
)

// Mode controls which decisions are logged.
type Mode string

// Audit logging modes.
const (
	ModeOff         Mode = "off"
	ModeMinimal     Mode = "minimal"      // explicit and error denials
	ModeDenialsOnly Mode = "denials_only" // every denial, including default deny
	ModeAll         Mode = "all"          // everything
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeOff, ModeMinimal, ModeDenialsOnly, ModeAll:
		return m, nil
	default:
		return "", oops.Code("AUDIT_MODE_INVALID").With("mode", s).Errorf("unknown audit mode %q", s)
	}
}

// Entry is a single access decision.
type Entry struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id,omitempty"`
	Resource    string       `json:"resource"`
	Action      string       `json:"action"`
	Effect      types.Effect `json:"effect"`
	PolicyKey   string       `json:"policy_key,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	FailureKind string       `json:"failure_kind,omitempty"`
	DurationUS  int64        `json:"duration_us"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Writer persists audit entries.
type Writer interface {
	WriteSync(ctx context.Context, entry Entry) error
	WriteAsync(entry Entry) error
	Close() error
}

const asyncBuffer = 1000

var (
	channelFullCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rowguard_audit_channel_full_total",
		Help: "Total number of times the async audit channel was full",
	})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowguard_audit_failures_total",
		Help: "Total number of audit logging failures",
	}, []string{"reason"})

	walEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rowguard_audit_wal_entries",
		Help: "Current number of entries in the audit WAL",
	})

	purgedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowguard_audit_purged_total",
		Help: "Total number of audit entries removed by retention",
	}, []string{"class"})
)

// Logger routes entries to a Writer by mode and effect. Denials are written
// synchronously and fall back to a write-ahead log file when the writer
// fails; allows are queued.
type Logger struct {
	mode      Mode
	writer    Writer
	walPath   string
	walFile   *os.File
	walMu     sync.Mutex
	asyncChan chan Entry
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithWAL enables the write-ahead log fallback at path.
func WithWAL(path string) Option {
	return func(l *Logger) {
		l.walPath = path
	}
}

// WithLogger sets the logger used for audit failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

// NewLogger creates a Logger and starts its async consumer. Call Close to
// flush queued entries.
func NewLogger(mode Mode, writer Writer, opts ...Option) *Logger {
	l := &Logger{
		mode:      mode,
		writer:    writer,
		asyncChan: make(chan Entry, asyncBuffer),
		stopChan:  make(chan struct{}),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.asyncConsumer()
	return l
}

// Log routes entry according to the mode. Failures are counted and logged;
// the returned error is reserved for entries that were lost.
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	shouldLog, useSync := l.route(entry.Effect)
	if !shouldLog {
		return nil
	}
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if useSync {
		err := l.writer.WriteSync(ctx, entry)
		if err == nil {
			return nil
		}
		if l.walPath == "" {
			failuresCounter.WithLabelValues("sync_write_failed").Inc()
			return oops.Code("AUDIT_WRITE_FAILED").With("resource", entry.Resource).Wrap(err)
		}
		if walErr := l.writeToWAL(entry); walErr != nil {
			l.logger.Error("audit write failed: writer and WAL both failed",
				"write_error", err,
				"wal_error", walErr,
				"resource", entry.Resource,
				"action", entry.Action,
				"effect", entry.Effect.String(),
			)
			failuresCounter.WithLabelValues("wal_failed").Inc()
			return oops.Code("AUDIT_WRITE_FAILED").With("resource", entry.Resource).Wrap(walErr)
		}
		return nil
	}

	select {
	case l.asyncChan <- entry:
	default:
		channelFullCounter.Inc()
	}
	return nil
}

// route reports whether an effect is logged in the current mode and
// whether the write is synchronous.
func (l *Logger) route(effect types.Effect) (shouldLog, useSync bool) {
	explicitDenial := effect == types.EffectDeny || effect == types.EffectErrorDeny
	switch l.mode {
	case ModeMinimal:
		return explicitDenial, true
	case ModeDenialsOnly:
		return explicitDenial || effect == types.EffectDefaultDeny, true
	case ModeAll:
		if effect == types.EffectAllow {
			return true, false
		}
		return true, true
	default:
		return false, false
	}
}

func (l *Logger) asyncConsumer() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.asyncChan:
			l.writeAsync(entry)
		case <-l.stopChan:
			for {
				select {
				case entry := <-l.asyncChan:
					l.writeAsync(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeAsync(entry Entry) {
	if err := l.writer.WriteAsync(entry); err != nil {
		l.logger.Error("async audit write failed",
			"error", err,
			"resource", entry.Resource,
			"action", entry.Action,
		)
		failuresCounter.WithLabelValues("async_write_failed").Inc()
	}
}

func (l *Logger) writeToWAL(entry Entry) error {
	l.walMu.Lock()
	defer l.walMu.Unlock()

	if l.walFile == nil {
		file, err := os.OpenFile(l.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", l.walPath).Wrap(err)
		}
		l.walFile = file
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return oops.Wrap(err)
	}
	if _, err := fmt.Fprintf(l.walFile, "%s\n", data); err != nil {
		return oops.Wrap(err)
	}

	walEntriesGauge.Inc()
	return nil
}

// ReplayWAL writes every WAL entry synchronously and truncates the WAL.
// Entries that cannot be decoded or written are logged and skipped.
func (l *Logger) ReplayWAL(ctx context.Context) (int, error) {
	if l.walPath == "" {
		return 0, nil
	}
	l.walMu.Lock()
	defer l.walMu.Unlock()

	data, err := os.ReadFile(l.walPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.With("path", l.walPath).Wrap(err)
	}

	replayed := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			l.logger.Error("failed to decode WAL entry", "error", err)
			failuresCounter.WithLabelValues("wal_unmarshal_failed").Inc()
			continue
		}
		if err := l.writer.WriteSync(ctx, entry); err != nil {
			l.logger.Error("failed to replay WAL entry", "error", err, "id", entry.ID)
			failuresCounter.WithLabelValues("wal_replay_failed").Inc()
			continue
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, oops.With("path", l.walPath).Wrap(err)
	}

	if err := os.Truncate(l.walPath, 0); err != nil {
		return replayed, oops.With("path", l.walPath).Wrap(err)
	}
	walEntriesGauge.Set(0)
	return replayed, nil
}

// Close drains queued entries, then closes the writer and the WAL.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()

		if werr := l.writer.Close(); werr != nil {
			err = oops.Wrap(werr)
			return
		}

		l.walMu.Lock()
		defer l.walMu.Unlock()
		if l.walFile != nil {
			if ferr := l.walFile.Close(); ferr != nil {
				err = oops.Wrap(ferr)
			}
			l.walFile = nil
		}
	})
	return err
}
