// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package audit

import (
	"context"
	"log/slog"
)

// SlogWriter writes entries as structured log records.
type SlogWriter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogWriter creates a writer that logs at info level.
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger.With("component", "audit"), level: slog.LevelInfo}
}

// WriteSync logs the entry.
func (w *SlogWriter) WriteSync(ctx context.Context, entry Entry) error {
	w.logger.LogAttrs(ctx, w.level, "access decision", entryAttrs(entry)...)
	return nil
}

// WriteAsync logs the entry.
func (w *SlogWriter) WriteAsync(entry Entry) error {
	return w.WriteSync(context.Background(), entry)
}

// Close is a no-op.
func (w *SlogWriter) Close() error { return nil }

func entryAttrs(e Entry) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("id", e.ID),
		slog.String("resource", e.Resource),
		slog.String("action", e.Action),
		slog.String("effect", e.Effect.String()),
		slog.Int64("duration_us", e.DurationUS),
		slog.Time("timestamp", e.Timestamp),
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.PolicyKey != "" {
		attrs = append(attrs, slog.String("policy", e.PolicyKey))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	if e.FailureKind != "" {
		attrs = append(attrs, slog.String("failure_kind", e.FailureKind))
	}
	return attrs
}
