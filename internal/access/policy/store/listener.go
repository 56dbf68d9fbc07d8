// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// NotifyConn is a dedicated connection that can LISTEN. *pgx.Conn
// satisfies it.
type NotifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a NotifyConn.
type Dialer func(ctx context.Context) (NotifyConn, error)

// PgDialer dials connString with pgx. LISTEN needs a connection outside
// any pool.
func PgDialer(connString string) Dialer {
	return func(ctx context.Context) (NotifyConn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// PgListener delivers NotifyChannel payloads. A lost connection is
// re-established with capped exponential backoff; a synthetic "reconnect"
// payload is sent afterwards so consumers reload anything they missed.
type PgListener struct {
	dial       Dialer
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewPgListener creates a listener that dials with dial.
func NewPgListener(dial Dialer, logger *slog.Logger) *PgListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgListener{
		dial:       dial,
		backoff:    100 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		logger:     logger,
	}
}

// Listen connects and starts delivering payloads. The first connection is
// made synchronously so configuration errors surface here. The channel is
// closed when ctx is cancelled.
func (l *PgListener) Listen(ctx context.Context) (<-chan string, error) {
	conn, err := l.connect(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan string, 1)
	go l.run(ctx, conn, ch)
	return ch, nil
}

func (l *PgListener) connect(ctx context.Context) (NotifyConn, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, oops.Code("LISTENER_CONNECT_FAILED").Wrap(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx) //nolint:errcheck // LISTEN error takes precedence
		return nil, oops.Code("LISTENER_CONNECT_FAILED").With("operation", "listen").Wrap(err)
	}
	return conn, nil
}

func (l *PgListener) run(ctx context.Context, conn NotifyConn, ch chan<- string) {
	defer close(ch)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.WithoutCancel(ctx)) //nolint:errcheck // shutting down
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			l.send(ctx, ch, n.Payload)
			continue
		}

		l.logger.Warn("policy listener connection lost", "error", err)
		_ = conn.Close(ctx) //nolint:errcheck // replacing the connection
		conn = nil

		b := retry.WithCappedDuration(l.maxBackoff, retry.NewExponential(l.backoff))
		err = retry.Do(ctx, b, func(ctx context.Context) error {
			c, err := l.connect(ctx)
			if err != nil {
				l.logger.Debug("policy listener reconnect failed", "error", err)
				return retry.RetryableError(err)
			}
			conn = c
			return nil
		})
		if err != nil {
			return
		}
		l.logger.Info("policy listener reconnected")
		l.send(ctx, ch, "reconnect")
	}
}

func (l *PgListener) send(ctx context.Context, ch chan<- string, payload string) {
	select {
	case ch <- payload:
	case <-ctx.Done():
	}
}
