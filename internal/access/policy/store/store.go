// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

// Package store persists policy documents in PostgreSQL. Exactly one stored
// document is active at a time; activating a document notifies listeners on
// the policy_documents_changed channel.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// NotifyChannel is the LISTEN/NOTIFY channel signalled on every change.
const NotifyChannel = "policy_documents_changed"

// Error codes returned by the store.
const (
	CodeNotFound     = "DOCUMENT_NOT_FOUND"
	CodeDuplicate    = "DOCUMENT_DUPLICATE"
	CodeSaveFailed   = "DOCUMENT_SAVE_FAILED"
	CodeActivateFail = "DOCUMENT_ACTIVATE_FAILED"
)

// StoredDocument is a persisted policy document. Body holds the YAML or
// JSON text exactly as submitted.
type StoredDocument struct {
	ID        string
	Version   string
	Body      []byte
	Checksum  string
	Active    bool
	Note      string
	CreatedBy string
	CreatedAt time.Time
}

// Checksum returns the hex SHA-256 of body.
func Checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// DocumentStore handles storage of policy documents.
type DocumentStore interface {
	Save(ctx context.Context, doc *StoredDocument) error
	Get(ctx context.Context, id string) (*StoredDocument, error)
	Active(ctx context.Context) (*StoredDocument, error)
	Activate(ctx context.Context, id string) error
	List(ctx context.Context) ([]*StoredDocument, error)
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IsNotFound reports whether err is a DOCUMENT_NOT_FOUND error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsDuplicate reports whether err is a DOCUMENT_DUPLICATE error.
func IsDuplicate(err error) bool {
	return hasCode(err, CodeDuplicate)
}

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	return ok && oopsErr.Code() == code
}
