// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// PostgresStore implements DocumentStore on PostgreSQL.
type PostgresStore struct {
	pool Pool
}

var _ DocumentStore = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore backed by pool.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const documentColumns = `id, version, body, checksum, active, note, created_by, created_at`

func scanDocument(row pgx.Row) (*StoredDocument, error) {
	var d StoredDocument
	var body string
	if err := row.Scan(&d.ID, &d.Version, &body, &d.Checksum, &d.Active, &d.Note, &d.CreatedBy, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Body = []byte(body)
	return &d, nil
}

// Save inserts doc with a new ULID. The same body cannot be saved twice.
// When doc.Active is set the document is activated in the same transaction.
func (s *PostgresStore) Save(ctx context.Context, doc *StoredDocument) error {
	id := ulid.Make().String()
	checksum := Checksum(doc.Body)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code(CodeSaveFailed).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if doc.Active {
		if _, err := tx.Exec(ctx, `UPDATE policy_documents SET active = false WHERE active`); err != nil {
			return oops.Code(CodeSaveFailed).With("operation", "deactivate").Wrap(err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO policy_documents (id, version, body, checksum, active, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, doc.Version, string(doc.Body), checksum, doc.Active, doc.Note, doc.CreatedBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code(CodeDuplicate).With("checksum", checksum).Errorf("document already stored")
		}
		return oops.Code(CodeSaveFailed).Wrap(err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id); err != nil {
		return oops.Code(CodeSaveFailed).With("operation", "notify").Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code(CodeSaveFailed).With("operation", "commit").Wrap(err)
	}

	doc.ID = id
	doc.Checksum = checksum
	return nil
}

// Get retrieves a document by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*StoredDocument, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM policy_documents WHERE id = $1`, documentColumns), id)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(CodeNotFound).With("id", id).Errorf("document not found")
	}
	if err != nil {
		return nil, oops.With("operation", "get document").With("id", id).Wrap(err)
	}
	return d, nil
}

// Active retrieves the active document.
func (s *PostgresStore) Active(ctx context.Context) (*StoredDocument, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM policy_documents WHERE active`, documentColumns))
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(CodeNotFound).Errorf("no active document")
	}
	if err != nil {
		return nil, oops.With("operation", "get active document").Wrap(err)
	}
	return d, nil
}

// Activate makes id the active document and notifies listeners.
func (s *PostgresStore) Activate(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code(CodeActivateFail).With("id", id).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `UPDATE policy_documents SET active = false WHERE active AND id <> $1`, id); err != nil {
		return oops.Code(CodeActivateFail).With("id", id).Wrap(err)
	}
	tag, err := tx.Exec(ctx, `UPDATE policy_documents SET active = true WHERE id = $1`, id)
	if err != nil {
		return oops.Code(CodeActivateFail).With("id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(CodeNotFound).With("id", id).Errorf("document not found")
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id); err != nil {
		return oops.Code(CodeActivateFail).With("id", id).With("operation", "notify").Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code(CodeActivateFail).With("id", id).With("operation", "commit").Wrap(err)
	}
	return nil
}

// List returns every document, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]*StoredDocument, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM policy_documents ORDER BY created_at DESC, id DESC`, documentColumns))
	if err != nil {
		return nil, oops.With("operation", "list documents").Wrap(err)
	}
	defer rows.Close()

	var out []*StoredDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, oops.With("operation", "scan document").Wrap(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "list documents").Wrap(err)
	}
	return out, nil
}
