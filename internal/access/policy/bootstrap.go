// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/rowguard/rowguard/internal/access/policy/store"
)

// Publish validates body as a policy document and stores it as the active
// document. Documents that fail to parse or compile are never stored.
func Publish(ctx context.Context, docs store.DocumentStore, compiler *Compiler, body []byte, note, createdBy string) (*store.StoredDocument, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}
	if _, err := compiler.Compile(doc); err != nil {
		return nil, err
	}

	stored := &store.StoredDocument{
		Version:   doc.Version,
		Body:      body,
		Active:    true,
		Note:      note,
		CreatedBy: createdBy,
	}
	if err := docs.Save(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Bootstrap makes sure the store has an active document. When none is
// active, the seed document is published. An existing active document is
// left alone even when it differs from the seed. Any error must abort
// startup.
func Bootstrap(ctx context.Context, docs store.DocumentStore, compiler *Compiler, seed []byte, logger *slog.Logger) error {
	active, err := docs.Active(ctx)
	switch {
	case err == nil:
		if active.Checksum != store.Checksum(seed) {
			logger.Info("active policy document differs from seed, keeping it",
				"id", active.ID, "version", active.Version)
		}
		return nil
	case !store.IsNotFound(err):
		return oops.With("operation", "bootstrap").Wrap(err)
	}

	stored, err := Publish(ctx, docs, compiler, seed, "bootstrap seed", "rowguard")
	if store.IsDuplicate(err) {
		// Seed was stored earlier but deactivated; bring it back.
		return activateSeed(ctx, docs, seed, logger)
	}
	if err != nil {
		return oops.With("operation", "bootstrap").Wrap(err)
	}
	logger.Info("seed policy document published", "id", stored.ID, "version", stored.Version)
	return nil
}

func activateSeed(ctx context.Context, docs store.DocumentStore, seed []byte, logger *slog.Logger) error {
	list, err := docs.List(ctx)
	if err != nil {
		return oops.With("operation", "bootstrap").Wrap(err)
	}
	sum := store.Checksum(seed)
	for _, d := range list {
		if d.Checksum == sum {
			if err := docs.Activate(ctx, d.ID); err != nil {
				return oops.With("operation", "bootstrap").Wrap(err)
			}
			logger.Info("seed policy document reactivated", "id", d.ID)
			return nil
		}
	}
	return oops.Code(store.CodeNotFound).Errorf("seed document reported as duplicate but not found")
}
