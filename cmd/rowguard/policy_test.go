// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard/internal/access/policy"
	"github.com/rowguard/rowguard/internal/access/policy/store"
	"github.com/rowguard/rowguard/pkg/errutil"
)

// docStore is an in-memory DocumentStore.
type docStore struct {
	docs []*store.StoredDocument
}

func (s *docStore) Save(_ context.Context, doc *store.StoredDocument) error {
	sum := store.Checksum(doc.Body)
	for _, d := range s.docs {
		if d.Checksum == sum {
			return oops.Code(store.CodeDuplicate).Errorf("document already stored")
		}
	}
	if doc.Active {
		for _, d := range s.docs {
			d.Active = false
		}
	}
	stored := *doc
	stored.ID = fmt.Sprintf("doc-%d", len(s.docs)+1)
	stored.Checksum = sum
	stored.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.docs = append(s.docs, &stored)
	doc.ID, doc.Checksum = stored.ID, sum
	return nil
}

func (s *docStore) Get(_ context.Context, id string) (*store.StoredDocument, error) {
	for _, d := range s.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, oops.Code(store.CodeNotFound).Errorf("document not found")
}

func (s *docStore) Active(_ context.Context) (*store.StoredDocument, error) {
	for _, d := range s.docs {
		if d.Active {
			return d, nil
		}
	}
	return nil, oops.Code(store.CodeNotFound).Errorf("no active document")
}

func (s *docStore) Activate(ctx context.Context, id string) error {
	target, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, d := range s.docs {
		d.Active = false
	}
	target.Active = true
	return nil
}

func (s *docStore) List(_ context.Context) ([]*store.StoredDocument, error) {
	return s.docs, nil
}

func useDocStore(t *testing.T, s *docStore) {
	t.Helper()
	orig := openDocumentStore
	openDocumentStore = func(context.Context, string) (store.DocumentStore, func(), error) {
		return s, func() {}, nil
	}
	t.Cleanup(func() { openDocumentStore = orig })
}

func TestPolicyPublish(t *testing.T) {
	s := &docStore{}
	useDocStore(t, s)

	out, err := execute(t, nil, "policy", "publish", blogPolicies,
		"--note", "first", "--by", "alice", "--database-url", "postgres://x/y")
	require.NoError(t, err)

	assert.Contains(t, out, "Published doc-1 (version 1.2.0)")
	require.Len(t, s.docs, 1)
	assert.True(t, s.docs[0].Active)
	assert.Equal(t, "first", s.docs[0].Note)
	assert.Equal(t, "alice", s.docs[0].CreatedBy)
}

func TestPolicyPublish_InvalidDocumentNotStored(t *testing.T) {
	s := &docStore{}
	useDocStore(t, s)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0.0\"\npolicies: 3\n"), 0o600))

	_, err := execute(t, nil, "policy", "publish", path, "--database-url", "postgres://x/y")
	require.Error(t, err)
	assert.Empty(t, s.docs)
}

func TestPolicyPublish_MissingFile(t *testing.T) {
	useDocStore(t, &docStore{})

	_, err := execute(t, nil, "policy", "publish", "does-not-exist.yaml", "--database-url", "postgres://x/y")
	errutil.AssertErrorCode(t, err, policy.CodeDocumentInvalid)
}

func TestPolicyList(t *testing.T) {
	body, err := os.ReadFile(blogPolicies)
	require.NoError(t, err)
	s := &docStore{}
	require.NoError(t, s.Save(context.Background(), &store.StoredDocument{
		Version: "1.2.0", Body: body, Active: true, Note: "seed", CreatedBy: "ops",
	}))
	useDocStore(t, s)

	out, err := execute(t, nil, "policy", "list", "--database-url", "postgres://x/y")
	require.NoError(t, err)

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "doc-1")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "seed")
}

func TestPolicyActivate(t *testing.T) {
	body, err := os.ReadFile(blogPolicies)
	require.NoError(t, err)
	s := &docStore{}
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, &store.StoredDocument{Version: "1.2.0", Body: body}))
	require.NoError(t, s.Save(ctx, &store.StoredDocument{Version: "1.2.0", Body: append(body, '\n'), Active: true}))
	useDocStore(t, s)

	out, err := execute(t, nil, "policy", "activate", "doc-1", "--database-url", "postgres://x/y")
	require.NoError(t, err)

	assert.Contains(t, out, "Activated doc-1")
	assert.True(t, s.docs[0].Active)
	assert.False(t, s.docs[1].Active)
}

func TestPolicyActivate_UnknownID(t *testing.T) {
	useDocStore(t, &docStore{})

	_, err := execute(t, nil, "policy", "activate", "nope", "--database-url", "postgres://x/y")
	errutil.AssertErrorCode(t, err, store.CodeNotFound)
}

func TestPolicy_RequiresDatabaseURL(t *testing.T) {
	useDocStore(t, &docStore{})

	_, err := execute(t, nil, "policy", "list")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
