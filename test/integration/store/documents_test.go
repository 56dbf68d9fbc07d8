// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

//go:build integration

package store_test

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/rowguard/rowguard/internal/access/policy"
	"github.com/rowguard/rowguard/internal/access/policy/store"
	"github.com/rowguard/rowguard/internal/access/policy/types"
)

func document(version string, allow bool) []byte {
	return []byte(fmt.Sprintf(`version: %q
resources:
  Post:
    fields: [id, title]
policies:
  - resource: Post
    action: read
    allow: {type: literal, value: %t}
`, version, allow))
}

var _ = Describe("PostgresStore", func() {
	var docs *store.PostgresStore

	BeforeEach(func() {
		truncate()
		docs = store.NewPostgresStore(env.pool)
	})

	It("saves and reads back a document", func() {
		doc := &store.StoredDocument{Version: "1.0.0", Body: document("1.0.0", true), Note: "first", CreatedBy: "tests"}
		Expect(docs.Save(env.ctx, doc)).To(Succeed())
		Expect(doc.ID).NotTo(BeEmpty())
		Expect(doc.Checksum).To(Equal(store.Checksum(doc.Body)))

		got, err := docs.Get(env.ctx, doc.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Body).To(Equal(doc.Body))
		Expect(got.Note).To(Equal("first"))
		Expect(got.Active).To(BeFalse())
		Expect(got.CreatedAt).NotTo(BeZero())
	})

	It("rejects the same body twice", func() {
		body := document("1.0.0", true)
		Expect(docs.Save(env.ctx, &store.StoredDocument{Version: "1.0.0", Body: body})).To(Succeed())

		err := docs.Save(env.ctx, &store.StoredDocument{Version: "1.0.0", Body: body})
		Expect(store.IsDuplicate(err)).To(BeTrue())
	})

	It("keeps exactly one document active", func() {
		first := &store.StoredDocument{Version: "1.0.0", Body: document("1.0.0", true), Active: true}
		second := &store.StoredDocument{Version: "1.1.0", Body: document("1.1.0", false), Active: true}
		Expect(docs.Save(env.ctx, first)).To(Succeed())
		Expect(docs.Save(env.ctx, second)).To(Succeed())

		active, err := docs.Active(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(active.ID).To(Equal(second.ID))

		Expect(docs.Activate(env.ctx, first.ID)).To(Succeed())
		active, err = docs.Active(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(active.ID).To(Equal(first.ID))

		all, err := docs.List(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(2))
		activeCount := 0
		for _, d := range all {
			if d.Active {
				activeCount++
			}
		}
		Expect(activeCount).To(Equal(1))
	})

	It("reports missing documents", func() {
		_, err := docs.Active(env.ctx)
		Expect(store.IsNotFound(err)).To(BeTrue())

		_, err = docs.Get(env.ctx, "missing")
		Expect(store.IsNotFound(err)).To(BeTrue())

		Expect(store.IsNotFound(docs.Activate(env.ctx, "missing"))).To(BeTrue())
	})
})

var _ = Describe("Bootstrap", func() {
	var docs *store.PostgresStore

	BeforeEach(func() {
		truncate()
		docs = store.NewPostgresStore(env.pool)
	})

	It("publishes the seed into an empty store", func() {
		seed := document("1.0.0", true)
		Expect(policy.Bootstrap(env.ctx, docs, policy.NewCompiler(), seed, slog.Default())).To(Succeed())

		active, err := docs.Active(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(active.Checksum).To(Equal(store.Checksum(seed)))
		Expect(active.CreatedBy).To(Equal("rowguard"))
	})

	It("never replaces an active document", func() {
		current, err := policy.Publish(env.ctx, docs, policy.NewCompiler(), document("1.5.0", false), "", "ops")
		Expect(err).NotTo(HaveOccurred())

		Expect(policy.Bootstrap(env.ctx, docs, policy.NewCompiler(), document("1.0.0", true), slog.Default())).To(Succeed())

		active, err := docs.Active(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(active.ID).To(Equal(current.ID))
	})
})

var _ = Describe("Cache over the store", func() {
	var (
		docs   *store.PostgresStore
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		truncate()
		docs = store.NewPostgresStore(env.pool)
		ctx, cancel = context.WithCancel(env.ctx)
	})

	AfterEach(func() {
		cancel()
	})

	It("reloads when another writer activates a document", func() {
		_, err := policy.Publish(ctx, docs, policy.NewCompiler(), document("1.0.0", false), "", "tests")
		Expect(err).NotTo(HaveOccurred())

		cache := policy.NewCache(policy.StoreSource{Store: docs}, policy.NewCompiler())
		Expect(cache.Reload(ctx)).To(Succeed())
		Expect(cache.StartWithListener(ctx, store.NewPgListener(store.PgDialer(env.connStr), slog.Default()))).To(Succeed())

		engine := policy.NewEngine(cache)
		pc := types.PolicyContext{Resource: "Post", Action: types.ActionRead}
		Expect(engine.CheckAccess(ctx, pc)).To(BeFalse())

		_, err = policy.Publish(ctx, docs, policy.NewCompiler(), document("1.1.0", true), "", "tests")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() string {
			return cache.Snapshot().Version()
		}, 10*time.Second, 50*time.Millisecond).Should(Equal("1.1.0"))
		Expect(engine.CheckAccess(ctx, pc)).To(BeTrue())

		cancel()
		cache.Wait()
	})

	It("fails to start when the listener cannot connect", func() {
		cache := policy.NewCache(policy.StoreSource{Store: docs}, policy.NewCompiler())
		listener := store.NewPgListener(store.PgDialer("postgres://nobody@127.0.0.1:1/none?connect_timeout=1"), slog.Default())
		Expect(cache.StartWithListener(ctx, listener)).NotTo(Succeed())
	})
})
