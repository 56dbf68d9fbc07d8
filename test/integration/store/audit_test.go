// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

//go:build integration

package store_test

import (
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/rowguard/rowguard/internal/access/policy/audit"
	"github.com/rowguard/rowguard/internal/access/policy/types"
)

func countAudit(where string, args ...any) int {
	var n int
	err := env.pool.QueryRow(env.ctx, `SELECT count(*) FROM decision_audit_log WHERE `+where, args...).Scan(&n)
	Expect(err).NotTo(HaveOccurred())
	return n
}

func entry(effect types.Effect, at time.Time) audit.Entry {
	return audit.Entry{
		ID:        ulid.Make().String(),
		UserID:    "u1",
		Resource:  "Post",
		Action:    "read",
		Effect:    effect,
		PolicyKey: "Post:read",
		Reason:    "test",
		Timestamp: at,
	}
}

var _ = Describe("PostgresWriter", func() {
	var w *audit.PostgresWriter

	BeforeEach(func() {
		truncate()
		w = audit.NewPostgresWriter(env.pool)
	})

	AfterEach(func() {
		Expect(w.Close()).To(Succeed())
	})

	It("writes synchronous entries immediately", func() {
		Expect(w.WriteSync(env.ctx, entry(types.EffectDeny, time.Now()))).To(Succeed())
		Expect(countAudit(`effect = 'deny'`)).To(Equal(1))
	})

	It("flushes queued entries on close", func() {
		for range 5 {
			Expect(w.WriteAsync(entry(types.EffectAllow, time.Now()))).To(Succeed())
		}
		Expect(w.Close()).To(Succeed())
		Expect(countAudit(`effect = 'allow'`)).To(Equal(5))

		w = audit.NewPostgresWriter(env.pool)
	})

	It("routes decisions through the audit logger", func() {
		l := audit.NewLogger(audit.ModeDenialsOnly, w)
		Expect(l.Log(env.ctx, entry(types.EffectDefaultDeny, time.Time{}))).To(Succeed())
		Expect(l.Log(env.ctx, entry(types.EffectAllow, time.Time{}))).To(Succeed())
		Expect(l.Close()).To(Succeed())

		Expect(countAudit(`effect = 'default_deny'`)).To(Equal(1))
		Expect(countAudit(`effect = 'allow'`)).To(Equal(0))
	})

	It("purges expired entries per retention class", func() {
		old := time.Now().Add(-30 * 24 * time.Hour)
		ancient := time.Now().Add(-120 * 24 * time.Hour)
		Expect(w.WriteSync(env.ctx, entry(types.EffectAllow, old))).To(Succeed())
		Expect(w.WriteSync(env.ctx, entry(types.EffectAllow, time.Now()))).To(Succeed())
		Expect(w.WriteSync(env.ctx, entry(types.EffectDeny, old))).To(Succeed())
		Expect(w.WriteSync(env.ctx, entry(types.EffectDeny, ancient))).To(Succeed())

		worker := audit.NewRetentionWorker(audit.DefaultRetentionConfig(), w, nil)
		Expect(worker.RunOnce(env.ctx)).To(Succeed())

		Expect(countAudit(`effect = 'allow'`)).To(Equal(1))
		Expect(countAudit(`effect = 'deny'`)).To(Equal(1))
	})
})
