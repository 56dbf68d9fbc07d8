// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

//go:build integration

package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/stretchr/testify/mock"

	"github.com/rowguard/rowguard/internal/access/policy"
	"github.com/rowguard/rowguard/internal/access/policy/audit"
	"github.com/rowguard/rowguard/internal/access/policy/types"
)

// mockAuditor records every audited decision. Safe for concurrent use.
type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) Log(ctx context.Context, entry audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// documentFor returns a document whose Post:read policy allows owners,
// plus everyone when open is set.
func documentFor(version string, open bool) string {
	return fmt.Sprintf(`version: %q
resources:
  Post:
    fields: [id, title, authorId]
policies:
  - resource: Post
    action: read
    allow:
      type: operation
      op: or
      args:
        - {type: literal, value: %t}
        - type: condition
          op: eq
          left: {type: field, path: authorId}
          right: {type: field, path: user.id}
`, version, open)
}

var _ = Describe("Engine under concurrent reloads", func() {
	var (
		path  string
		cache *policy.Cache
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "policies.yaml")
		Expect(os.WriteFile(path, []byte(documentFor("1.0.0", false)), 0o600)).To(Succeed())
		cache = policy.NewCache(policy.FileSource{Path: path}, policy.NewCompiler())
		Expect(cache.Reload(context.Background())).To(Succeed())
	})

	It("answers every decision from a whole snapshot", func() {
		auditor := &mockAuditor{}
		auditor.On("Log", mock.Anything, mock.Anything).Return(nil)
		engine := policy.NewEngine(cache, policy.WithAuditor(auditor))

		ctx := context.Background()
		owner := types.PolicyContext{
			User:     &types.User{ID: "u1"},
			Resource: "Post",
			Action:   types.ActionRead,
			Data:     map[string]any{"id": "p1", "authorId": "u1"},
		}
		stranger := owner
		stranger.User = &types.User{ID: "u2"}

		const workers = 8
		const perWorker = 200
		var ownerDenied, errorDenials atomic.Int64
		var wg sync.WaitGroup

		for w := range workers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := range perWorker {
					pc := owner
					if (w+i)%2 == 1 {
						pc = stranger
					}
					d := engine.Decide(ctx, pc)
					if d.Effect == types.EffectErrorDeny {
						errorDenials.Add(1)
					}
					if pc.User.ID == "u1" && !d.IsAllowed() {
						ownerDenied.Add(1)
					}
				}
			}()
		}

		for i := range 20 {
			body := documentFor(fmt.Sprintf("1.0.%d", i+1), i%2 == 0)
			Expect(os.WriteFile(path, []byte(body), 0o600)).To(Succeed())
			Expect(cache.Reload(ctx)).To(Succeed())
		}
		wg.Wait()

		Expect(ownerDenied.Load()).To(BeZero())
		Expect(errorDenials.Load()).To(BeZero())
		auditor.AssertNumberOfCalls(GinkgoT(), "Log", workers*perWorker)
	})

	It("keeps serving the last good snapshot when a reload fails", func() {
		engine := policy.NewEngine(cache)
		pc := types.PolicyContext{
			User:     &types.User{ID: "u1"},
			Resource: "Post",
			Action:   types.ActionRead,
			Data:     map[string]any{"authorId": "u1"},
		}

		Expect(os.WriteFile(path, []byte("version: [broken"), 0o600)).To(Succeed())
		Expect(cache.Reload(context.Background())).NotTo(Succeed())

		Expect(cache.Snapshot().Version()).To(Equal("1.0.0"))
		Expect(engine.CheckAccess(context.Background(), pc)).To(BeTrue())
	})

	It("denies everything once the context is cancelled", func() {
		engine := policy.NewEngine(cache)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		d := engine.Decide(ctx, types.PolicyContext{Resource: "Post", Action: types.ActionRead})
		Expect(d.Effect).To(Equal(types.EffectErrorDeny))
		Expect(engine.ApplyRowFilter(ctx, types.PolicyContext{Resource: "Post", Action: types.ActionRead}).Mode).
			To(Equal(types.FilterModeDenyAll))
	})
})
