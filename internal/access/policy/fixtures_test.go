// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard/internal/access/policy/types"
	"github.com/rowguard/rowguard/internal/expr"
)

// compile builds a snapshot from policies over resources.
func compile(t *testing.T, resources map[string]types.Resource, policies ...types.Policy) *Snapshot {
	t.Helper()
	snap, err := NewCompiler().Compile(&Document{Version: "1.0.0", Resources: resources, Policies: policies})
	require.NoError(t, err)
	return snap
}

func allow(resource string, action types.Action, n expr.Node) types.Policy {
	return types.Policy{Resource: resource, Action: action, Allow: expr.Expression{Node: n}}
}

func user(id any, roles ...string) *types.User {
	return &types.User{ID: id, Roles: roles}
}

// scenarioA: public posts or the author's own.
func scenarioA() types.Policy {
	return allow("Post", types.ActionRead, expr.Call(expr.OpOr,
		expr.Call(expr.OpEq, expr.Field("isPublic"), expr.Lit(true)),
		expr.Call(expr.OpEq, expr.Field("authorId"), expr.Field("user.id")),
	))
}

func postResource() map[string]types.Resource {
	return map[string]types.Resource{
		"Post": {Fields: []string{"id", "title", "body", "authorId", "isPublic"}},
	}
}
