// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"strings"

	"github.com/rowguard/rowguard/internal/access/policy/types"
)

// allowedFields computes the readable and writable fields of a policy for
// user. Lists default to the resource declaration; role-qualified lists
// narrow them; deny is subtracted last and always wins.
func allowedFields(p *CompiledPolicy, res types.Resource, user *types.User) types.AllowedFields {
	read := append(append([]string{}, res.Fields...), res.ComputedNames()...)
	write := res.Fields
	var deny []string

	if rules := p.Policy.Fields; rules != nil {
		if rules.Read != nil {
			read = rules.Read
		}
		if rules.Write != nil {
			write = rules.Write
		}
		deny = rules.Deny
		if len(rules.Roles) > 0 {
			roleRead, roleWrite := roleGrants(rules.Roles, read, write, user)
			read = intersect(read, roleRead)
			write = intersect(write, roleWrite)
		}
	}

	return types.AllowedFields{
		Read:  subtract(read, deny),
		Write: subtract(write, deny),
	}
}

// roleGrants unions the grants of every role the user holds. A role that
// omits a list inherits the base list.
func roleGrants(roles map[string]types.RoleFields, baseRead, baseWrite []string, user *types.User) (read, write map[string]struct{}) {
	read = map[string]struct{}{}
	write = map[string]struct{}{}
	if user == nil {
		return read, write
	}
	for _, role := range user.Roles {
		grant, ok := roles[role]
		if !ok {
			continue
		}
		r, w := grant.Read, grant.Write
		if r == nil {
			r = baseRead
		}
		if w == nil {
			w = baseWrite
		}
		for _, f := range r {
			read[f] = struct{}{}
		}
		for _, f := range w {
			write[f] = struct{}{}
		}
	}
	return read, write
}

func intersect(fields []string, granted map[string]struct{}) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := granted[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// subtract removes denied fields and duplicates, keeping order. Denying a
// field also denies every path nested under it. The result is never nil.
func subtract(fields, deny []string) []string {
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup || denied(f, deny) {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func denied(field string, deny []string) bool {
	for _, d := range deny {
		if field == d || strings.HasPrefix(field, d+".") {
			return true
		}
	}
	return false
}

func emptyFields() types.AllowedFields {
	return types.AllowedFields{Read: []string{}, Write: []string{}}
}
