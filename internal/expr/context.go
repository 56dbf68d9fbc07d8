// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

// User is the identity an expression is evaluated for.
type User struct {
	ID         any
	Roles      []string
	Attributes map[string]any
}

// Context is the deep-immutable input to an evaluation. All maps are owned
// copies made by NewContext; nothing in this package writes to them, and the
// accessors never hand out the internal maps.
type Context struct {
	data    map[string]any
	user    *frozenUser
	params  map[string]any
	globals map[string]any
}

type frozenUser struct {
	id    Value
	roles []string
	attrs map[string]any
}

// Reserved first path segments that address context members other than data.
const (
	RootData    = "data"
	RootUser    = "user"
	RootParams  = "params"
	RootGlobals = "globals"
)

// NewContext builds a Context from caller-owned values. Every argument is
// deep-copied so later mutation by the caller is not observed. A nil user
// means the request is anonymous.
func NewContext(data map[string]any, user *User, params, globals map[string]any) *Context {
	return &Context{
		data:    cloneObject(data),
		user:    freezeUser(user),
		params:  cloneObject(params),
		globals: cloneObject(globals),
	}
}

func freezeUser(u *User) *frozenUser {
	if u == nil {
		return nil
	}
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return &frozenUser{
		id:    Normalize(u.ID),
		roles: roles,
		attrs: cloneObject(u.Attributes),
	}
}

func cloneObject(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out, _ := Normalize(m).(map[string]any)
	return out
}

// IsAnonymous reports whether the context carries no user.
func (c *Context) IsAnonymous() bool {
	return c.user == nil
}

// Data returns a deep copy of the context's data object.
func (c *Context) Data() map[string]any {
	return cloneObject(c.data)
}

// withData returns a shallow copy of c whose data is replaced. The new data
// must already be normalized and must not be mutated afterwards.
func (c *Context) withData(data map[string]any) *Context {
	cp := *c
	cp.data = data
	return &cp
}

func (c *Context) hasRole(role string) bool {
	if c.user == nil {
		return false
	}
	for _, r := range c.user.roles {
		if r == role {
			return true
		}
	}
	return false
}

// userObject renders the user as an object for path resolution.
func (c *Context) userObject() map[string]any {
	if c.user == nil {
		return nil
	}
	obj := make(map[string]any, len(c.user.attrs)+2)
	for k, v := range c.user.attrs {
		obj[k] = v
	}
	roles := make([]any, len(c.user.roles))
	for i, r := range c.user.roles {
		roles[i] = r
	}
	obj["id"] = c.user.id
	obj["roles"] = roles
	return obj
}
