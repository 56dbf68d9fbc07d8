// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

// Permission operations read only the context user.
func permissionOps() map[Op]opSpec {
	return map[Op]opSpec{
		OpHasRole:         {category: CategoryPermission, minArgs: 1, maxArgs: 1, eager: hasRoles(OpHasRole, true)},
		OpHasAnyRole:      {category: CategoryPermission, minArgs: 1, maxArgs: variadic, eager: hasRoles(OpHasAnyRole, false)},
		OpHasAllRoles:     {category: CategoryPermission, minArgs: 1, maxArgs: variadic, eager: hasRoles(OpHasAllRoles, true)},
		OpIsAnonymous:     {category: CategoryPermission, minArgs: 0, maxArgs: 0, eager: isAnonymous},
		OpIsAuthenticated: {category: CategoryPermission, minArgs: 0, maxArgs: 0, eager: isAuthenticated},
	}
}

// hasRoles checks role arguments against the user. With all set every role
// must be held; otherwise any one suffices. Anonymous users hold no roles.
func hasRoles(op Op, all bool) eagerFunc {
	return func(c *Context, args []Value) (Value, error) {
		roles := make([]string, len(args))
		for i := range args {
			r, err := strArg(op, args, i)
			if err != nil {
				return nil, err
			}
			roles[i] = r
		}
		for _, r := range roles {
			held := c.hasRole(r)
			if all && !held {
				return false, nil
			}
			if !all && held {
				return true, nil
			}
		}
		return all, nil
	}
}

func isAnonymous(c *Context, _ []Value) (Value, error) {
	return c.IsAnonymous(), nil
}

func isAuthenticated(c *Context, _ []Value) (Value, error) {
	return !c.IsAnonymous(), nil
}
