// Package identity resolves users for approver rules and permission checks.
package identity

import (
	"context"
	"slices"
)

// Membership answers role and permission questions about users.
//
// Approver rules resolve role and permission references through this
// interface, and condition evaluation uses it for permission leaves. The
// static implementation covers embedded deployments and tests; a production
// deployment wires its own directory behind the same interface.
type Membership interface {
	// UsersWithRole returns the IDs of all users holding the role.
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	// UsersWithPermission returns the IDs of all users holding the permission.
	UsersWithPermission(ctx context.Context, permission string) ([]string, error)
	// HasRole reports whether the user holds the role.
	HasRole(ctx context.Context, userID, role string) (bool, error)
	// HasPermission reports whether the user holds the permission.
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
}

// Static is an in-memory membership directory.
type Static struct {
	roles       map[string][]string
	permissions map[string][]string
}

// NewStatic builds a directory from role and permission assignments, both
// keyed by user ID.
func NewStatic(roles, permissions map[string][]string) *Static {
	if roles == nil {
		roles = map[string][]string{}
	}

	if permissions == nil {
		permissions = map[string][]string{}
	}

	return &Static{roles: roles, permissions: permissions}
}

func (s *Static) UsersWithRole(_ context.Context, role string) ([]string, error) {
	return usersWith(s.roles, role), nil
}

func (s *Static) UsersWithPermission(_ context.Context, permission string) ([]string, error) {
	return usersWith(s.permissions, permission), nil
}

func (s *Static) HasRole(_ context.Context, userID, role string) (bool, error) {
	return slices.Contains(s.roles[userID], role), nil
}

func (s *Static) HasPermission(_ context.Context, userID, permission string) (bool, error) {
	return slices.Contains(s.permissions[userID], permission), nil
}

func usersWith(assignments map[string][]string, grant string) []string {
	var users []string

	for userID, grants := range assignments {
		if slices.Contains(grants, grant) {
			users = append(users, userID)
		}
	}

	slices.Sort(users)

	return users
}
