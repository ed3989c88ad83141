// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"slices"
)

// UserContext describes the authenticated actor of a request.
// Profiles are organisational labels (e.g. "budget_office", "ordonnateur");
// Roles are signature roles (e.g. "SAF", "CB", "DAF", "DG").
type UserContext struct {
	UserID      string
	Email       string
	DisplayName string
	Profiles    []string
	Roles       []string
	IsAdmin     bool
	SessionID   string
}

// HasProfile reports whether the actor carries the profile label.
func (u *UserContext) HasProfile(profile string) bool {
	return u != nil && slices.Contains(u.Profiles, profile)
}

// HasRole reports whether the actor carries the role label.
func (u *UserContext) HasRole(role string) bool {
	return u != nil && slices.Contains(u.Roles, role)
}

// HasAny reports whether the actor holds at least one of the given profiles or roles.
func (u *UserContext) HasAny(profiles, roles []string) bool {
	if u == nil {
		return false
	}
	for _, p := range profiles {
		if u.HasProfile(p) {
			return true
		}
	}
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// HasRole checks if the user in context has a specific role.
func HasRole(ctx context.Context, role string) bool {
	return GetUser(ctx).HasRole(role)
}
