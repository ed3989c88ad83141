// Package auth authenticates actors and issues the tokens that carry their
// profiles and roles.
package auth

import (
	"context"
	"strings"
	"time"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
)

// Actor is a person acting in the spending chain.
type Actor struct {
	ID                  id.ID      `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	DisplayName         string     `db:"display_name" json:"display_name"`
	Profiles            []string   `db:"profiles" json:"profiles"`
	Roles               []string   `db:"roles" json:"roles"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	IsAdmin             bool       `db:"is_admin" json:"is_admin"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// NewActor creates an active actor.
func NewActor(email, passwordHash, displayName string, profiles, roles []string) *Actor {
	now := time.Now().UTC()
	return &Actor{
		ID:           id.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		Profiles:     profiles,
		Roles:        roles,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsLocked returns true if the account is temporarily locked.
func (a *Actor) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// CanLogin checks if the actor may authenticate.
func (a *Actor) CanLogin(now time.Time) error {
	if !a.IsActive {
		return apperror.NewForbidden("account is disabled")
	}
	if a.IsLocked(now) {
		return apperror.NewForbidden("account is temporarily locked")
	}
	return nil
}

// RecordFailedLogin increments the failure counter and locks after maxAttempts.
func (a *Actor) RecordFailedLogin(now time.Time, maxAttempts int, lockDuration time.Duration) {
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		a.LockedUntil = &until
	}
}

// RecordSuccessfulLogin resets the failure counter.
func (a *Actor) RecordSuccessfulLogin(now time.Time) {
	a.FailedLoginAttempts = 0
	a.LockedUntil = nil
	a.LastLoginAt = &now
}

// Repository persists actors.
type Repository interface {
	Create(ctx context.Context, actor *Actor) error
	GetByID(ctx context.Context, actorID id.ID) (*Actor, error)
	GetByEmail(ctx context.Context, email string) (*Actor, error)
	// UpdateLoginState writes the login bookkeeping fields.
	UpdateLoginState(ctx context.Context, actor *Actor) error
}
