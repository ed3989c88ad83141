package memory

import (
	"context"
	"slices"
	"strings"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/auth"
	"spendchain/internal/domain/notification"
)

// ActorRepo implements auth.Repository and notification.Directory.
type ActorRepo struct {
	s *Store
}

// Actors returns the actor repository.
func (s *Store) Actors() *ActorRepo {
	return &ActorRepo{s: s}
}

var (
	_ auth.Repository        = (*ActorRepo)(nil)
	_ notification.Directory = (*ActorRepo)(nil)
)

func cloneActor(a *auth.Actor) *auth.Actor {
	c := *a
	c.Profiles = slices.Clone(a.Profiles)
	c.Roles = slices.Clone(a.Roles)
	return &c
}

func (r *ActorRepo) Create(ctx context.Context, actor *auth.Actor) error {
	email := strings.ToLower(actor.Email)
	return r.s.write(ctx, func() (func(), error) {
		if _, exists := r.s.actorEmails[email]; exists {
			return nil, apperror.NewDuplicate("actor", "email", email)
		}
		r.s.actors[actor.ID] = cloneActor(actor)
		r.s.actorEmails[email] = actor.ID
		return func() {
			delete(r.s.actors, actor.ID)
			delete(r.s.actorEmails, email)
		}, nil
	})
}

func (r *ActorRepo) GetByID(ctx context.Context, actorID id.ID) (*auth.Actor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.actors[actorID]
	if !ok {
		return nil, apperror.NewNotFound("actor", actorID.String())
	}
	return cloneActor(a), nil
}

func (r *ActorRepo) GetByEmail(ctx context.Context, email string) (*auth.Actor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	actorID, ok := r.s.actorEmails[strings.ToLower(email)]
	if !ok {
		return nil, apperror.NewNotFound("actor", email)
	}
	return cloneActor(r.s.actors[actorID]), nil
}

func (r *ActorRepo) UpdateLoginState(ctx context.Context, actor *auth.Actor) error {
	return r.s.write(ctx, func() (func(), error) {
		a, ok := r.s.actors[actor.ID]
		if !ok {
			return nil, apperror.NewNotFound("actor", actor.ID.String())
		}
		prev := *a
		a.FailedLoginAttempts = actor.FailedLoginAttempts
		a.LockedUntil = actor.LockedUntil
		a.LastLoginAt = actor.LastLoginAt
		return func() { *a = prev }, nil
	})
}

// SetActive enables or disables an actor.
func (r *ActorRepo) SetActive(ctx context.Context, actorID id.ID, active bool) error {
	return r.s.write(ctx, func() (func(), error) {
		a, ok := r.s.actors[actorID]
		if !ok {
			return nil, apperror.NewNotFound("actor", actorID.String())
		}
		prev := a.IsActive
		a.IsActive = active
		return func() { a.IsActive = prev }, nil
	})
}

func (r *ActorRepo) Eligible(ctx context.Context, profiles, roles []string) ([]notification.ActorRef, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]notification.ActorRef, 0)
	for _, a := range r.s.actors {
		if !a.IsActive || !overlaps(a.Profiles, profiles) && !overlaps(a.Roles, roles) {
			continue
		}
		out = append(out, ref(a))
	}
	slices.SortFunc(out, func(x, y notification.ActorRef) int { return strings.Compare(x.Email, y.Email) })
	return out, nil
}

func (r *ActorRepo) Actor(ctx context.Context, actorID string) (notification.ActorRef, error) {
	parsed, err := id.Parse(actorID)
	if err != nil {
		return notification.ActorRef{}, apperror.NewNotFound("actor", actorID)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.actors[parsed]
	if !ok || !a.IsActive {
		return notification.ActorRef{}, apperror.NewNotFound("actor", actorID)
	}
	return ref(a), nil
}

func ref(a *auth.Actor) notification.ActorRef {
	return notification.ActorRef{ID: a.ID.String(), Email: a.Email, DisplayName: a.DisplayName}
}

func overlaps(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
