package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/domain/auth"
	"spendchain/internal/domain/notification"
)

const actorsTable = "actors"

var actorColumns = Columns[auth.Actor]()

// ActorRepo implements auth.Repository and notification.Directory.
type ActorRepo struct {
	txm *TxManager
}

// NewActorRepo creates the actor repository.
func NewActorRepo(txm *TxManager) *ActorRepo {
	return &ActorRepo{txm: txm}
}

var (
	_ auth.Repository        = (*ActorRepo)(nil)
	_ notification.Directory = (*ActorRepo)(nil)
)

func (r *ActorRepo) Create(ctx context.Context, actor *auth.Actor) error {
	sql, args, err := builder().
		Insert(actorsTable).
		SetMap(StructToMap(actor)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txm.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(err, "actor", "insert")
	}
	return nil
}

func (r *ActorRepo) getOne(ctx context.Context, where squirrel.Sqlizer, key string) (*auth.Actor, error) {
	sql, args, err := builder().Select(actorColumns...).From(actorsTable).Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var a auth.Actor
	if err := pgxscan.Get(ctx, r.txm.Querier(ctx), &a, sql, args...); err != nil {
		if notFound(err) {
			return nil, apperror.NewNotFound("actor", key)
		}
		return nil, fmt.Errorf("get actor: %w", err)
	}
	return &a, nil
}

func (r *ActorRepo) GetByID(ctx context.Context, actorID id.ID) (*auth.Actor, error) {
	return r.getOne(ctx, squirrel.Eq{"id": actorID}, actorID.String())
}

func (r *ActorRepo) GetByEmail(ctx context.Context, email string) (*auth.Actor, error) {
	email = strings.ToLower(email)
	return r.getOne(ctx, squirrel.Eq{"email": email}, email)
}

func (r *ActorRepo) UpdateLoginState(ctx context.Context, actor *auth.Actor) error {
	sql, args, err := builder().
		Update(actorsTable).
		Set("failed_login_attempts", actor.FailedLoginAttempts).
		Set("locked_until", actor.LockedUntil).
		Set("last_login_at", actor.LastLoginAt).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": actor.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := r.txm.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(err, "actor", "update")
	}
	return nil
}

// Eligible uses the array overlap operator on profiles and roles.
func (r *ActorRepo) Eligible(ctx context.Context, profiles, roles []string) ([]notification.ActorRef, error) {
	if profiles == nil {
		profiles = []string{}
	}
	if roles == nil {
		roles = []string{}
	}
	sql, args, err := builder().
		Select("id::text AS id", "email", "display_name").
		From(actorsTable).
		Where(squirrel.Eq{"is_active": true}).
		Where(squirrel.Or{
			squirrel.Expr("profiles && ?::text[]", profiles),
			squirrel.Expr("roles && ?::text[]", roles),
		}).
		OrderBy("email").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	out := make([]notification.ActorRef, 0)
	if err := pgxscan.Select(ctx, r.txm.Querier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("eligible actors: %w", err)
	}
	return out, nil
}

func (r *ActorRepo) Actor(ctx context.Context, actorID string) (notification.ActorRef, error) {
	parsed, err := id.Parse(actorID)
	if err != nil {
		return notification.ActorRef{}, apperror.NewNotFound("actor", actorID)
	}
	sql, args, err := builder().
		Select("id::text AS id", "email", "display_name").
		From(actorsTable).
		Where(squirrel.Eq{"id": parsed, "is_active": true}).
		ToSql()
	if err != nil {
		return notification.ActorRef{}, fmt.Errorf("build query: %w", err)
	}
	var ref notification.ActorRef
	if err := pgxscan.Get(ctx, r.txm.Querier(ctx), &ref, sql, args...); err != nil {
		if notFound(err) {
			return notification.ActorRef{}, apperror.NewNotFound("actor", actorID)
		}
		return notification.ActorRef{}, fmt.Errorf("get actor: %w", err)
	}
	return ref, nil
}
