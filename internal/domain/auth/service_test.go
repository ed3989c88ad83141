package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"spendchain/internal/core/apperror"
	appctx "spendchain/internal/core/context"
	"spendchain/internal/domain/auth"
	"spendchain/internal/infrastructure/storage/memory"
	"spendchain/pkg/logger"
)

const password = "correct-horse"

func newService(t *testing.T) (*auth.Service, *memory.ActorRepo) {
	t.Helper()
	repo := memory.New().Actors()
	cfg := auth.DefaultServiceConfig()
	cfg.BcryptCost = bcrypt.MinCost
	return auth.NewService(repo, auth.NewJWTService(auth.DefaultJWTConfig("test-secret")), cfg, logger.Nop()), repo
}

func register(t *testing.T, svc *auth.Service) *auth.Actor {
	t.Helper()
	actor, err := svc.Register(context.Background(), " CB@Example.org ", password, "Contrôleur",
		[]string{"controleur_budgetaire"}, []string{"CB"})
	require.NoError(t, err)
	return actor
}

func TestRegister(t *testing.T) {
	svc, _ := newService(t)
	actor := register(t, svc)

	assert.Equal(t, "cb@example.org", actor.Email)
	assert.True(t, actor.IsActive)
	assert.NotEqual(t, password, actor.PasswordHash)

	_, err := svc.Register(context.Background(), "cb@example.org", password, "dup", nil, nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	_, err = svc.Register(context.Background(), "x@example.org", "short", "x", nil, nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = svc.Register(context.Background(), " ", password, "x", nil, nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestLogin(t *testing.T) {
	svc, _ := newService(t)
	actor := register(t, svc)

	token, got, err := svc.Login(context.Background(), auth.Credentials{Email: "cb@example.org", Password: password})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.Equal(t, actor.ID, got.ID)
	assert.NotNil(t, got.LastLoginAt)

	user, err := svc.ValidateToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, actor.ID.String(), user.UserID)
	assert.Equal(t, []string{"controleur_budgetaire"}, user.Profiles)
	assert.Equal(t, []string{"CB"}, user.Roles)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _ := newService(t)
	register(t, svc)

	_, _, err := svc.Login(context.Background(), auth.Credentials{Email: "cb@example.org", Password: "wrong-password"})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnauthorized))

	_, _, err = svc.Login(context.Background(), auth.Credentials{Email: "nobody@example.org", Password: password})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnauthorized), "unknown email looks like a bad password")
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	svc, repo := newService(t)
	actor := register(t, svc)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := svc.Login(ctx, auth.Credentials{Email: "cb@example.org", Password: "wrong-password"})
		require.True(t, apperror.HasCode(err, apperror.CodeUnauthorized), "attempt %d", i)
	}

	_, _, err := svc.Login(ctx, auth.Credentials{Email: "cb@example.org", Password: password})
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden), "locked: %v", err)

	stored, err := repo.GetByID(ctx, actor.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsLocked(time.Now()))
	assert.Equal(t, 5, stored.FailedLoginAttempts)
}

func TestLogin_DisabledActor(t *testing.T) {
	svc, repo := newService(t)
	actor := register(t, svc)
	require.NoError(t, repo.SetActive(context.Background(), actor.ID, false))

	_, _, err := svc.Login(context.Background(), auth.Credentials{Email: "cb@example.org", Password: password})
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden))
}

func TestResolveActor(t *testing.T) {
	svc, repo := newService(t)
	actor := register(t, svc)
	ctx := context.Background()

	// Stale claims are replaced by the stored profiles and roles.
	resolved, err := svc.ResolveActor(ctx, &appctx.UserContext{UserID: actor.ID.String(), Roles: []string{"DG"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"CB"}, resolved.Roles)
	assert.Equal(t, "cb@example.org", resolved.Email)

	require.NoError(t, repo.SetActive(ctx, actor.ID, false))
	_, err = svc.ResolveActor(ctx, &appctx.UserContext{UserID: actor.ID.String()})
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)
	assert.Equal(t, 404, appErr.HTTPStatus)

	_, err = svc.ResolveActor(ctx, &appctx.UserContext{UserID: "01900000-0000-7000-8000-000000000000"})
	assert.True(t, apperror.IsNotFound(err))

	_, err = svc.ResolveActor(ctx, &appctx.UserContext{UserID: "not-an-id"})
	assert.True(t, apperror.HasCode(err, apperror.CodeUnauthorized))
}
