package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendchain/internal/domain/auth"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := auth.NewJWTService(auth.DefaultJWTConfig("secret"))
	actor := auth.NewActor("daf@example.org", "hash", "DAF", []string{"directeur"}, []string{"DAF"})
	actor.IsAdmin = true

	token, expiresAt, err := svc.GenerateAccessToken(actor)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), expiresAt, 5*time.Second)

	user, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, actor.ID.String(), user.UserID)
	assert.Equal(t, "daf@example.org", user.Email)
	assert.True(t, user.IsAdmin)
	assert.True(t, user.HasRole("DAF"))
}

func TestJWT_Rejects(t *testing.T) {
	actor := auth.NewActor("cb@example.org", "hash", "CB", nil, []string{"CB"})
	signer := auth.NewJWTService(auth.DefaultJWTConfig("secret"))
	token, _, err := signer.GenerateAccessToken(actor)
	require.NoError(t, err)

	otherSecret := auth.NewJWTService(auth.DefaultJWTConfig("other"))
	_, err = otherSecret.ValidateToken(token)
	assert.Error(t, err)

	cfg := auth.DefaultJWTConfig("secret")
	cfg.Issuer = "someone-else"
	_, err = auth.NewJWTService(cfg).ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	expiredCfg := auth.DefaultJWTConfig("secret")
	expiredCfg.AccessTokenTTL = -time.Minute
	expired, _, err := auth.NewJWTService(expiredCfg).GenerateAccessToken(actor)
	require.NoError(t, err)
	_, err = signer.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = signer.ValidateToken(token[:strings.LastIndex(token, ".")] + ".tampered")
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{ActorID: actor.ID.String()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = signer.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestActor_LoginState(t *testing.T) {
	now := time.Now()
	a := auth.NewActor("x@example.org", "h", "X", nil, nil)
	require.NoError(t, a.CanLogin(now))

	for i := 0; i < 3; i++ {
		a.RecordFailedLogin(now, 3, time.Minute)
	}
	assert.True(t, a.IsLocked(now))
	assert.False(t, a.IsLocked(now.Add(2*time.Minute)))
	assert.Error(t, a.CanLogin(now))

	a.RecordSuccessfulLogin(now)
	assert.Zero(t, a.FailedLoginAttempts)
	assert.Nil(t, a.LockedUntil)
}
