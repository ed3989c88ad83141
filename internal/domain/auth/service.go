package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"spendchain/internal/core/apperror"
	appctx "spendchain/internal/core/context"
	"spendchain/internal/core/id"
	"spendchain/pkg/logger"
)

// ServiceConfig holds auth service configuration.
type ServiceConfig struct {
	MaxLoginAttempts int
	LockDuration     time.Duration
	BcryptCost       int
}

// DefaultServiceConfig returns default configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxLoginAttempts: 5,
		LockDuration:     15 * time.Minute,
		BcryptCost:       bcrypt.DefaultCost,
	}
}

// Credentials are a login attempt.
type Credentials struct {
	Email    string
	Password string
}

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service authenticates actors.
type Service struct {
	repo   Repository
	jwt    *JWTService
	config ServiceConfig
	log    *logger.Logger
	now    func() time.Time
}

// NewService creates an auth service.
func NewService(repo Repository, jwtService *JWTService, config ServiceConfig, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		jwt:    jwtService,
		config: config,
		log:    log.WithComponent("auth"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HashPassword hashes a password with bcrypt.
func (s *Service) HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", apperror.NewValidation("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Register creates an actor with a hashed password.
func (s *Service) Register(ctx context.Context, email, password, displayName string, profiles, roles []string) (*Actor, error) {
	if strings.TrimSpace(email) == "" {
		return nil, apperror.NewValidation("email is required").WithDetail("field", "email")
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}
	actor := NewActor(email, hash, displayName, profiles, roles)
	if err := s.repo.Create(ctx, actor); err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).Infow("actor registered", "actor_id", actor.ID, "email", actor.Email)
	return actor, nil
}

// Login verifies credentials and issues an access token.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Token, *Actor, error) {
	actor, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(creds.Email)))
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, nil, apperror.NewUnauthorized("invalid credentials")
		}
		return nil, nil, err
	}

	now := s.now()
	if err := actor.CanLogin(now); err != nil {
		return nil, nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(creds.Password)); err != nil {
		actor.RecordFailedLogin(now, s.config.MaxLoginAttempts, s.config.LockDuration)
		if uerr := s.repo.UpdateLoginState(ctx, actor); uerr != nil {
			s.log.WithContext(ctx).Warnw("failed to record failed login", "actor_id", actor.ID, "error", uerr)
		}
		return nil, nil, apperror.NewUnauthorized("invalid credentials")
	}

	access, expiresAt, err := s.jwt.GenerateAccessToken(actor)
	if err != nil {
		return nil, nil, err
	}

	actor.RecordSuccessfulLogin(now)
	if err := s.repo.UpdateLoginState(ctx, actor); err != nil {
		s.log.WithContext(ctx).Warnw("failed to record login", "actor_id", actor.ID, "error", err)
	}

	s.log.WithContext(ctx).Infow("actor logged in", "actor_id", actor.ID, "email", actor.Email)
	return &Token{AccessToken: access, TokenType: "Bearer", ExpiresAt: expiresAt}, actor, nil
}

// ValidateToken validates a bearer token.
func (s *Service) ValidateToken(token string) (*appctx.UserContext, error) {
	return s.jwt.ValidateToken(token)
}

// ResolveActor checks that the actor named by a token still exists and is
// active, and refreshes its profiles and roles from the store.
func (s *Service) ResolveActor(ctx context.Context, user *appctx.UserContext) (*appctx.UserContext, error) {
	actorID, err := id.Parse(user.UserID)
	if err != nil {
		return nil, apperror.NewUnauthorized("invalid token subject")
	}
	actor, err := s.repo.GetByID(ctx, actorID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("actor profile", user.UserID)
		}
		return nil, err
	}
	if !actor.IsActive {
		return nil, apperror.NewNotFound("actor profile", user.UserID).WithDetail("reason", "inactive")
	}
	resolved := *user
	resolved.Email = actor.Email
	resolved.DisplayName = actor.DisplayName
	resolved.Profiles = actor.Profiles
	resolved.Roles = actor.Roles
	resolved.IsAdmin = actor.IsAdmin
	return &resolved, nil
}
