package dto

import (
	"time"

	"spendchain/internal/domain/auth"
)

// LoginRequest for actor login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// ToCredentials converts to domain credentials.
func (r *LoginRequest) ToCredentials() auth.Credentials {
	return auth.Credentials{Email: r.Email, Password: r.Password}
}

// ActorResponse is the public view of an actor.
type ActorResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Profiles    []string `json:"profiles"`
	Roles       []string `json:"roles"`
}

// FromActor builds an ActorResponse.
func FromActor(a *auth.Actor) ActorResponse {
	return ActorResponse{
		ID:          a.ID.String(),
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Profiles:    a.Profiles,
		Roles:       a.Roles,
	}
}

// LoginResponse carries the access token and the actor.
type LoginResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Actor       ActorResponse `json:"actor"`
}
