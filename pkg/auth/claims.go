package auth

import (
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	ProviderID *uuid.UUID
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued by user management.
type AccessTokenClaims struct {
	UserID     uuid.UUID       `json:"user_id"`
	Role       enums.ActorRole `json:"role"`
	ProviderID *uuid.UUID      `json:"provider_id,omitempty"`
	jwt.RegisteredClaims
}
