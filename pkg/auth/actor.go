package auth

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
)

// Actor is the authenticated principal behind a settlement operation.
type Actor struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	ProviderID *uuid.UUID
}

// SystemActor represents background sweeps and consumers.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

// ActorFromClaims maps verified token claims onto an Actor.
func ActorFromClaims(claims *AccessTokenClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{
		UserID:     claims.UserID,
		Role:       claims.Role,
		ProviderID: claims.ProviderID,
	}
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin
}

func (a Actor) IsSystem() bool {
	return a.Role == enums.ActorRoleSystem
}

// StaffOf reports whether the actor claims staff membership of providerID.
// Membership itself is verified against the provider registry by callers.
func (a Actor) StaffOf(providerID *uuid.UUID) bool {
	if a.Role != enums.ActorRoleProviderStaff || a.ProviderID == nil || providerID == nil {
		return false
	}
	return *a.ProviderID == *providerID
}

// UserIDPtr returns nil for system actors.
func (a Actor) UserIDPtr() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// Ref converts the actor into the outbox envelope representation.
func (a Actor) Ref() *outbox.ActorRef {
	return &outbox.ActorRef{
		UserID:     a.UserIDPtr(),
		Role:       string(a.Role),
		ProviderID: a.ProviderID,
	}
}
