package enums

import "fmt"

// ActorRole is the platform role carried in access tokens.
type ActorRole string

const (
	ActorRoleAdmin         ActorRole = "admin"
	ActorRoleProviderStaff ActorRole = "provider_staff"
	ActorRolePartner       ActorRole = "partner"
	ActorRoleBuyer         ActorRole = "buyer"
	ActorRoleSystem        ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleAdmin,
	ActorRoleProviderStaff,
	ActorRolePartner,
	ActorRoleBuyer,
	ActorRoleSystem,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ActorRole.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}

// ProviderMemberRole is a user's role inside a delivery provider.
type ProviderMemberRole string

const (
	ProviderMemberRolePartner ProviderMemberRole = "partner"
	ProviderMemberRoleStaff   ProviderMemberRole = "staff"
)

var validProviderMemberRoles = []ProviderMemberRole{
	ProviderMemberRolePartner,
	ProviderMemberRoleStaff,
}

// IsValid reports whether the value is a known ProviderMemberRole.
func (r ProviderMemberRole) IsValid() bool {
	for _, candidate := range validProviderMemberRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseProviderMemberRole converts raw input into a ProviderMemberRole.
func ParseProviderMemberRole(value string) (ProviderMemberRole, error) {
	for _, candidate := range validProviderMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider member role %q", value)
}

// ProviderStatus gates whether a provider may receive assignments.
type ProviderStatus string

const (
	ProviderStatusActive    ProviderStatus = "active"
	ProviderStatusSuspended ProviderStatus = "suspended"
)

// IsValid reports whether the value is a known ProviderStatus.
func (s ProviderStatus) IsValid() bool {
	return s == ProviderStatusActive || s == ProviderStatusSuspended
}
