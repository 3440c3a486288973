package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/commission"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// Service exposes the provider registry and the membership checks the
// settlement engine relies on.
type Service interface {
	UpsertProvider(ctx context.Context, input UpsertProviderInput) (*models.Provider, error)
	UpsertMember(ctx context.Context, input UpsertMemberInput) (*models.ProviderMember, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	ListActive(ctx context.Context) ([]models.Provider, error)

	RequireAssignable(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) (*models.Provider, error)
	RequirePartner(ctx context.Context, tx *gorm.DB, providerID, partnerID uuid.UUID) error
	IsActiveStaff(ctx context.Context, tx *gorm.DB, providerID, userID uuid.UUID) (bool, error)
	PolicySnapshot(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) (commission.Policy, error)
}

type UpsertProviderInput struct {
	ID             uuid.UUID
	Name           string
	Status         enums.ProviderStatus
	Verified       bool
	CommissionType enums.CommissionType
	CommissionRate decimal.Decimal
	Actor          auth.Actor
}

type UpsertMemberInput struct {
	ProviderID uuid.UUID
	UserID     uuid.UUID
	Role       enums.ProviderMemberRole
	Active     bool
	Actor      auth.Actor
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("providers repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) UpsertProvider(ctx context.Context, input UpsertProviderInput) (*models.Provider, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may sync providers")
	}
	if input.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider id required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider name required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid provider status")
	}
	policy := commission.Policy{Type: input.CommissionType, Rate: input.CommissionRate}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	row := &models.Provider{
		ID:             input.ID,
		Name:           name,
		Status:         input.Status,
		Verified:       input.Verified,
		CommissionType: input.CommissionType,
		CommissionRate: input.CommissionRate,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.repo.UpsertProvider(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert provider")
	}
	return row, nil
}

func (s *service) UpsertMember(ctx context.Context, input UpsertMemberInput) (*models.ProviderMember, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may sync provider members")
	}
	if input.ProviderID == uuid.Nil || input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider id and user id required")
	}
	if !input.Role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid member role")
	}
	provider, err := s.repo.FindByID(ctx, input.ProviderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider")
	}
	if provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
	}

	row := &models.ProviderMember{
		ProviderID: input.ProviderID,
		UserID:     input.UserID,
		Role:       input.Role,
		Active:     input.Active,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.repo.UpsertMember(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert provider member")
	}
	return row, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	return s.load(ctx, s.repo, id)
}

func (s *service) ListActive(ctx context.Context) ([]models.Provider, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list providers")
	}
	return rows, nil
}

// RequireAssignable loads the provider and checks it may receive deliveries.
func (s *service) RequireAssignable(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) (*models.Provider, error) {
	provider, err := s.load(ctx, s.repo.WithTx(tx), providerID)
	if err != nil {
		return nil, err
	}
	if provider.Status != enums.ProviderStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "provider is not active")
	}
	if !provider.Verified {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "provider is not verified")
	}
	return provider, nil
}

// RequirePartner checks partnerID is an active partner of providerID.
func (s *service) RequirePartner(ctx context.Context, tx *gorm.DB, providerID, partnerID uuid.UUID) error {
	member, err := s.repo.WithTx(tx).FindMember(ctx, providerID, partnerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider member")
	}
	if member == nil || !member.Active {
		return pkgerrors.New(pkgerrors.CodeValidation, "partner is not an active member of the provider")
	}
	if member.Role != enums.ProviderMemberRolePartner {
		return pkgerrors.New(pkgerrors.CodeValidation, "member does not hold the partner role")
	}
	return nil
}

func (s *service) IsActiveStaff(ctx context.Context, tx *gorm.DB, providerID, userID uuid.UUID) (bool, error) {
	member, err := s.repo.WithTx(tx).FindMember(ctx, providerID, userID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider member")
	}
	return member != nil && member.Active && member.Role == enums.ProviderMemberRoleStaff, nil
}

// PolicySnapshot returns the provider's commission policy as of now. Callers
// persist the snapshot alongside the commission so history stays reproducible.
func (s *service) PolicySnapshot(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) (commission.Policy, error) {
	provider, err := s.load(ctx, s.repo.WithTx(tx), providerID)
	if err != nil {
		return commission.Policy{}, err
	}
	return commission.Policy{Type: provider.CommissionType, Rate: provider.CommissionRate}, nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Provider, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider id required")
	}
	provider, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider")
	}
	if provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider not found")
	}
	return provider, nil
}
