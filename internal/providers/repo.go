package providers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Repository persists the provider registry mirrored from user management.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertProvider(ctx context.Context, provider *models.Provider) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	List(ctx context.Context) ([]models.Provider, error)
	UpsertMember(ctx context.Context, member *models.ProviderMember) error
	FindMember(ctx context.Context, providerID, userID uuid.UUID) (*models.ProviderMember, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) UpsertProvider(ctx context.Context, provider *models.Provider) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "status", "verified", "commission_type", "commission_rate", "updated_at"}),
		}).
		Create(provider).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var provider models.Provider
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *repository) List(ctx context.Context) ([]models.Provider, error) {
	var rows []models.Provider
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.ProviderStatusActive).
		Order("name ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) UpsertMember(ctx context.Context, member *models.ProviderMember) error {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "active", "updated_at"}),
		}).
		Create(member).Error
}

func (r *repository) FindMember(ctx context.Context, providerID, userID uuid.UUID) (*models.ProviderMember, error) {
	var member models.ProviderMember
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND user_id = ?", providerID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}
