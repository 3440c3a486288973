package deliveries

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// isOwningStaff checks the token claim and the live membership record.
func (s *service) isOwningStaff(ctx context.Context, tx *gorm.DB, actor auth.Actor, delivery *models.Delivery) (bool, error) {
	if !actor.StaffOf(delivery.ProviderID) {
		return false, nil
	}
	return s.providers.IsActiveStaff(ctx, tx, *delivery.ProviderID, actor.UserID)
}

func isAssignedPartner(actor auth.Actor, delivery *models.Delivery) bool {
	return actor.Role == enums.ActorRolePartner &&
		delivery.PartnerID != nil &&
		*delivery.PartnerID == actor.UserID
}

// authorizeTransition enforces who may move a delivery to target.
func (s *service) authorizeTransition(ctx context.Context, tx *gorm.DB, actor auth.Actor, delivery *models.Delivery, target enums.DeliveryStatus, forced bool) error {
	if actor.IsAdmin() {
		return nil
	}
	staff, err := s.isOwningStaff(ctx, tx, actor, delivery)
	if err != nil {
		return err
	}
	if staff {
		return nil
	}
	if forced {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only admins or owning provider staff may force a transition")
	}
	if isAssignedPartner(actor, delivery) {
		if target == enums.DeliveryStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeForbidden, "partners may not cancel deliveries")
		}
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "actor may not transition this delivery")
}

func (s *service) authorizePartnerAssignment(ctx context.Context, tx *gorm.DB, actor auth.Actor, delivery *models.Delivery) error {
	if actor.IsAdmin() {
		return nil
	}
	staff, err := s.isOwningStaff(ctx, tx, actor, delivery)
	if err != nil {
		return err
	}
	if !staff {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only admins or owning provider staff may assign partners")
	}
	return nil
}

// authorizeView lets parties to the delivery read it.
func (s *service) authorizeView(ctx context.Context, actor auth.Actor, delivery *models.Delivery) error {
	switch actor.Role {
	case enums.ActorRoleAdmin:
		return nil
	case enums.ActorRoleBuyer:
		if delivery.BuyerID == actor.UserID {
			return nil
		}
	case enums.ActorRolePartner:
		if isAssignedPartner(actor, delivery) {
			return nil
		}
	case enums.ActorRoleProviderStaff:
		staff, err := s.isOwningStaff(ctx, nil, actor, delivery)
		if err != nil {
			return err
		}
		if staff {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
}
