// Package refund reconciles instructor earnings against the refund state of
// their underlying sale items.
package refund

import (
	"context"

	"coursepay-settlement/pkg/money"
	"coursepay-settlement/services/earning"
	"coursepay-settlement/services/sale"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	sales    sale.Provider
	earnings *earning.Service
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Sales    sale.Provider
	Earnings *earning.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		sales:    p.Sales,
		earnings: p.Earnings,
	}
}

// FilterActive drops earnings whose sale item has a completed full refund,
// forcing their stored status to refunded on the way out. Partially refunded
// earnings stay listed with their amount reduced proportionally to the
// refunded quantity; that reduction is recomputed from the immutable
// original figures, so replaying it is a no-op.
//
// A lookup failure on one earning is logged and the record kept; it never
// aborts the reconciliation of its siblings.
func (s *Service) FilterActive(ctx context.Context, earnings []*earning.InstructorEarning) ([]*earning.InstructorEarning, error) {
	active := make([]*earning.InstructorEarning, 0, len(earnings))

	for _, e := range earnings {
		state, err := s.sales.RefundStatus(ctx, e.SaleID, e.ItemID)
		if err != nil {
			zap.L().Warn("refund lookup failed, keeping earning listed",
				zap.String("earning_id", e.EarningID.String()), zap.Error(err))
			active = append(active, e)
			continue
		}

		if state != sale.RefundCompleted {
			active = append(active, e)
			continue
		}

		item, err := s.sales.Item(ctx, e.SaleID, e.ItemID)
		if err != nil {
			zap.L().Warn("sale item lookup failed, keeping earning listed",
				zap.String("earning_id", e.EarningID.String()), zap.Error(err))
			active = append(active, e)
			continue
		}

		if partial(item) {
			if err := s.reduceProportionally(ctx, e, item); err != nil {
				return nil, err
			}
			active = append(active, e)
			continue
		}

		updated, err := s.earnings.ForceRefund(ctx, e.EarningID)
		if err != nil {
			zap.L().Error("failed to force refunded status",
				zap.String("earning_id", e.EarningID.String()), zap.Error(err))
			active = append(active, e)
			continue
		}
		e.Status = updated.Status
	}

	return active, nil
}

// partial reports whether only some units of the line were refunded. A
// completed refund without quantity detail counts as full.
func partial(item *sale.SaleItem) bool {
	return item.RefundedQuantity > 0 && item.RefundedQuantity < item.Quantity
}

func (s *Service) reduceProportionally(ctx context.Context, e *earning.InstructorEarning, item *sale.SaleItem) error {
	// The pre-refund earning is always sale price minus the platform cut,
	// both immutable, so the target amount is stable across replays.
	original := e.SalePrice.Sub(e.PlatformCommissionAmount)
	kept := int64(item.Quantity - item.RefundedQuantity)
	target := money.Round2(money.Proportion(original, kept, int64(item.Quantity)))

	if e.EarningAmount.Equal(target) {
		return nil
	}

	err := s.db.WithContext(ctx).Model(e).
		Update("instructor_earning", target).Error
	if err != nil {
		return err
	}

	zap.L().Info("earning reduced for partial refund",
		zap.String("earning_id", e.EarningID.String()),
		zap.String("amount", target.String()),
		zap.Int("refunded_quantity", item.RefundedQuantity),
	)

	e.EarningAmount = target
	return nil
}

var Module = fx.Module("refund.service",
	fx.Provide(
		NewService,
		func(s *Service) earning.Reconciler { return s },
	),
	fx.Invoke(func(e *earning.Service, r earning.Reconciler) {
		e.SetReconciler(r)
	}),
)
