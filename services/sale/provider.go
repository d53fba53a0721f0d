package sale

import (
	"context"
	"errors"

	"coursepay-settlement/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Provider is the contract the settlement engine consumes from the sales
// subsystem.
type Provider interface {
	// CompletedSale returns a sale in completed status, items included.
	CompletedSale(ctx context.Context, id snowflake.ID) (*Sale, error)
	// RefundStatus reports the refund lifecycle state of one sale item.
	RefundStatus(ctx context.Context, saleID, itemID snowflake.ID) (RefundState, error)
	// Item returns a single sale line, refund quantities included.
	Item(ctx context.Context, saleID, itemID snowflake.ID) (*SaleItem, error)
}

// GormProvider reads the sale tables directly. Deployments where the sales
// subsystem is remote swap in their own Provider.
type GormProvider struct {
	db *gorm.DB
}

func NewGormProvider(db *gorm.DB) *GormProvider {
	return &GormProvider{db: db}
}

func (p *GormProvider) CompletedSale(ctx context.Context, id snowflake.ID) (*Sale, error) {
	var s Sale
	err := p.db.WithContext(ctx).
		Preload("Items").
		Where("sale_id = ? AND status = ?", id, StatusCompleted).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("completed sale not found", err)
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func (p *GormProvider) RefundStatus(ctx context.Context, saleID, itemID snowflake.ID) (RefundState, error) {
	item, err := p.Item(ctx, saleID, itemID)
	if err != nil {
		return RefundNone, err
	}

	if item.RefundStatus == "" {
		return RefundNone, nil
	}

	return item.RefundStatus, nil
}

func (p *GormProvider) Item(ctx context.Context, saleID, itemID snowflake.ID) (*SaleItem, error) {
	var item SaleItem
	err := p.db.WithContext(ctx).
		Where("sale_id = ? AND item_id = ?", saleID, itemID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("sale item not found", err)
	}
	if err != nil {
		return nil, err
	}

	return &item, nil
}

var Module = fx.Module("sale.provider",
	fx.Provide(
		NewGormProvider,
		func(p *GormProvider) Provider { return p },
	),
)
