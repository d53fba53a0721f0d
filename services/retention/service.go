package retention

import (
	"context"
	"time"

	"coursepay-settlement/pkg/config"
	"coursepay-settlement/pkg/errutil"
	"coursepay-settlement/pkg/money"
	"coursepay-settlement/services/earning"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      config.Settlement
	earnings *earning.Service
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Earnings *earning.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      p.Config.Settlement,
		earnings: p.Earnings,
	}
}

// Compute derives the withholding figures for a gross earning. Pure function
// of the amount and the configured jurisdiction rates.
func (s *Service) Compute(gross decimal.Decimal) (isr, iva, total, net decimal.Decimal) {
	isr = money.Round2(money.ApplyRate(gross, money.FromFloat(s.cfg.InstructorTax.ISRRate)))
	iva = money.Round2(money.ApplyRate(gross, money.FromFloat(s.cfg.InstructorTax.IVARate)))
	total = isr.Add(iva)
	net = gross.Sub(total)
	return isr, iva, total, net
}

// Settle creates the retention row for one earning in the given fiscal
// period. The earning must be available (or paid, for recomputation).
// Keyed by (instructor, earning): settling the same earning twice returns
// the already-stored row.
func (s *Service) Settle(ctx context.Context, e *earning.InstructorEarning, month, year int) (*InstructorRetention, error) {
	if e.Status != earning.StatusAvailable && e.Status != earning.StatusPaid {
		return nil, errutil.Conflict("earning is not settleable", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(e.Status)}))
	}

	isr, iva, total, net := s.Compute(e.EarningAmount)

	sendFee := money.Round2(money.ApplyRate(net, money.FromFloat(s.cfg.Commission.SendRate)).
		Add(money.FromFloat(s.cfg.Commission.FixedFee)))

	row := &InstructorRetention{
		RetentionID:          s.node.Generate(),
		InstructorID:         e.InstructorID,
		EarningID:            e.EarningID,
		SaleID:               e.SaleID,
		GrossEarning:         e.EarningAmount,
		ISRRetention:         isr,
		IVARetention:         iva,
		TotalRetention:       total,
		NetPay:               net,
		PaypalSendCommission: sendFee,
		CurrencyCode:         e.CurrencyCode,
		Status:               StatusPending,
		Month:                month,
		Year:                 year,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instructor_id"}, {Name: "earning_id"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		var existing InstructorRetention
		err := s.db.WithContext(ctx).
			Where("instructor_id = ? AND earning_id = ?", e.InstructorID, e.EarningID).
			First(&existing).Error
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}

	return row, nil
}

// SettleMonth settles every available earning of the instructor whose hold
// period expired inside the fiscal period. A failure on one earning is
// recorded and the batch continues.
func (s *Service) SettleMonth(ctx context.Context, instructorID snowflake.ID, month, year int) ([]*InstructorRetention, error) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	var rows []*earning.InstructorEarning
	err := s.db.WithContext(ctx).
		Where("instructor_id = ? AND status = ?", instructorID, earning.StatusAvailable).
		Where("available_at >= ? AND available_at < ?", from, to).
		Order("available_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	settled := make([]*InstructorRetention, 0, len(rows))
	for _, e := range rows {
		ret, err := s.Settle(ctx, e, month, year)
		if err != nil {
			zap.L().Error("failed to settle earning",
				zap.String("earning_id", e.EarningID.String()), zap.Error(err))
			continue
		}
		settled = append(settled, ret)
	}

	return settled, nil
}

// MarkPaid transitions a retention to paid after its payout succeeds.
func (s *Service) MarkPaid(ctx context.Context, retentionID snowflake.ID) (*InstructorRetention, error) {
	return s.transition(ctx, retentionID, StatusPaid)
}

// Declare records a tax filing for the (month, year) batch: every paid
// retention of the period moves to declared and gets the filing's document
// identifier. Pending rows are untouched; declaring never skips paid.
func (s *Service) Declare(ctx context.Context, month, year int, cfdiID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&InstructorRetention{}).
		Where("month = ? AND year = ? AND status = ?", month, year, StatusPaid).
		Updates(map[string]any{
			"status":  StatusDeclared,
			"cfdi_id": cfdiID,
		})
	if res.Error != nil {
		return 0, res.Error
	}

	zap.L().Info("fiscal batch declared",
		zap.Int("month", month), zap.Int("year", year),
		zap.String("cfdi_id", cfdiID), zap.Int64("rows", res.RowsAffected))

	return res.RowsAffected, nil
}

func (s *Service) transition(ctx context.Context, retentionID snowflake.ID, next Status) (*InstructorRetention, error) {
	var row InstructorRetention
	if err := s.db.WithContext(ctx).Where("retention_id = ?", retentionID).First(&row).Error; err != nil {
		return nil, err
	}

	if !row.Status.CanTransitionTo(next) {
		return nil, errutil.Conflict("illegal retention status transition", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "from", Message: string(row.Status)},
				errutil.Detail{Field: "to", Message: string(next)},
			))
	}

	return s.apply(ctx, &row, next)
}

func (s *Service) apply(ctx context.Context, row *InstructorRetention, next Status) (*InstructorRetention, error) {
	res := s.db.WithContext(ctx).Model(row).
		Where("status = ?", row.Status).
		Update("status", next)
	if res.Error != nil {
		return nil, res.Error
	}

	// A concurrent writer got here first; report what the row became
	// instead of pretending the transition happened.
	if res.RowsAffected == 0 {
		var current InstructorRetention
		if err := s.db.WithContext(ctx).Where("retention_id = ?", row.RetentionID).First(&current).Error; err != nil {
			return nil, err
		}
		return nil, errutil.Conflict("retention status changed concurrently", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "status", Message: string(current.Status)},
				errutil.Detail{Field: "attempted", Message: string(next)},
			))
	}

	row.Status = next
	return row, nil
}

var Module = fx.Module("retention.service",
	fx.Provide(NewService),
	fx.Provide(NewScheduler),
	fx.Invoke(RegisterTasks),
	fx.Invoke(StartScheduler),
)
