package breakdown

import (
	"context"

	"coursepay-settlement/pkg/config"
	"coursepay-settlement/pkg/errutil"
	"coursepay-settlement/pkg/money"
	"coursepay-settlement/services/sale"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	sales sale.Provider
	cfg   config.Settlement
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Sales  sale.Provider
	Config *config.Config
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		sales: p.Sales,
		cfg:   p.Config.Settlement,
	}
}

// Compute derives the full commission split of a sale amount. It is a pure
// function of the amount and the configured rates: calling it twice always
// yields identical figures, which is what makes recomputation safe.
//
// The receive-side gateway commission is netted out of the sale amount
// BEFORE the 50/50 split. Operating profit therefore subtracts only the
// send-side commission from the platform share; subtracting the receive
// commission again here would double-count it.
func (s *Service) Compute(amount decimal.Decimal) Figures {
	receiveRate := money.FromFloat(s.cfg.Commission.ReceiveRate)
	sendRate := money.FromFloat(s.cfg.Commission.SendRate)
	fixedFee := money.FromFloat(s.cfg.Commission.FixedFee)

	receive := money.Round2(money.ApplyRate(amount, receiveRate).Add(fixedFee))
	net := amount.Sub(receive)

	share := money.Half(net)

	send := money.Round2(money.ApplyRate(share, sendRate).Add(fixedFee))
	operating := share.Sub(send)

	isr := money.ApplyRate(operating, money.FromFloat(s.cfg.PlatformTax.ISRRate))
	iva := money.ApplyRate(operating, money.FromFloat(s.cfg.PlatformTax.IVARate))
	netProfit := operating.Sub(isr.Add(iva))

	instISR := money.ApplyRate(share, money.FromFloat(s.cfg.InstructorTax.ISRRate))
	instIVA := money.ApplyRate(share, money.FromFloat(s.cfg.InstructorTax.IVARate))

	return Figures{
		SaleAmount:              amount,
		PaypalReceiveCommission: receive,
		PaypalSendCommission:    send,
		PlatformShare:           share,
		InstructorShare:         share,
		PlatformOperatingProfit: operating,
		PlatformISR:             isr,
		PlatformIVA:             iva,
		PlatformNetProfit:       netProfit,
		InstructorISR:           money.Round2(instISR),
		InstructorIVA:           money.Round2(instIVA),
		InstructorNetPay:        share.Sub(money.Round2(instISR).Add(money.Round2(instIVA))),
	}
}

// Verify checks that the figures still conserve money before they are
// allowed anywhere near storage.
func Verify(f Figures) error {
	parts := f.PlatformShare.Add(f.InstructorShare).Add(f.PaypalReceiveCommission)
	if !money.WithinEpsilon(f.SaleAmount, parts) {
		return errutil.Internal("breakdown does not conserve sale amount", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "sale_amount", Message: f.SaleAmount.String()},
				errutil.Detail{Field: "sum_of_parts", Message: parts.String()},
			))
	}

	if !f.PlatformOperatingProfit.Equal(f.PlatformShare.Sub(f.PaypalSendCommission)) {
		return errutil.Internal("operating profit must subtract only the send commission", nil)
	}

	return nil
}

// Process computes and persists the breakdown for one completed sale.
// Create-if-absent on the sale's unique index; reprocessing the same sale
// updates the existing row in place and never duplicates it.
func (s *Service) Process(ctx context.Context, saleID snowflake.ID) (*CommissionBreakdown, error) {
	sl, err := s.sales.CompletedSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	figures := s.Compute(sl.Amount)
	if err := Verify(figures); err != nil {
		zap.L().Error("refusing to persist inconsistent breakdown",
			zap.String("sale_id", saleID.String()), zap.Error(err))
		return nil, err
	}

	row := &CommissionBreakdown{
		BreakdownID:             s.node.Generate(),
		SaleID:                  sl.SaleID,
		SaleAmount:              figures.SaleAmount,
		CurrencyCode:            sl.CurrencyCode,
		PaypalReceiveCommission: figures.PaypalReceiveCommission,
		PaypalSendCommission:    figures.PaypalSendCommission,
		PlatformShare:           figures.PlatformShare,
		InstructorShare:         figures.InstructorShare,
		PlatformOperatingProfit: figures.PlatformOperatingProfit,
		PlatformISR:             figures.PlatformISR,
		PlatformIVA:             figures.PlatformIVA,
		PlatformNetProfit:       figures.PlatformNetProfit,
		InstructorISR:           figures.InstructorISR,
		InstructorIVA:           figures.InstructorIVA,
		InstructorNetPay:        figures.InstructorNetPay,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sale_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sale_amount", "currency_code",
			"paypal_receive_commission", "paypal_send_commission",
			"platform_share", "instructor_share",
			"platform_operating_profit", "platform_isr", "platform_iva",
			"platform_net_profit",
			"instructor_isr", "instructor_iva", "instructor_net_pay",
			"updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	var stored CommissionBreakdown
	if err := s.db.WithContext(ctx).Where("sale_id = ?", sl.SaleID).First(&stored).Error; err != nil {
		return nil, err
	}

	return &stored, nil
}

// Recompute replays Process over every stored breakdown. It exists to
// correct historical rows after a rate or formula fix; determinism of
// Compute guarantees untouched rows come out identical.
func (s *Service) Recompute(ctx context.Context) (int, error) {
	var rows []CommissionBreakdown
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return 0, err
	}

	updated := 0
	for _, row := range rows {
		if _, err := s.Process(ctx, row.SaleID); err != nil {
			zap.L().Error("recompute failed for sale",
				zap.String("sale_id", row.SaleID.String()), zap.Error(err))
			continue
		}
		updated++
	}

	return updated, nil
}

var Module = fx.Module("breakdown.service",
	fx.Provide(NewService),
)
