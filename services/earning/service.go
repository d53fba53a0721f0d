package earning

import (
	"context"
	"sort"
	"time"

	"coursepay-settlement/pkg/config"
	"coursepay-settlement/pkg/errutil"
	"coursepay-settlement/pkg/money"
	"coursepay-settlement/services/sale"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconciler filters earnings whose underlying sale item was refunded.
// Implemented by services/refund; declared here so the ledger does not
// depend on it directly.
type Reconciler interface {
	FilterActive(ctx context.Context, earnings []*InstructorEarning) ([]*InstructorEarning, error)
}

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	cfg        config.Settlement
	reconciler Reconciler
}

type Params struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p Params) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		cfg:  p.Config.Settlement,
	}
}

// SetReconciler installs the refund reconciler after construction. The
// reconciler itself consumes this service, so constructor injection would
// make the value graph cyclic.
func (s *Service) SetReconciler(r Reconciler) {
	s.reconciler = r
}

// RecordEarning recognises one instructor's share of one sale item. Safe
// under concurrent invocation for the same (sale, product, instructor): the
// unique index makes the insert a compare-and-insert, and a lost race simply
// returns the already-stored row.
func (s *Service) RecordEarning(ctx context.Context, sl *sale.Sale, item sale.SaleItem) (*InstructorEarning, error) {
	if item.SaleID != sl.SaleID {
		return nil, errutil.ValidationFailed("sale item does not belong to sale", nil)
	}

	gross := item.SalePrice().Mul(decimal.NewFromInt(int64(item.Quantity)))
	amount, commission := s.split(gross)

	now := time.Now().UTC()
	status := StatusPending
	availableAt := now.AddDate(0, 0, s.cfg.HoldPeriodDays)
	if s.cfg.HoldPeriodDays == 0 {
		status = StatusAvailable
	}

	row := &InstructorEarning{
		EarningID:                s.node.Generate(),
		InstructorID:             item.InstructorID,
		SaleID:                   sl.SaleID,
		ItemID:                   item.ItemID,
		ProductID:                item.ProductID,
		ProductType:              item.ProductType,
		ProductName:              item.ProductName,
		SalePrice:                gross,
		CurrencyCode:             item.CurrencyCode,
		PlatformCommissionRate:   money.FromFloat(s.cfg.PlatformCommissionRate),
		PlatformCommissionAmount: commission,
		EarningAmount:            amount,
		Status:                   status,
		EarnedAt:                 now,
		AvailableAt:              availableAt,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instructor_id"}, {Name: "sale_id"}, {Name: "product_id"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		// Lost the race or replayed the sale; the stored row wins.
		var existing InstructorEarning
		err := s.db.WithContext(ctx).
			Where("instructor_id = ? AND sale_id = ? AND product_id = ?",
				item.InstructorID, sl.SaleID, item.ProductID).
			First(&existing).Error
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}

	zap.L().Info("earning recorded",
		zap.String("earning_id", row.EarningID.String()),
		zap.String("instructor_id", item.InstructorID.String()),
		zap.String("sale_id", sl.SaleID.String()),
		zap.String("amount", amount.String()),
		zap.String("status", string(status)),
	)

	return row, nil
}

// split nets out the receive-side gateway fee, then divides the remainder by
// the configured platform commission rate. The platform keeps
// rate*net, the instructor the rest.
func (s *Service) split(gross decimal.Decimal) (instructor, platform decimal.Decimal) {
	fee := money.Round2(money.ApplyRate(gross, money.FromFloat(s.cfg.Commission.ReceiveRate)).
		Add(money.FromFloat(s.cfg.Commission.FixedFee)))
	net := gross.Sub(fee)

	platformCut := money.Round2(money.ApplyRate(net, money.FromFloat(s.cfg.PlatformCommissionRate)))
	instructorCut := net.Sub(platformCut)

	return instructorCut, gross.Sub(instructorCut)
}

// EnrollStudent grants course access after a successful sale. Duplicate
// calls are a no-op, not an error.
func (s *Service) EnrollStudent(ctx context.Context, userID, courseID snowflake.ID) error {
	row := &Enrollment{
		EnrollmentID: s.node.Generate(),
		UserID:       userID,
		CourseID:     courseID,
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoNothing: true,
	}).Create(row).Error
}

// ListEarnings returns the instructor's earnings matching the filter, after
// refund reconciliation. An earning whose sale item has a completed refund
// never surfaces unless the caller explicitly asked for refunded records.
func (s *Service) ListEarnings(ctx context.Context, instructorID snowflake.ID, filter ListFilter) ([]*InstructorEarning, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []Status{StatusPending, StatusAvailable}
		if filter.IncludeRefunded {
			statuses = append(statuses, StatusRefunded)
		}
	}

	q := s.db.WithContext(ctx).
		Where("instructor_id = ?", instructorID).
		Where("status IN ?", statuses)

	if !filter.From.IsZero() {
		q = q.Where("earned_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("earned_at < ?", filter.To)
	}

	var rows []*InstructorEarning
	if err := q.Order("earned_at").Find(&rows).Error; err != nil {
		zap.L().Error("failed to query earnings", zap.Error(err))
		return nil, err
	}

	if s.reconciler == nil {
		return rows, nil
	}

	active, err := s.reconciler.FilterActive(ctx, rows)
	if err != nil {
		return nil, err
	}

	if filter.IncludeRefunded {
		return rows, nil
	}

	return active, nil
}

// SumByCurrency aggregates earnings grouped by currency. Grouping happens
// before any addition so mismatched currencies are never summed.
func SumByCurrency(earnings []*InstructorEarning) []Totals {
	byCurrency := make(map[string]*Totals)
	for _, e := range earnings {
		tot, ok := byCurrency[e.CurrencyCode]
		if !ok {
			tot = &Totals{CurrencyCode: e.CurrencyCode}
			byCurrency[e.CurrencyCode] = tot
		}
		tot.Count++
		tot.SalePrice = tot.SalePrice.Add(e.SalePrice)
		tot.Earnings = tot.Earnings.Add(e.EarningAmount)
	}

	out := make([]Totals, 0, len(byCurrency))
	for _, tot := range byCurrency {
		out = append(out, *tot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrencyCode < out[j].CurrencyCode })

	return out
}

// Release moves a pending earning to available once its hold period expires.
func (s *Service) Release(ctx context.Context, earningID snowflake.ID) (*InstructorEarning, error) {
	return s.transition(ctx, earningID, StatusAvailable)
}

// MarkPaid records a successful payout of an available earning.
func (s *Service) MarkPaid(ctx context.Context, earningID snowflake.ID) (*InstructorEarning, error) {
	return s.transition(ctx, earningID, StatusPaid)
}

// Complete closes out a paid earning after fiscal settlement.
func (s *Service) Complete(ctx context.Context, earningID snowflake.ID) (*InstructorEarning, error) {
	return s.transition(ctx, earningID, StatusCompleted)
}

// ForceRefund marks the earning refunded regardless of its current
// non-terminal state. One-way; calling it on an already refunded earning is
// a no-op.
func (s *Service) ForceRefund(ctx context.Context, earningID snowflake.ID) (*InstructorEarning, error) {
	var row InstructorEarning
	if err := s.db.WithContext(ctx).Where("earning_id = ?", earningID).First(&row).Error; err != nil {
		return nil, err
	}

	if row.Status == StatusRefunded {
		return &row, nil
	}

	if row.Status.Terminal() {
		return nil, errutil.Conflict("earning already settled, cannot refund", nil)
	}

	return s.apply(ctx, &row, StatusRefunded)
}

func (s *Service) transition(ctx context.Context, earningID snowflake.ID, next Status) (*InstructorEarning, error) {
	var row InstructorEarning
	if err := s.db.WithContext(ctx).Where("earning_id = ?", earningID).First(&row).Error; err != nil {
		return nil, err
	}

	if !row.Status.CanTransitionTo(next) {
		return nil, errutil.Conflict("illegal earning status transition", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "from", Message: string(row.Status)},
				errutil.Detail{Field: "to", Message: string(next)},
			))
	}

	return s.apply(ctx, &row, next)
}

func (s *Service) apply(ctx context.Context, row *InstructorEarning, next Status) (*InstructorEarning, error) {
	res := s.db.WithContext(ctx).Model(row).
		Where("status = ?", row.Status).
		Update("status", next)
	if res.Error != nil {
		return nil, res.Error
	}

	// Zero rows means a concurrent writer moved the earning first; the
	// transition must be re-validated against what actually won.
	if res.RowsAffected == 0 {
		var current InstructorEarning
		if err := s.db.WithContext(ctx).Where("earning_id = ?", row.EarningID).First(&current).Error; err != nil {
			return nil, err
		}
		return nil, errutil.Conflict("earning status changed concurrently", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "status", Message: string(current.Status)},
				errutil.Detail{Field: "attempted", Message: string(next)},
			))
	}

	row.Status = next
	return row, nil
}

var Module = fx.Module("earning.service",
	fx.Provide(NewService),
)
