package earning

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coursepay-settlement/pkg/config"
	"coursepay-settlement/pkg/errutil"
	"coursepay-settlement/services/sale"
	"coursepay-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig(holdDays int) *config.Config {
	cfg := &config.Config{}
	cfg.Settlement.Currency = "USD"
	cfg.Settlement.Commission.ReceiveRate = 0.04
	cfg.Settlement.Commission.SendRate = 0.04
	cfg.Settlement.Commission.FixedFee = 4
	cfg.Settlement.HoldPeriodDays = holdDays
	cfg.Settlement.PlatformCommissionRate = 0.5
	return cfg
}

func newTestService(t *testing.T, holdDays int) (*Service, *snowflake.Node, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &InstructorEarning{}, &Enrollment{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:     db,
		Node:   node,
		Config: testConfig(holdDays),
	})

	return svc, node, db
}

func newSaleItem(node *snowflake.Node, price string, qty int) (*sale.Sale, sale.SaleItem) {
	sl := &sale.Sale{
		SaleID:       node.Generate(),
		BuyerID:      node.Generate(),
		Amount:       decimal.RequireFromString(price),
		CurrencyCode: "USD",
		Status:       sale.StatusCompleted,
	}
	item := sale.SaleItem{
		ItemID:       node.Generate(),
		SaleID:       sl.SaleID,
		ProductID:    node.Generate(),
		ProductType:  sale.ProductCourse,
		ProductName:  "Intro to Cooking",
		InstructorID: node.Generate(),
		ListPrice:    decimal.RequireFromString(price),
		Discount:     decimal.Zero,
		Quantity:     qty,
		CurrencyCode: "USD",
	}
	return sl, item
}

// A $100 item with a 4%+$4 receive fee and a 50% commission nets the
// instructor $46.00.
func TestRecordEarningAmount(t *testing.T) {
	svc, node, _ := newTestService(t, 0)

	sl, item := newSaleItem(node, "100.00", 1)
	e, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)

	require.True(t, e.EarningAmount.Equal(decimal.RequireFromString("46.00")), "earning = %s", e.EarningAmount)
	require.True(t, e.PlatformCommissionAmount.Equal(decimal.RequireFromString("54.00")), "commission = %s", e.PlatformCommissionAmount)
	require.True(t, e.EarningAmount.Add(e.PlatformCommissionAmount).Equal(e.SalePrice), "earning + commission must equal gross")
}

func TestRecordEarningIdempotent(t *testing.T) {
	svc, node, db := newTestService(t, 0)

	sl, item := newSaleItem(node, "100.00", 1)

	first, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)
	second, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)

	require.Equal(t, first.EarningID, second.EarningID)
	require.True(t, first.EarningAmount.Equal(second.EarningAmount))

	var count int64
	require.NoError(t, db.Model(&InstructorEarning{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRecordEarningRejectsForeignItem(t *testing.T) {
	svc, node, _ := newTestService(t, 0)

	sl, item := newSaleItem(node, "100.00", 1)
	item.SaleID = node.Generate()

	_, err := svc.RecordEarning(context.Background(), sl, item)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestRecordEarningHoldPeriod(t *testing.T) {
	svc, node, _ := newTestService(t, 14)

	sl, item := newSaleItem(node, "100.00", 1)
	e, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)

	require.Equal(t, StatusPending, e.Status)
	require.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 14), e.AvailableAt, time.Minute)
}

func TestRecordEarningNoHoldIsImmediatelyAvailable(t *testing.T) {
	svc, node, _ := newTestService(t, 0)

	sl, item := newSaleItem(node, "100.00", 1)
	e, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)

	require.Equal(t, StatusAvailable, e.Status)
}

func TestRecordEarningQuantity(t *testing.T) {
	svc, node, _ := newTestService(t, 0)

	sl, item := newSaleItem(node, "50.00", 2)
	e, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)

	require.True(t, e.SalePrice.Equal(decimal.RequireFromString("100.00")), "gross = %s", e.SalePrice)
	require.True(t, e.EarningAmount.Equal(decimal.RequireFromString("46.00")), "earning = %s", e.EarningAmount)
}

func TestEnrollStudentIdempotent(t *testing.T) {
	svc, node, db := newTestService(t, 0)

	userID, courseID := node.Generate(), node.Generate()
	require.NoError(t, svc.EnrollStudent(context.Background(), userID, courseID))
	require.NoError(t, svc.EnrollStudent(context.Background(), userID, courseID))

	var count int64
	require.NoError(t, db.Model(&Enrollment{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestListEarningsDefaultsToActive(t *testing.T) {
	svc, node, _ := newTestService(t, 0)

	instructorID := node.Generate()

	for _, status := range []Status{StatusAvailable, StatusPending, StatusRefunded, StatusCompleted} {
		sl, item := newSaleItem(node, "100.00", 1)
		item.InstructorID = instructorID
		e, err := svc.RecordEarning(context.Background(), sl, item)
		require.NoError(t, err)
		require.NoError(t, svc.db.Model(e).Update("status", status).Error)
	}

	rows, err := svc.ListEarnings(context.Background(), instructorID, ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, e := range rows {
		require.Contains(t, []Status{StatusPending, StatusAvailable}, e.Status)
	}
}

func TestListEarningsIncludeRefunded(t *testing.T) {
	svc, node, _ := newTestService(t, 0)

	instructorID := node.Generate()

	for _, status := range []Status{StatusAvailable, StatusRefunded} {
		sl, item := newSaleItem(node, "100.00", 1)
		item.InstructorID = instructorID
		e, err := svc.RecordEarning(context.Background(), sl, item)
		require.NoError(t, err)
		require.NoError(t, svc.db.Model(e).Update("status", status).Error)
	}

	rows, err := svc.ListEarnings(context.Background(), instructorID, ListFilter{IncludeRefunded: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestListEarningsDateRange(t *testing.T) {
	svc, node, _ := newTestService(t, 0)

	instructorID := node.Generate()
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		sl, item := newSaleItem(node, "100.00", 1)
		item.InstructorID = instructorID
		e, err := svc.RecordEarning(context.Background(), sl, item)
		require.NoError(t, err)
		require.NoError(t, svc.db.Model(e).Update("earned_at", base.AddDate(0, i, 0)).Error)
	}

	rows, err := svc.ListEarnings(context.Background(), instructorID, ListFilter{
		From: base.AddDate(0, 1, 0),
		To:   base.AddDate(0, 2, 0),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestSumByCurrencyNeverMixesCurrencies(t *testing.T) {
	earnings := []*InstructorEarning{
		{CurrencyCode: "USD", SalePrice: decimal.RequireFromString("100"), EarningAmount: decimal.RequireFromString("46")},
		{CurrencyCode: "USD", SalePrice: decimal.RequireFromString("50"), EarningAmount: decimal.RequireFromString("22")},
		{CurrencyCode: "MXN", SalePrice: decimal.RequireFromString("2000"), EarningAmount: decimal.RequireFromString("920")},
	}

	totals := SumByCurrency(earnings)
	require.Len(t, totals, 2)

	require.Equal(t, "MXN", totals[0].CurrencyCode)
	require.Equal(t, 1, totals[0].Count)
	require.True(t, totals[0].Earnings.Equal(decimal.RequireFromString("920")))

	require.Equal(t, "USD", totals[1].CurrencyCode)
	require.Equal(t, 2, totals[1].Count)
	require.True(t, totals[1].SalePrice.Equal(decimal.RequireFromString("150")))
	require.True(t, totals[1].Earnings.Equal(decimal.RequireFromString("68")))
}

func TestEarningLifecycle(t *testing.T) {
	svc, node, _ := newTestService(t, 14)

	sl, item := newSaleItem(node, "100.00", 1)
	e, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.Status)

	e, err = svc.Release(context.Background(), e.EarningID)
	require.NoError(t, err)
	require.Equal(t, StatusAvailable, e.Status)

	e, err = svc.MarkPaid(context.Background(), e.EarningID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, e.Status)

	e, err = svc.Complete(context.Background(), e.EarningID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, e.Status)
}

func TestIllegalTransitionRejected(t *testing.T) {
	svc, node, _ := newTestService(t, 14)

	sl, item := newSaleItem(node, "100.00", 1)
	e, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)

	// pending may not jump straight to paid.
	_, err = svc.MarkPaid(context.Background(), e.EarningID)
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	// completed is terminal.
	_, err = svc.Release(context.Background(), e.EarningID)
	require.NoError(t, err)
	_, err = svc.MarkPaid(context.Background(), e.EarningID)
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), e.EarningID)
	require.NoError(t, err)
	_, err = svc.ForceRefund(context.Background(), e.EarningID)
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))
}

// A writer that loses the optimistic status race must get a Conflict, not a
// success report for a transition that never happened.
func TestTransitionLostRaceIsConflict(t *testing.T) {
	svc, node, db := newTestService(t, 14)

	sl, item := newSaleItem(node, "100.00", 1)
	e, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.Status)

	// Another writer refunds the earning behind this copy's back.
	stale := *e
	require.NoError(t, db.Model(&InstructorEarning{}).
		Where("earning_id = ?", e.EarningID).
		Update("status", StatusRefunded).Error)

	_, err = svc.apply(context.Background(), &stale, StatusAvailable)
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict), "got %v", err)

	var stored InstructorEarning
	require.NoError(t, db.First(&stored, "earning_id = ?", e.EarningID).Error)
	require.Equal(t, StatusRefunded, stored.Status)
}

func TestForceRefundIsIdempotent(t *testing.T) {
	svc, node, _ := newTestService(t, 14)

	sl, item := newSaleItem(node, "100.00", 1)
	e, err := svc.RecordEarning(context.Background(), sl, item)
	require.NoError(t, err)

	e, err = svc.ForceRefund(context.Background(), e.EarningID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, e.Status)

	e, err = svc.ForceRefund(context.Background(), e.EarningID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, e.Status)
}
