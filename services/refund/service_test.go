package refund

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coursepay-settlement/pkg/config"
	"coursepay-settlement/services/earning"
	"coursepay-settlement/services/sale"
	"coursepay-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Settlement.Currency = "USD"
	cfg.Settlement.Commission.ReceiveRate = 0.04
	cfg.Settlement.Commission.FixedFee = 4
	cfg.Settlement.PlatformCommissionRate = 0.5
	return cfg
}

type fixture struct {
	svc      *Service
	earnings *earning.Service
	node     *snowflake.Node
	db       *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&sale.Sale{}, &sale.SaleItem{},
		&earning.InstructorEarning{}, &earning.Enrollment{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	earnings := earning.NewService(earning.Params{
		DB:     db,
		Node:   node,
		Config: testConfig(),
	})

	svc := NewService(Params{
		DB:       db,
		Sales:    sale.NewGormProvider(db),
		Earnings: earnings,
	})
	earnings.SetReconciler(svc)

	return &fixture{svc: svc, earnings: earnings, node: node, db: db}
}

// seed persists one completed sale with a single item and its earning.
func (f *fixture) seed(t *testing.T, price string, qty int) (*sale.SaleItem, *earning.InstructorEarning) {
	t.Helper()

	sl := &sale.Sale{
		SaleID:       f.node.Generate(),
		BuyerID:      f.node.Generate(),
		Amount:       decimal.RequireFromString(price),
		CurrencyCode: "USD",
		Status:       sale.StatusCompleted,
	}
	require.NoError(t, f.db.Create(sl).Error)

	item := &sale.SaleItem{
		ItemID:       f.node.Generate(),
		SaleID:       sl.SaleID,
		ProductID:    f.node.Generate(),
		ProductType:  sale.ProductCourse,
		InstructorID: f.node.Generate(),
		ListPrice:    decimal.RequireFromString(price),
		Discount:     decimal.Zero,
		Quantity:     qty,
		CurrencyCode: "USD",
	}
	require.NoError(t, f.db.Create(item).Error)

	e, err := f.earnings.RecordEarning(context.Background(), sl, *item)
	require.NoError(t, err)
	return item, e
}

func (f *fixture) markRefunded(t *testing.T, item *sale.SaleItem, refundedQty int) {
	t.Helper()
	require.NoError(t, f.db.Model(item).Updates(map[string]any{
		"refund_status":     sale.RefundCompleted,
		"refunded_quantity": refundedQty,
	}).Error)
}

func TestFilterActiveKeepsUnrefunded(t *testing.T) {
	f := newFixture(t)

	_, e := f.seed(t, "100.00", 1)

	active, err := f.svc.FilterActive(context.Background(), []*earning.InstructorEarning{e})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, e.EarningID, active[0].EarningID)
}

func TestFilterActiveDropsFullRefund(t *testing.T) {
	f := newFixture(t)

	item, e := f.seed(t, "100.00", 1)
	f.markRefunded(t, item, 1)

	active, err := f.svc.FilterActive(context.Background(), []*earning.InstructorEarning{e})
	require.NoError(t, err)
	require.Empty(t, active)

	var stored earning.InstructorEarning
	require.NoError(t, f.db.First(&stored, "earning_id = ?", e.EarningID).Error)
	require.Equal(t, earning.StatusRefunded, stored.Status)
}

func TestFilterActiveFullRefundWithoutQuantityDetail(t *testing.T) {
	f := newFixture(t)

	item, e := f.seed(t, "100.00", 3)
	// Refund completed, no per-unit detail recorded.
	f.markRefunded(t, item, 0)

	active, err := f.svc.FilterActive(context.Background(), []*earning.InstructorEarning{e})
	require.NoError(t, err)
	require.Empty(t, active)

	var stored earning.InstructorEarning
	require.NoError(t, f.db.First(&stored, "earning_id = ?", e.EarningID).Error)
	require.Equal(t, earning.StatusRefunded, stored.Status)
}

func TestPartialRefundReducesProportionally(t *testing.T) {
	f := newFixture(t)

	// 2 units at $50: gross 100, fee 8, instructor keeps 46.
	item, e := f.seed(t, "50.00", 2)
	require.True(t, e.EarningAmount.Equal(decimal.RequireFromString("46.00")))

	f.markRefunded(t, item, 1)

	active, err := f.svc.FilterActive(context.Background(), []*earning.InstructorEarning{e})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, earning.StatusAvailable, active[0].Status)
	require.True(t, active[0].EarningAmount.Equal(decimal.RequireFromString("23.00")), "amount = %s", active[0].EarningAmount)
}

func TestPartialRefundReplayIsStable(t *testing.T) {
	f := newFixture(t)

	item, e := f.seed(t, "30.00", 3)
	f.markRefunded(t, item, 1)

	for i := 0; i < 3; i++ {
		active, err := f.svc.FilterActive(context.Background(), []*earning.InstructorEarning{e})
		require.NoError(t, err)
		require.Len(t, active, 1)
		e = active[0]
	}

	// 3 units at $30: gross 90, fee 7.60, instructor 41.20; two thirds kept.
	require.True(t, e.EarningAmount.Equal(decimal.RequireFromString("27.47")), "amount = %s", e.EarningAmount)

	var stored earning.InstructorEarning
	require.NoError(t, f.db.First(&stored, "earning_id = ?", e.EarningID).Error)
	require.True(t, stored.EarningAmount.Equal(decimal.RequireFromString("27.47")))
}

// Exercises the two services composed the way the application wires them:
// the reconciler installed on the ledger after construction, refund
// exclusion applied inside ListEarnings.
func TestListEarningsExcludesRefundedThroughReconciler(t *testing.T) {
	f := newFixture(t)

	_, keptEarning := f.seed(t, "100.00", 1)
	refunded, refundedEarning := f.seed(t, "80.00", 1)
	require.NoError(t, f.db.Model(refundedEarning).Update("instructor_id", keptEarning.InstructorID).Error)
	f.markRefunded(t, refunded, 1)

	rows, err := f.earnings.ListEarnings(context.Background(), keptEarning.InstructorID, earning.ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, keptEarning.EarningID, rows[0].EarningID)

	var stored earning.InstructorEarning
	require.NoError(t, f.db.First(&stored, "earning_id = ?", refundedEarning.EarningID).Error)
	require.Equal(t, earning.StatusRefunded, stored.Status)
}

func TestFilterActiveKeepsEarningOnLookupFailure(t *testing.T) {
	f := newFixture(t)

	_, e := f.seed(t, "100.00", 1)
	// Point the earning at an item that does not exist.
	e.ItemID = f.node.Generate()

	active, err := f.svc.FilterActive(context.Background(), []*earning.InstructorEarning{e})
	require.NoError(t, err)
	require.Len(t, active, 1)
}
