package breakdown

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CommissionBreakdown is the persisted split of one sale: gateway fees,
// platform/instructor shares and platform-side taxes. One row per sale,
// created once and only ever updated by a controlled recomputation pass.
type CommissionBreakdown struct {
	BreakdownID snowflake.ID `gorm:"column:breakdown_id;primaryKey;autoIncrement:false"`
	SaleID      snowflake.ID `gorm:"column:sale_id;uniqueIndex;not null"`

	SaleAmount   decimal.Decimal `gorm:"column:sale_amount;type:numeric;not null"`
	CurrencyCode string          `gorm:"column:currency_code;not null"`

	PaypalReceiveCommission decimal.Decimal `gorm:"column:paypal_receive_commission;type:numeric;not null"`
	PaypalSendCommission    decimal.Decimal `gorm:"column:paypal_send_commission;type:numeric;not null"`

	PlatformShare   decimal.Decimal `gorm:"column:platform_share;type:numeric;not null"`
	InstructorShare decimal.Decimal `gorm:"column:instructor_share;type:numeric;not null"`

	PlatformOperatingProfit decimal.Decimal `gorm:"column:platform_operating_profit;type:numeric;not null"`
	PlatformISR             decimal.Decimal `gorm:"column:platform_isr;type:numeric;not null"`
	PlatformIVA             decimal.Decimal `gorm:"column:platform_iva;type:numeric;not null"`
	PlatformNetProfit       decimal.Decimal `gorm:"column:platform_net_profit;type:numeric;not null"`

	// Informational copies of the instructor-side retention, so the sale's
	// full money picture can be audited from one row.
	InstructorISR    decimal.Decimal `gorm:"column:instructor_isr;type:numeric"`
	InstructorIVA    decimal.Decimal `gorm:"column:instructor_iva;type:numeric"`
	InstructorNetPay decimal.Decimal `gorm:"column:instructor_net_pay;type:numeric"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Figures is the pure computation result before persistence.
type Figures struct {
	SaleAmount              decimal.Decimal
	PaypalReceiveCommission decimal.Decimal
	PaypalSendCommission    decimal.Decimal
	PlatformShare           decimal.Decimal
	InstructorShare         decimal.Decimal
	PlatformOperatingProfit decimal.Decimal
	PlatformISR             decimal.Decimal
	PlatformIVA             decimal.Decimal
	PlatformNetProfit       decimal.Decimal
	InstructorISR           decimal.Decimal
	InstructorIVA           decimal.Decimal
	InstructorNetPay        decimal.Decimal
}
