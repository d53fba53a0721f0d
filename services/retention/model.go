package retention

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the retention lifecycle: withheld, then paid out, then declared
// to the tax authority. Strictly one-directional, no state is ever skipped.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusDeclared Status = "declared"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusPaid},
	StatusPaid:     {StatusDeclared},
	StatusDeclared: {},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InstructorRetention is the tax withholding computed for one earning once
// it enters a fiscal settlement batch. One row per earning.
type InstructorRetention struct {
	RetentionID  snowflake.ID `gorm:"column:retention_id;primaryKey;autoIncrement:false"`
	InstructorID snowflake.ID `gorm:"column:instructor_id;index;uniqueIndex:idx_retention_key;not null"`
	EarningID    snowflake.ID `gorm:"column:earning_id;uniqueIndex:idx_retention_key;not null"`
	SaleID       snowflake.ID `gorm:"column:sale_id;index;not null"`

	GrossEarning         decimal.Decimal `gorm:"column:gross_earning;type:numeric;not null"`
	ISRRetention         decimal.Decimal `gorm:"column:isr_retention;type:numeric;not null"`
	IVARetention         decimal.Decimal `gorm:"column:iva_retention;type:numeric;not null"`
	TotalRetention       decimal.Decimal `gorm:"column:total_retention;type:numeric;not null"`
	NetPay               decimal.Decimal `gorm:"column:net_pay;type:numeric;not null"`
	PaypalSendCommission decimal.Decimal `gorm:"column:paypal_send_commission;type:numeric"`
	CurrencyCode         string          `gorm:"column:currency_code;not null"`

	Status Status `gorm:"column:status;index;not null;default:'pending'"`

	Month int `gorm:"column:month;index:idx_retention_period;not null"`
	Year  int `gorm:"column:year;index:idx_retention_period;not null"`

	// Tax document identifier, recorded when the fiscal batch is declared.
	CFDIID string `gorm:"column:cfdi_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
