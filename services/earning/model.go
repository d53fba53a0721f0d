package earning

import (
	"time"

	"coursepay-settlement/services/sale"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle of an instructor earning. Transitions are closed:
// anything not listed in transitions is rejected.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAvailable Status = "available"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

// transitions is the full from-state table. refunded is reachable from every
// non-terminal state because a refund can land any time before payout
// completes.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAvailable, StatusRefunded},
	StatusAvailable: {StatusPaid, StatusRefunded},
	StatusPaid:      {StatusCompleted, StatusRefunded},
	StatusCompleted: {},
	StatusRefunded:  {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// InstructorEarning is one instructor's share of one sale item. The triple
// (sale, product, instructor) is unique: reprocessing a sale can never mint
// a second earning for the same line.
type InstructorEarning struct {
	EarningID    snowflake.ID `gorm:"column:earning_id;primaryKey;autoIncrement:false"`
	InstructorID snowflake.ID `gorm:"column:instructor_id;index;uniqueIndex:idx_earning_key;not null"`
	SaleID       snowflake.ID `gorm:"column:sale_id;uniqueIndex:idx_earning_key;not null"`
	ItemID       snowflake.ID `gorm:"column:item_id;not null"`
	ProductID    snowflake.ID `gorm:"column:product_id;uniqueIndex:idx_earning_key;not null"`

	ProductType sale.ProductType `gorm:"column:product_type;not null"`
	ProductName string           `gorm:"column:product_name"`

	SalePrice                decimal.Decimal `gorm:"column:sale_price;type:numeric;not null"`
	CurrencyCode             string          `gorm:"column:currency_code;not null"`
	PlatformCommissionRate   decimal.Decimal `gorm:"column:platform_commission_rate;type:numeric;not null"`
	PlatformCommissionAmount decimal.Decimal `gorm:"column:platform_commission_amount;type:numeric;not null"`
	EarningAmount            decimal.Decimal `gorm:"column:instructor_earning;type:numeric;not null"`

	Status Status `gorm:"column:status;index;not null"`

	EarnedAt    time.Time `gorm:"column:earned_at;not null"`
	AvailableAt time.Time `gorm:"column:available_at;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Enrollment links a buyer to a purchased course. The (user, course) pair is
// unique; enrolling twice is a no-op.
type Enrollment struct {
	EnrollmentID snowflake.ID `gorm:"column:enrollment_id;primaryKey;autoIncrement:false"`
	UserID       snowflake.ID `gorm:"column:user_id;uniqueIndex:idx_enrollment_key;not null"`
	CourseID     snowflake.ID `gorm:"column:course_id;uniqueIndex:idx_enrollment_key;not null"`
	CreatedAt    time.Time    `gorm:"column:created_at;autoCreateTime"`
}

// ListFilter narrows ListEarnings results. Zero values mean "no constraint";
// an empty Statuses list defaults to the active states (pending, available).
type ListFilter struct {
	Statuses        []Status
	From            time.Time
	To              time.Time
	IncludeRefunded bool
}

// Totals is a per-currency aggregate. Amounts in different currencies are
// never summed together.
type Totals struct {
	CurrencyCode string
	Count        int
	SalePrice    decimal.Decimal
	Earnings     decimal.Decimal
}
