package sale

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// RefundState mirrors the refund lifecycle reported by the sales subsystem.
type RefundState string

const (
	RefundNone      RefundState = "none"
	RefundPending   RefundState = "pending"
	RefundCompleted RefundState = "completed"
)

// ProductType distinguishes the two sellable item kinds.
type ProductType string

const (
	ProductCourse  ProductType = "course"
	ProductProject ProductType = "project"
)

// Sale is a completed purchase. The record is owned by the sales subsystem;
// the settlement engine only ever reads it.
type Sale struct {
	SaleID       snowflake.ID    `gorm:"column:sale_id;primaryKey;autoIncrement:false"`
	BuyerID      snowflake.ID    `gorm:"column:buyer_id;index;not null"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric;not null"`
	CurrencyCode string          `gorm:"column:currency_code;not null"`
	Status       string          `gorm:"column:status;index;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`

	Items []SaleItem `gorm:"foreignKey:SaleID;references:SaleID"`
}

// SaleItem is a line of a sale: one product owned by one instructor.
type SaleItem struct {
	ItemID       snowflake.ID    `gorm:"column:item_id;primaryKey;autoIncrement:false"`
	SaleID       snowflake.ID    `gorm:"column:sale_id;index;not null"`
	ProductID    snowflake.ID    `gorm:"column:product_id;index;not null"`
	ProductType  ProductType     `gorm:"column:product_type;not null"`
	ProductName  string          `gorm:"column:product_name"`
	InstructorID snowflake.ID    `gorm:"column:instructor_id;index;not null"`
	ListPrice    decimal.Decimal `gorm:"column:list_price;type:numeric;not null"`
	Discount     decimal.Decimal `gorm:"column:discount;type:numeric"`
	Quantity     int             `gorm:"column:quantity;not null;default:1"`
	CurrencyCode string          `gorm:"column:currency_code;not null"`

	RefundStatus     RefundState `gorm:"column:refund_status;default:'none'"`
	RefundedQuantity int         `gorm:"column:refunded_quantity;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// SalePrice is the item's price after discount, the base for all settlement
// computation on this line.
func (i SaleItem) SalePrice() decimal.Decimal {
	return i.ListPrice.Sub(i.Discount)
}

const StatusCompleted = "completed"
