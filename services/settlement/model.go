package settlement

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TaskPending  = "pending"
	TaskResolved = "resolved"
)

// Reconciliation task kinds. The kind names the side effect that failed and
// tells the retry handler which operation to replay.
const (
	KindProcessBreakdown = "process_breakdown"
	KindRecordEarning    = "record_earning"
	KindEnrollStudent    = "enroll_student"
)

// ReconciliationTask records a side-effect that failed while a sale was
// being settled. Sale processing never blocks on one bad item; the failure
// lands here where it can be queried, retried and audited instead of dying
// in a log line.
type ReconciliationTask struct {
	TaskID snowflake.ID `gorm:"column:task_id;primaryKey;autoIncrement:false"`
	Kind   string       `gorm:"column:kind;index;not null"`
	SaleID snowflake.ID `gorm:"column:sale_id;index;not null"`
	ItemID snowflake.ID `gorm:"column:item_id"`

	Reason  string         `gorm:"column:reason"`
	Payload datatypes.JSON `gorm:"column:payload"`
	Status  string         `gorm:"column:status;index;not null;default:'pending'"`

	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	ResolvedAt *time.Time `gorm:"column:resolved_at"`
}

// ProcessResult summarises one ProcessSale run.
type ProcessResult struct {
	SaleID   snowflake.ID
	Earnings int
	Failed   int
}
