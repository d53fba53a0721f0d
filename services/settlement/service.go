// Package settlement orchestrates the per-sale settlement flow: commission
// breakdown, instructor earnings and course enrollment. Sales may be
// processed concurrently; per-key unique indexes in the underlying services
// are the sole concurrency-correctness mechanism.
package settlement

import (
	"context"
	"encoding/json"
	"time"

	"coursepay-settlement/services/breakdown"
	"coursepay-settlement/services/earning"
	"coursepay-settlement/services/sale"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db         *gorm.DB
	node       *snowflake.Node
	sales      sale.Provider
	breakdowns *breakdown.Service
	earnings   *earning.Service
	tasks      *asynq.Client
}

type Params struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Sales      sale.Provider
	Breakdowns *breakdown.Service
	Earnings   *earning.Service
	Tasks      *asynq.Client `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		sales:      p.Sales,
		breakdowns: p.Breakdowns,
		earnings:   p.Earnings,
		tasks:      p.Tasks,
	}
}

// ProcessSale settles one completed sale end to end. A failure on one item
// never aborts its siblings: the item's side effect is recorded as a
// reconciliation task and, when a task client is wired, enqueued for retry.
// Replaying the whole sale is safe; every write underneath is idempotent.
func (s *Service) ProcessSale(ctx context.Context, saleID snowflake.ID) (*ProcessResult, error) {
	sl, err := s.sales.CompletedSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{SaleID: sl.SaleID}

	if _, err := s.breakdowns.Process(ctx, sl.SaleID); err != nil {
		// The breakdown is held back (e.g. consistency check), but the
		// instructors still get their earnings recognised.
		s.recordFailure(ctx, KindProcessBreakdown, sl.SaleID, 0, err)
		result.Failed++
	}

	for _, item := range sl.Items {
		e, err := s.earnings.RecordEarning(ctx, sl, item)
		if err != nil {
			s.recordFailure(ctx, KindRecordEarning, sl.SaleID, item.ItemID, err)
			result.Failed++
			continue
		}
		result.Earnings++

		zap.L().Debug("sale item settled",
			zap.String("sale_id", sl.SaleID.String()),
			zap.String("earning_id", e.EarningID.String()),
		)

		if item.ProductType == sale.ProductCourse {
			if err := s.earnings.EnrollStudent(ctx, sl.BuyerID, item.ProductID); err != nil {
				s.recordFailure(ctx, KindEnrollStudent, sl.SaleID, item.ItemID, err)
				result.Failed++
			}
		}
	}

	return result, nil
}

// PendingTasks lists unresolved reconciliation tasks, oldest first.
func (s *Service) PendingTasks(ctx context.Context) ([]*ReconciliationTask, error) {
	var rows []*ReconciliationTask
	err := s.db.WithContext(ctx).
		Where("status = ?", TaskPending).
		Order("created_at").
		Find(&rows).Error
	return rows, err
}

func (s *Service) recordFailure(ctx context.Context, kind string, saleID, itemID snowflake.ID, cause error) {
	payload, _ := json.Marshal(map[string]string{
		"sale_id": saleID.String(),
		"item_id": itemID.String(),
	})

	row := &ReconciliationTask{
		TaskID:  s.node.Generate(),
		Kind:    kind,
		SaleID:  saleID,
		ItemID:  itemID,
		Reason:  cause.Error(),
		Payload: datatypes.JSON(payload),
		Status:  TaskPending,
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		zap.L().Error("failed to record reconciliation task",
			zap.String("sale_id", saleID.String()), zap.Error(err))
		return
	}

	zap.L().Warn("settlement side effect failed, reconciliation task recorded",
		zap.String("task_id", row.TaskID.String()),
		zap.String("kind", kind),
		zap.String("sale_id", saleID.String()),
		zap.Error(cause),
	)

	if s.tasks == nil {
		return
	}

	task, err := NewRetryTask(row.TaskID)
	if err != nil {
		zap.L().Error("failed to build retry task", zap.Error(err))
		return
	}
	if _, err := s.tasks.EnqueueContext(ctx, task, asynq.Queue("critical")); err != nil {
		zap.L().Error("failed to enqueue retry task",
			zap.String("task_id", row.TaskID.String()), zap.Error(err))
	}
}

func (s *Service) resolveTask(ctx context.Context, task *ReconciliationTask) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(task).Updates(map[string]any{
		"status":      TaskResolved,
		"resolved_at": now,
	}).Error
}

var Module = fx.Module("settlement.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterTasks),
)
