package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"coursepay-settlement/pkg/errutil"
	"coursepay-settlement/services/sale"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeRetryTask = "settlement:retry_task"

type RetryPayload struct {
	TaskID snowflake.ID `json:"task_id"`
}

func NewRetryTask(taskID snowflake.ID) (*asynq.Task, error) {
	payload, err := json.Marshal(RetryPayload{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRetryTask, payload, asynq.MaxRetry(10)), nil
}

// HandleRetryTask replays the side effect a reconciliation task recorded and
// marks the task resolved on success. The replayed operations are idempotent,
// so a retry racing the original write is harmless.
func (s *Service) HandleRetryTask(ctx context.Context, t *asynq.Task) error {
	var p RetryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal retry payload: %v: %w", err, asynq.SkipRetry)
	}

	var task ReconciliationTask
	if err := s.db.WithContext(ctx).First(&task, "task_id = ?", p.TaskID).Error; err != nil {
		return fmt.Errorf("load reconciliation task %s: %w", p.TaskID, err)
	}
	if task.Status == TaskResolved {
		return nil
	}

	if err := s.replay(ctx, &task); err != nil {
		// Validation and configuration failures will not heal on their
		// own; leave the task pending for an operator instead of
		// burning retries.
		switch errutil.StatusOf(err) {
		case errutil.StatusValidationFailed, errutil.StatusUnprocessableEntity, errutil.StatusNotFound:
			zap.L().Error("reconciliation task needs operator attention",
				zap.String("task_id", task.TaskID.String()),
				zap.String("kind", task.Kind),
				zap.Error(err),
			)
			return fmt.Errorf("replay %s: %v: %w", task.Kind, err, asynq.SkipRetry)
		}
		return fmt.Errorf("replay %s: %w", task.Kind, err)
	}

	if err := s.resolveTask(ctx, &task); err != nil {
		return fmt.Errorf("resolve task %s: %w", task.TaskID, err)
	}

	zap.L().Info("reconciliation task resolved",
		zap.String("task_id", task.TaskID.String()),
		zap.String("kind", task.Kind),
		zap.String("sale_id", task.SaleID.String()),
	)
	return nil
}

func (s *Service) replay(ctx context.Context, task *ReconciliationTask) error {
	switch task.Kind {
	case KindProcessBreakdown:
		_, err := s.breakdowns.Process(ctx, task.SaleID)
		return err

	case KindRecordEarning:
		sl, err := s.sales.CompletedSale(ctx, task.SaleID)
		if err != nil {
			return err
		}
		item, ok := findItem(sl, task.ItemID)
		if !ok {
			return errutil.NotFound(fmt.Sprintf("sale item %s not found", task.ItemID), nil)
		}
		_, err = s.earnings.RecordEarning(ctx, sl, item)
		return err

	case KindEnrollStudent:
		sl, err := s.sales.CompletedSale(ctx, task.SaleID)
		if err != nil {
			return err
		}
		item, ok := findItem(sl, task.ItemID)
		if !ok {
			return errutil.NotFound(fmt.Sprintf("sale item %s not found", task.ItemID), nil)
		}
		return s.earnings.EnrollStudent(ctx, sl.BuyerID, item.ProductID)

	default:
		return errutil.ValidationFailed(fmt.Sprintf("unknown task kind %q", task.Kind), nil)
	}
}

func findItem(sl *sale.Sale, itemID snowflake.ID) (sale.SaleItem, bool) {
	for _, item := range sl.Items {
		if item.ItemID == itemID {
			return item, true
		}
	}
	return sale.SaleItem{}, false
}

type TaskParams struct {
	fx.In
	Service *Service
	Mux     *asynq.ServeMux `optional:"true"`
}

func RegisterTasks(p TaskParams) {
	if p.Mux == nil {
		return
	}
	p.Mux.HandleFunc(TypeRetryTask, p.Service.HandleRetryTask)
}
