package retention

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeSettleMonth = "retention:settle_month"

type SettleMonthPayload struct {
	InstructorID snowflake.ID `json:"instructor_id"`
	Month        int          `json:"month"`
	Year         int          `json:"year"`
}

func NewSettleMonthTask(instructorID snowflake.ID, month, year int) (*asynq.Task, error) {
	payload, err := json.Marshal(SettleMonthPayload{
		InstructorID: instructorID,
		Month:        month,
		Year:         year,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSettleMonth, payload), nil
}

// HandleSettleMonthTask runs one instructor's fiscal-period settlement.
// Settle is idempotent per earning, so asynq retries are safe.
func (s *Service) HandleSettleMonthTask(ctx context.Context, t *asynq.Task) error {
	var p SettleMonthPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}

	settled, err := s.SettleMonth(ctx, p.InstructorID, p.Month, p.Year)
	if err != nil {
		return err
	}

	zap.L().Info("fiscal period settled",
		zap.String("instructor_id", p.InstructorID.String()),
		zap.Int("month", p.Month), zap.Int("year", p.Year),
		zap.Int("retentions", len(settled)),
	)

	return nil
}

type registerTasksParams struct {
	fx.In
	Mux     *asynq.ServeMux `optional:"true"`
	Service *Service
}

func RegisterTasks(p registerTasksParams) {
	if p.Mux == nil {
		return
	}
	p.Mux.HandleFunc(TypeSettleMonth, p.Service.HandleSettleMonthTask)
}
