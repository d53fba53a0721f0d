package retention

import (
	"context"
	"time"

	"coursepay-settlement/services/earning"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler enqueues the previous month's settlement for every instructor
// holding available earnings, once a day shortly after midnight. Runs are
// harmless to repeat because Settle is idempotent.
type Scheduler struct {
	db     *gorm.DB
	client *asynq.Client
}

type SchedulerParams struct {
	fx.In
	DB     *gorm.DB
	Client *asynq.Client `optional:"true"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{db: p.DB, client: p.Client}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	if s.client == nil {
		zap.L().Warn("[Scheduler] no task client configured, fiscal settlement scheduler disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(ctx)
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started fiscal settlement scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, 2, 0)

		select {
		case <-time.After(next.Sub(now)):
			s.enqueuePreviousMonth(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) enqueuePreviousMonth(ctx context.Context) {
	period := time.Now().UTC().AddDate(0, -1, 0)
	month, year := int(period.Month()), period.Year()

	var instructorIDs []snowflake.ID
	err := s.db.WithContext(ctx).Model(&earning.InstructorEarning{}).
		Where("status = ?", earning.StatusAvailable).
		Distinct("instructor_id").
		Pluck("instructor_id", &instructorIDs).Error
	if err != nil {
		zap.L().Error("[Scheduler] failed to list instructors", zap.Error(err))
		return
	}

	for _, id := range instructorIDs {
		task, err := NewSettleMonthTask(id, month, year)
		if err != nil {
			zap.L().Error("[Scheduler] failed to build task", zap.Error(err))
			continue
		}
		if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue("low")); err != nil {
			zap.L().Error("[Scheduler] failed to enqueue settlement",
				zap.String("instructor_id", id.String()), zap.Error(err))
		}
	}

	zap.L().Info("[Scheduler] fiscal settlement enqueued",
		zap.Int("instructors", len(instructorIDs)),
		zap.Int("month", month), zap.Int("year", year),
	)
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
