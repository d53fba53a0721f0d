package main

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coursepay-settlement/pkg/asynq"
	"coursepay-settlement/pkg/config"
	"coursepay-settlement/pkg/db"
	"coursepay-settlement/pkg/gen"
	"coursepay-settlement/pkg/logger"
	"coursepay-settlement/pkg/redis"
	"coursepay-settlement/pkg/secretmanager"
	"coursepay-settlement/services/breakdown"
	"coursepay-settlement/services/earning"
	"coursepay-settlement/services/payout"
	"coursepay-settlement/services/refund"
	"coursepay-settlement/services/retention"
	"coursepay-settlement/services/sale"
	"coursepay-settlement/services/settlement"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		asynq.Client,
		asynq.Server,
		gen.Module,
		fx.Provide(provideTracerProvider),
		sale.Module,
		breakdown.Module,
		earning.Module,
		refund.Module,
		retention.Module,
		payout.Module,
		settlement.Module,
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&sale.Sale{},
		&sale.SaleItem{},
		&breakdown.CommissionBreakdown{},
		&earning.InstructorEarning{},
		&earning.Enrollment{},
		&retention.InstructorRetention{},
		&settlement.ReconciliationTask{},
	)
}
