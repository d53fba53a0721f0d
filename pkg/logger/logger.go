package logger

import (
	"coursepay-settlement/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("logger",
	fx.Provide(Provide),
	fx.Invoke(ReplaceGlobals),
)

// Provide returns the application logger. Development builds get the
// human-readable console encoder.
func Provide(cfg *config.Config) (*zap.Logger, error) {
	if cfg.AppEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func ReplaceGlobals(log *zap.Logger) {
	zap.ReplaceGlobals(log)
}
