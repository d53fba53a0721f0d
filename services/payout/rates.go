package payout

import (
	"context"
	"strings"
	"time"

	"coursepay-settlement/pkg/config"
	"coursepay-settlement/pkg/errutil"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RateSource resolves the exchange rate from the settlement currency to a
// destination currency. Implementations may be live; the configured table is
// the floor every deployment has.
type RateSource interface {
	Rate(ctx context.Context, currencyCode string) (decimal.Decimal, error)
}

// ConfigRates serves the per-country rates from the injected configuration.
type ConfigRates struct {
	rates map[string]decimal.Decimal
}

func NewConfigRates(cfg *config.Config) *ConfigRates {
	rates := make(map[string]decimal.Decimal, len(cfg.Payout.Countries))
	for _, country := range cfg.Payout.Countries {
		if country.ExchangeRate > 0 {
			rates[strings.ToUpper(country.CurrencyCode)] = decimal.NewFromFloat(country.ExchangeRate)
		}
	}
	return &ConfigRates{rates: rates}
}

func (r *ConfigRates) Rate(ctx context.Context, currencyCode string) (decimal.Decimal, error) {
	rate, ok := r.rates[strings.ToUpper(currencyCode)]
	if !ok {
		return decimal.Zero, errutil.UnprocessableEntity("no exchange rate configured for currency", nil,
			errutil.WithDetails(errutil.Detail{Field: "currency_code", Message: currencyCode}))
	}
	return rate, nil
}

// CachedRates decorates a RateSource with a redis TTL cache so a live
// upstream is not hit on every authorization. Cache failures fall through to
// the source.
type CachedRates struct {
	source RateSource
	rdb    *redis.Client
	ttl    time.Duration
}

func NewCachedRates(source RateSource, rdb *redis.Client, ttl time.Duration) *CachedRates {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedRates{source: source, rdb: rdb, ttl: ttl}
}

func (c *CachedRates) Rate(ctx context.Context, currencyCode string) (decimal.Decimal, error) {
	key := "fx:rate:" + strings.ToUpper(currencyCode)

	if cached, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			return rate, nil
		}
	}

	rate, err := c.source.Rate(ctx, currencyCode)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.rdb.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		zap.L().Warn("failed to cache exchange rate", zap.String("currency", currencyCode), zap.Error(err))
	}

	return rate, nil
}

type rateSourceParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewRateSource(p rateSourceParams) RateSource {
	base := NewConfigRates(p.Config)
	if p.Redis == nil {
		return base
	}
	return NewCachedRates(base, p.Redis, p.Config.Payout.RateTTL)
}
