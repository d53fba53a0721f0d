package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

// Config holds every rate, limit and credential the settlement engine needs.
// It is loaded once at process start and injected explicitly; calculators
// never read ambient process-wide state.
type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`

	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`

	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`

	Settlement Settlement `mapstructure:"SETTLEMENT"`
	Payout     Payout     `mapstructure:"PAYOUT"`
}

// Settlement holds commission, hold-period and tax parameters.
type Settlement struct {
	// Currency all sales settle in before payout conversion.
	Currency string `mapstructure:"CURRENCY"`

	Commission struct {
		// Gateway fee taken when the platform receives a sale payment.
		ReceiveRate float64 `mapstructure:"RECEIVE_RATE"`
		// Gateway fee taken when the platform forwards an instructor share.
		SendRate float64 `mapstructure:"SEND_RATE"`
		FixedFee float64 `mapstructure:"FIXED_FEE"`
	} `mapstructure:"COMMISSION"`

	// Days between an earning being recognised and it becoming payable.
	// Zero means instant availability.
	HoldPeriodDays int `mapstructure:"HOLD_PERIOD_DAYS"`

	// Share of each item's fee-netted price kept by the platform when an
	// instructor earning is recorded; the instructor receives the rest.
	PlatformCommissionRate float64 `mapstructure:"PLATFORM_COMMISSION_RATE"`

	PlatformTax struct {
		ISRRate float64 `mapstructure:"ISR_RATE"`
		IVARate float64 `mapstructure:"IVA_RATE"`
	} `mapstructure:"PLATFORM_TAX"`

	InstructorTax struct {
		ISRRate float64 `mapstructure:"ISR_RATE"`
		IVARate float64 `mapstructure:"IVA_RATE"`
	} `mapstructure:"INSTRUCTOR_TAX"`
}

// Payout holds the closed allow-list of destination countries.
type Payout struct {
	BaseURL   string                   `mapstructure:"BASE_URL"`
	Timeout   time.Duration            `mapstructure:"TIMEOUT"`
	RateTTL   time.Duration            `mapstructure:"RATE_TTL"`
	Countries map[string]PayoutCountry `mapstructure:"COUNTRIES"`
}

// PayoutCountry is the per-country disbursement profile. AccessToken may be
// filled from Vault instead of the config file.
type PayoutCountry struct {
	CurrencyCode   string  `mapstructure:"CURRENCY_CODE"`
	ExchangeRate   float64 `mapstructure:"EXCHANGE_RATE"`
	MaxTransaction float64 `mapstructure:"MAX_TRANSACTION"`
	AccessToken    string  `mapstructure:"ACCESS_TOKEN"`
}

// Country returns the payout profile for an ISO country code.
func (p Payout) Country(code string) (PayoutCountry, bool) {
	c, ok := p.Countries[strings.ToUpper(code)]
	return c, ok
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) (*Config, error) {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if p.Vault != nil {
		if err := fillSecrets(&cfg, p.Vault); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// fillSecrets overlays database credentials and per-country payout rail
// tokens from Vault so they never live in the config file.
func fillSecrets(cfg *Config, client *vault.Client) error {
	ctx := context.Background()

	zap.L().Info("loading secrets from vault", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return err
	}

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	if v := get("postgres_user"); v != "" {
		cfg.Database.User = v
	}
	if v := get("postgres_password"); v != "" {
		cfg.Database.Password = v
	}
	if v := get("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	for code, country := range cfg.Payout.Countries {
		if v := get("payout_token_" + strings.ToLower(code)); v != "" {
			country.AccessToken = v
			cfg.Payout.Countries[code] = country
		}
	}

	return nil
}
