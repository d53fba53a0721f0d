package payout

import (
	"context"
	"strings"

	"coursepay-settlement/pkg/config"
	"coursepay-settlement/pkg/errutil"
	"coursepay-settlement/pkg/money"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	cfg    config.Payout
	rates  RateSource
	client *Client
}

type Params struct {
	fx.In
	Config *config.Config
	Rates  RateSource
	Client *Client
}

func NewService(p Params) *Service {
	return &Service{
		cfg:    p.Config.Payout,
		rates:  p.Rates,
		client: p.Client,
	}
}

// Authorize validates, converts and submits one cross-border disbursement.
// Every local check runs before the first network call; a request that can
// be rejected is rejected for free.
func (s *Service) Authorize(ctx context.Context, req Request) (*Result, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if req.Recipient.Value == "" {
		return nil, errutil.ValidationFailed("recipient value is required", nil)
	}
	if req.ExternalReference == "" {
		return nil, errutil.ValidationFailed("external reference is required", nil)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, errutil.ValidationFailed("amount must be positive", nil)
	}

	country := strings.ToUpper(req.Recipient.Country)
	profile, ok := s.cfg.Country(country)
	if !ok {
		return nil, errutil.ValidationFailed("unsupported destination country", nil,
			errutil.WithDetails(errutil.Detail{Field: "country", Message: country}))
	}

	// No fallback credential: paying out of the wrong account is worse than
	// not paying out.
	if profile.AccessToken == "" {
		return nil, errutil.UnprocessableEntity("no payout credential configured for country", nil,
			errutil.WithDetails(errutil.Detail{Field: "country", Message: country}))
	}

	rate, err := s.rates.Rate(ctx, profile.CurrencyCode)
	if err != nil {
		return nil, err
	}
	converted := money.Round2(req.Amount.Mul(rate))

	limit := decimal.NewFromFloat(profile.MaxTransaction)
	if limit.IsPositive() && converted.GreaterThan(limit) {
		return nil, errutil.ValidationFailed("converted amount exceeds country transaction limit", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "converted_amount", Message: converted.String()},
				errutil.Detail{Field: "limit", Message: limit.String()},
			))
	}

	method, ok := paymentMethod(country, req.Recipient.Type)
	if !ok {
		return nil, errutil.ValidationFailed("recipient type not supported in destination country", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "recipient_type", Message: string(req.Recipient.Type)},
				errutil.Detail{Field: "country", Message: country},
			))
	}

	resp, err := s.client.Submit(ctx, profile.AccessToken, IdempotencyKey(req.ExternalReference), railSubmission{
		Amount:            converted.InexactFloat64(),
		CurrencyID:        profile.CurrencyCode,
		PaymentMethodID:   method,
		RecipientType:     string(req.Recipient.Type),
		RecipientValue:    req.Recipient.Value,
		Country:           country,
		ExternalReference: req.ExternalReference,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("payout submitted",
		zap.String("payout_id", resp.ID.String()),
		zap.String("status", resp.Status),
		zap.String("country", country),
		zap.String("amount", converted.String()),
	)

	return normalize(resp), nil
}

// Status reconciles a previously submitted payout against the rail.
func (s *Service) Status(ctx context.Context, payoutID, country string) (*Result, error) {
	profile, ok := s.cfg.Country(strings.ToUpper(country))
	if !ok {
		return nil, errutil.ValidationFailed("unsupported destination country", nil)
	}
	if profile.AccessToken == "" {
		return nil, errutil.UnprocessableEntity("no payout credential configured for country", nil)
	}

	resp, err := s.client.Status(ctx, profile.AccessToken, payoutID)
	if err != nil {
		return nil, err
	}

	return normalize(resp), nil
}

// IdempotencyKey derives the rail idempotency key from the caller's
// reference. Deterministic on purpose: a retry must reuse the original key.
func IdempotencyKey(externalReference string) string {
	return "payout-" + externalReference
}

func normalize(resp *railResponse) *Result {
	return &Result{
		ID:                resp.ID.String(),
		Status:            resp.Status,
		Amount:            decimal.NewFromFloat(resp.TransactionAmount),
		CurrencyCode:      resp.CurrencyID,
		ExternalReference: resp.ExternalReference,
	}
}

var Module = fx.Module("payout.service",
	fx.Provide(
		NewClient,
		NewRateSource,
		NewService,
	),
)
