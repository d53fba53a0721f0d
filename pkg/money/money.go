// Package money centralises fixed-precision monetary arithmetic. All amounts
// are shopspring decimals rounded half-up to 2 places; float64 never carries
// money through a computation.
package money

import (
	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used when checking that computed parts of a
// breakdown still sum to their source amount.
var Epsilon = decimal.NewFromFloat(0.01)

var two = decimal.NewFromInt(2)

// FromFloat converts a configured float rate or fee to a decimal.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Round2 rounds half away from zero to 2 decimal places (currency cents).
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ApplyRate multiplies amount by a fractional rate (0.04 for 4%) without
// rounding, so later steps compound on the exact value.
func ApplyRate(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate)
}

// Half splits an amount in two equal shares.
func Half(d decimal.Decimal) decimal.Decimal {
	return d.Div(two)
}

// WithinEpsilon reports whether a and b differ by at most Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// Proportion returns amount scaled by num/den, e.g. the refunded fraction of
// an earning. den must be non-zero.
func Proportion(amount decimal.Decimal, num, den int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den))
}
