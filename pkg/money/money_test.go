package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRound2HalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"4.016", "4.02"},
		{"6.4256", "6.43"},
		{"5.844", "5.84"},
		{"0.005", "0.01"},
		{"46", "46"},
	}

	for _, tc := range cases {
		got := Round2(decimal.RequireFromString(tc.in))
		require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "Round2(%s) = %s", tc.in, got)
	}
}

func TestWithinEpsilon(t *testing.T) {
	a := decimal.RequireFromString("100.00")

	require.True(t, WithinEpsilon(a, decimal.RequireFromString("100.01")))
	require.True(t, WithinEpsilon(a, decimal.RequireFromString("99.99")))
	require.False(t, WithinEpsilon(a, decimal.RequireFromString("100.02")))
}

func TestHalfConserves(t *testing.T) {
	net := decimal.RequireFromString("92.00")
	share := Half(net)

	require.True(t, share.Equal(decimal.RequireFromString("46")))
	require.True(t, share.Add(share).Equal(net))
}

func TestProportion(t *testing.T) {
	earning := decimal.RequireFromString("46.00")

	// 1 of 2 units refunded keeps half the earning.
	kept := earning.Sub(Proportion(earning, 1, 2))
	require.True(t, kept.Equal(decimal.RequireFromString("23")))
}

func TestApplyRateMatchesGatewayFee(t *testing.T) {
	fee := ApplyRate(decimal.RequireFromString("100.00"), FromFloat(0.04))
	require.True(t, fee.Equal(decimal.RequireFromString("4")))
}
