package waterfall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightningnetwork/plasma-sim/internal/money"
)

func TestDepositAmount(t *testing.T) {
	tests := []struct {
		name      string
		available money.Sat
		amount    money.Sat
		walletCap money.Sat
		want      money.Sat
	}{
		{
			name:      "overflow dominates",
			available: 90_000, amount: 50_000, walletCap: 100_000,
			want: 40_000,
		},
		{
			name:      "floor of a third dominates",
			available: 0, amount: 500, walletCap: 90_000,
			want: 30_000,
		},
		{
			name:      "never negative",
			available: 0, amount: 0, walletCap: 0,
			want: 0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DepositAmount(tc.available, tc.amount, tc.walletCap))
		})
	}
}

func TestWithdrawAmount(t *testing.T) {
	// Small payment: top up to the base wallet amount.
	require.Equal(t, money.Sat(24_000), WithdrawAmount(1000, 1500))

	// Large payment: cover the shortfall instead.
	require.Equal(t, money.Sat(99_000), WithdrawAmount(1000, 100_000))
}
