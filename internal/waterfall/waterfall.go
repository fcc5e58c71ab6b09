// Package waterfall holds the liquidity-management overlay arithmetic:
// the auto-deposit (waterfall) an end user makes to its custodian when an
// incoming payment would overflow its channel, and the auto-withdrawal
// (reverse waterfall) a custodian makes on the user's behalf before an
// under-funded send. The protocol events that carry these amounts live in
// internal/htlc and internal/loadgen; this package owns only the sizing
// formulas.
package waterfall

import "github.com/lightningnetwork/plasma-sim/internal/money"

// BaseWalletAmount is the floor a reverse-waterfall withdrawal tops the
// user's spendable balance up to.
const BaseWalletAmount = 25_000

// DepositAmount sizes the deposit a user is asked to make when a payment
// of amount cannot fit its channels: D = max(B + P - C, C/3), where B is
// the user's available balance, P the incoming amount and C its wallet
// capacity (the sum of its channel capacities).
func DepositAmount(available, amount, walletCap money.Sat) money.Sat {
	d := int64(available) + int64(amount) - int64(walletCap)
	if third := int64(walletCap) / 3; d < third {
		d = third
	}
	if d < 0 {
		d = 0
	}
	return money.Sat(d)
}

// WithdrawAmount sizes the withdrawal the custodian sends the user before
// an under-funded send: W = max(Wbase - B, P - B), where B is the user's
// available balance and P the intended payment amount. The caller only
// invokes this when P > B, so the result is always positive.
func WithdrawAmount(available, intended money.Sat) money.Sat {
	base := int64(BaseWalletAmount) - int64(available)
	need := int64(intended) - int64(available)
	if base > need {
		return money.Sat(base)
	}
	return money.Sat(need)
}
