/**
 * @description
 * This file implements the balance gate: the budget check that decides whether
 * a requested payout amount is covered. Two modes are supported: a static
 * configured ceiling in major currency units, and an optional remote balance
 * query against the payout network's balance account.
 */

package app

import (
	"context"
	"log"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// BalanceQuerier is the subset of the network client used by the gate.
// The returned value is the summed balance in minor units.
type BalanceQuerier interface {
	QueryBalance(ctx context.Context) (int64, error)
}

// Budget is an available payout budget. When Unlimited is true no ceiling is
// configured and any amount is covered.
type Budget struct {
	Unlimited bool
	Amount    decimal.Decimal
}

// Covers reports whether the budget covers the requested amount. Exact
// equality is allowed.
func (b Budget) Covers(amount decimal.Decimal) bool {
	return b.Unlimited || amount.LessThanOrEqual(b.Amount)
}

// BalanceGate determines the available payout budget.
type BalanceGate struct {
	querier   BalanceQuerier
	useRemote bool
	ceiling   string // configured static budget, major units, may be empty
}

// NewBalanceGate creates a gate. querier may be nil when the remote mode is
// disabled.
func NewBalanceGate(querier BalanceQuerier, useRemote bool, staticCeiling string) *BalanceGate {
	return &BalanceGate{querier: querier, useRemote: useRemote, ceiling: staticCeiling}
}

// AvailableBudget resolves the budget for a payout attempt.
//
// When the remote mode is enabled, the network's minor-unit balances are
// summed, converted to major units, and floor-rounded to 2 decimals. A remote
// failure falls through to the static ceiling; the result is unlimited only
// when no static ceiling is configured either. A static ceiling that is
// negative or unparseable counts as zero.
func (g *BalanceGate) AvailableBudget(ctx context.Context) (Budget, error) {
	if g.useRemote && g.querier != nil {
		minor, err := g.querier.QueryBalance(ctx)
		if err == nil {
			major := decimal.NewFromInt(minor).Div(hundred).RoundFloor(2)
			return Budget{Amount: major}, nil
		}
		log.Printf("level=warn component=balance_gate msg=\"remote balance fetch failed; using static ceiling\" err=%v", err)
	}

	if g.ceiling == "" {
		return Budget{Unlimited: true}, nil
	}
	ceiling, err := decimal.NewFromString(g.ceiling)
	if err != nil || ceiling.IsNegative() {
		return Budget{Amount: decimal.Zero}, nil
	}
	return Budget{Amount: ceiling.RoundFloor(2)}, nil
}
