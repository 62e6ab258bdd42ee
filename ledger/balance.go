/*
balance.go - Balance calculation from ledger entries

PURPOSE:
  Computes the authoritative spendable balance for an account. This is the
  central projection that answers "how many points can this member spend?"

KEY INSIGHT:
  Balance is a pure fold over the ledger. Accounts carry denormalized
  counters (LifetimePoints, CachedAvailablePoints) as a display
  convenience, but those caches may be stale and are never trusted for a
  correctness decision. Any divergence is resolved by recomputing here.

AVAILABILITY:
  available = sum of Amount over entries where Countable(entry, now)

  i.e. debits always, credits while active and unexpired. See
  expiration.go for the predicate.

REDEMPTION RATE:
  50 points = $1. PointsValue is the dollar equivalent of the available
  balance at that fixed rate.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RedemptionRate is the fixed points-per-dollar conversion (50 points = $1).
const RedemptionRate = 50

// Summary is the balance view returned to callers.
type Summary struct {
	AccountID       AccountID
	LifetimePoints  int64
	AvailablePoints int64
	PointsValue     decimal.Decimal
	AsOf            time.Time
}

// =============================================================================
// CALCULATOR - Read-only projection over the store
// =============================================================================

// Calculator computes balances from the ledger store. It holds no state of
// its own and is safe for concurrent use.
type Calculator struct {
	Store Store
}

// Available returns the spendable balance at the given instant: the sum of
// every countable entry for the account.
func (c *Calculator) Available(ctx context.Context, id AccountID, now time.Time) (int64, error) {
	entries, err := c.Store.Entries(ctx, id, EntryFilter{})
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		if Countable(e, now) {
			total += e.Amount
		}
	}
	return total, nil
}

// Lifetime returns the total points ever earned by the account: the sum of
// all positive entries, regardless of status or expiry.
func (c *Calculator) Lifetime(ctx context.Context, id AccountID) (int64, error) {
	entries, err := c.Store.Entries(ctx, id, EntryFilter{})
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		if e.Amount > 0 {
			total += e.Amount
		}
	}
	return total, nil
}

// Value converts a point total to its dollar equivalent at the fixed
// redemption rate.
func (c *Calculator) Value(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Div(decimal.NewFromInt(RedemptionRate))
}

// Summary computes the full balance view in one pass over the ledger.
func (c *Calculator) Summary(ctx context.Context, id AccountID, now time.Time) (Summary, error) {
	entries, err := c.Store.Entries(ctx, id, EntryFilter{})
	if err != nil {
		return Summary{}, err
	}

	var available, lifetime int64
	for _, e := range entries {
		if Countable(e, now) {
			available += e.Amount
		}
		if e.Amount > 0 {
			lifetime += e.Amount
		}
	}

	return Summary{
		AccountID:       id,
		LifetimePoints:  lifetime,
		AvailablePoints: available,
		PointsValue:     c.Value(available),
		AsOf:            now,
	}, nil
}
