/*
expiration.go - Validity windows for earned points

PURPOSE:
  Earned points stop counting toward the spendable balance 36 months after
  issuance. This file defines the window, the pure predicate that decides
  whether an entry still counts, and the advisory sweep that flips lapsed
  credits to StatusExpired for bookkeeping.

CRITICAL PROPERTY:
  Correctness never depends on the sweep. Countable() filters lapsed
  credits at read time, so the balance is right whether or not the sweep
  has run. The sweep only narrows future sums (active -> expired); it can
  never widen a balance, which is why it is safe to run concurrently with
  any other operation.
*/
package ledger

import (
	"context"
	"time"
)

// ExpirationMonths is the validity window for earn-type entries.
const ExpirationMonths = 36

// ExpiryFor returns the expiration instant for an entry created at the
// given time. Fixed at issuance; never recalculated.
func ExpiryFor(createdAt time.Time) time.Time {
	return createdAt.AddDate(0, ExpirationMonths, 0)
}

// Countable reports whether an entry contributes to the available balance
// at the given instant.
//
// Debits always count: a spent point stays spent even after the credits
// that funded it lapse. Credits count while they are active and inside
// their validity window.
func Countable(e Entry, now time.Time) bool {
	if e.Amount < 0 {
		return true
	}
	return e.Status == StatusActive && e.Expires() && e.ExpiresAt.After(now)
}

// Sweep flips lapsed active credits to StatusExpired. Advisory: removing
// this call changes no balance, only the status column seen in history
// views. Safe to invoke repeatedly and concurrently.
func Sweep(ctx context.Context, store Store, now time.Time) (int, error) {
	return store.MarkExpired(ctx, now)
}
