/*
store.go - Extended storage contract for the loyalty domain

PURPOSE:
  Extends ledger.Store with the club's other collections (accounts,
  rewards, referrals) and with the per-account transactional primitive the
  coordinators rely on.

THE CONCURRENCY PRIMITIVE:
  WithAccountTx(accountID, fn) runs fn atomically AND serialized against
  every other transaction touching the same account. This is what closes
  the classic overdraft race: "read balance, then append debit" executes
  as one unit, so two concurrent redemptions against a balance sufficient
  for only one cannot both pass the sufficiency check. Only per-account
  exclusivity is required - transactions on different accounts may run
  concurrently.

CONDITIONAL UPDATES:
  Two operations are check-and-set at the store layer because their
  invariants span accounts or races:
  - IncrementRedemptionCount: fails once a reward's cap is reached, even
    under concurrent redemptions by different members
  - AwardReferralSide: pending -> awarded exactly once per side

NOT-FOUND CONVENTIONS:
  Account / AccountByReferralCode / Reward / Referral return a
  *ledger.NotFoundError for unknown identifiers. ReferralByPair returns
  (nil, nil) when no record exists - absence is a normal answer there.

IMPLEMENTATIONS:
  - store/memory:  tests and development
  - store/sqlite:  production
*/
package loyalty

import (
	"context"
	"time"

	"github.com/clubpoints/loyalty-engine/ledger"
)

// Store is the full persistence surface the loyalty engines require.
type Store interface {
	ledger.Store

	// --- Accounts ---

	// SaveAccount inserts or updates an account.
	SaveAccount(ctx context.Context, a Account) error

	// Account returns an account by ID.
	Account(ctx context.Context, id ledger.AccountID) (*Account, error)

	// AccountByReferralCode resolves a referral code to its owner.
	AccountByReferralCode(ctx context.Context, code string) (*Account, error)

	// AdjustAccountCounters incrementally maintains the denormalized
	// caches. Best-effort convenience: the ledger remains the authority.
	AdjustAccountCounters(ctx context.Context, id ledger.AccountID, lifetimeDelta, availableDelta int64) error

	// --- Reward catalog ---

	// SaveReward inserts or updates a catalog entry.
	SaveReward(ctx context.Context, r Reward) error

	// Reward returns a catalog entry by ID.
	Reward(ctx context.Context, id RewardID) (*Reward, error)

	// ListRewards returns active catalog entries, cheapest first,
	// optionally filtered by category.
	ListRewards(ctx context.Context, category *RewardCategory) ([]Reward, error)

	// IncrementRedemptionCount bumps a reward's redemption counter,
	// failing with a RewardUnavailableError when the redemption limit
	// has been reached. The check and the increment are atomic.
	IncrementRedemptionCount(ctx context.Context, id RewardID) error

	// --- Referrals ---

	// SaveReferral inserts or updates a referral record.
	SaveReferral(ctx context.Context, r Referral) error

	// Referral returns a referral record by ID.
	Referral(ctx context.Context, id ReferralID) (*Referral, error)

	// ReferralByPair returns the record for (referrer, referred), or
	// (nil, nil) when none exists.
	ReferralByPair(ctx context.Context, referrer, referred ledger.AccountID) (*Referral, error)

	// ReferralsByReferrer returns every referral made by an account.
	ReferralsByReferrer(ctx context.Context, referrer ledger.AccountID) ([]Referral, error)

	// AwardReferralSide transitions one payout side from pending to
	// awarded. Returns true only for the caller that performed the
	// transition; false if the side was already awarded.
	AwardReferralSide(ctx context.Context, id ReferralID, side ReferralSide) (bool, error)

	// CompleteReferral marks the record completed with the given
	// settlement time. Idempotent.
	CompleteReferral(ctx context.Context, id ReferralID, completedAt time.Time) error

	// --- Transactions ---

	// WithAccountTx executes fn atomically, serialized with respect to
	// every other transaction for the same account. If fn returns an
	// error the transaction's writes are discarded.
	WithAccountTx(ctx context.Context, id ledger.AccountID, fn func(Store) error) error
}
