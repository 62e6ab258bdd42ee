/*
redemption.go - Exchanging points for catalog rewards

PURPOSE:
  The only way points leave an account. A redemption appends one negative
  ledger entry; nothing is ever subtracted in place.

OVERDRAFT GUARANTEE:
  The entire redemption (recompute balance, check sufficiency, bump the
  reward counter, append the debit) runs inside one per-account
  transaction. Two concurrent redemptions against the same account
  serialize, so the second one sees the first one's debit and fails with
  InsufficientPointsError instead of overdrawing.

CAP GUARANTEE:
  The reward counter bump is the store's conditional increment, which
  fails once RedemptionLimit is reached. That closes the cross-account
  race: two members redeeming the last unit of a capped reward cannot
  both succeed, because only one conditional increment wins.

ORDERING:
  The counter is bumped before the debit is appended. If the append then
  fails, the transaction rolls back and the bump is discarded with it, so
  the counter never drifts from the ledger.
*/
package loyalty

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clubpoints/loyalty-engine/ledger"
)

// RedemptionResult is the outcome of a successful redemption.
type RedemptionResult struct {
	Reward           Reward
	Entry            ledger.Entry
	PointsRedeemed   int64
	RemainingBalance int64
}

// =============================================================================
// REDEMPTION COORDINATOR
// =============================================================================

// RedemptionCoordinator debits accounts against the reward catalog.
type RedemptionCoordinator struct {
	Store Store
	Now   func() time.Time
}

func NewRedemptionCoordinator(store Store) *RedemptionCoordinator {
	return &RedemptionCoordinator{Store: store, Now: time.Now}
}

// Redeem exchanges points for one unit of the reward. Fails with
// RewardUnavailableError when the reward is inactive or capped out, and
// with InsufficientPointsError when the balance cannot cover the cost.
func (r *RedemptionCoordinator) Redeem(ctx context.Context, id ledger.AccountID, rewardID RewardID) (*RedemptionResult, error) {
	var result *RedemptionResult

	err := r.Store.WithAccountTx(ctx, id, func(tx Store) error {
		reward, err := tx.Reward(ctx, rewardID)
		if err != nil {
			return err
		}
		if !reward.IsActive {
			return &ledger.RewardUnavailableError{RewardID: string(rewardID), Reason: "inactive"}
		}

		now := r.Now()
		calc := ledger.Calculator{Store: tx}
		available, err := calc.Available(ctx, id, now)
		if err != nil {
			return err
		}
		if available < reward.PointsRequired {
			return &ledger.InsufficientPointsError{
				AccountID: id,
				Required:  reward.PointsRequired,
				Available: available,
			}
		}

		// Claim a unit of the cap before touching the ledger. On any
		// later failure the rollback releases the claim.
		if err := tx.IncrementRedemptionCount(ctx, rewardID); err != nil {
			return err
		}

		entry := ledger.Entry{
			ID:          ledger.EntryID("ent-" + uuid.NewString()),
			AccountID:   id,
			Amount:      -reward.PointsRequired,
			Kind:        ledger.KindRedeemed,
			Source:      ledger.SourceRedemption,
			Description: "Redeemed: " + reward.Name,
			Multiplier:  decimal.NewFromInt(1),
			CreatedAt:   now,
			Status:      ledger.StatusRedeemed,
			ReferenceID: string(rewardID),
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.AdjustAccountCounters(ctx, id, 0, -reward.PointsRequired); err != nil {
			return err
		}

		reward.RedemptionCount++
		result = &RedemptionResult{
			Reward:           *reward,
			Entry:            entry,
			PointsRedeemed:   reward.PointsRequired,
			RemainingBalance: available - reward.PointsRequired,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
