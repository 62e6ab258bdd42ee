/*
earning.go - Policy table execution: qualifying actions -> ledger entries

PURPOSE:
  Converts a qualifying member action into exactly one ledger credit. This
  is the single write path for earning points; registration, reviews,
  referral settlement and promotions all funnel through here so every
  credit gets the same treatment (expiry window, idempotency key, counter
  maintenance).

AMOUNT DERIVATION:
  purchase/service   floor(preTaxAmount x planMultiplier), exact decimal
                     arithmetic, truncated toward zero at the end
  welcome            250 flat
  review              25 flat
  referrer_bonus     200 flat
  referred_bonus     100 flat
  promotion          caller-supplied Points (campaigns set their own value)

TWO ENTRY POINTS:
  Earn()     opens its own per-account transaction. Use from handlers.
  EarnInTx() runs inside a caller-held transaction. Used by referral
             settlement, which must award inside the same transaction as
             its conditional pending -> awarded transition.
*/
package loyalty

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clubpoints/loyalty-engine/ledger"
)

// EarnInput describes one qualifying action.
type EarnInput struct {
	Action ActionKind

	// Amount is the pre-tax dollar total for purchase and service actions.
	// Ignored for flat-rate actions.
	Amount decimal.Decimal

	// Points is the grant size for promotion actions. Ignored otherwise;
	// every other action's value comes from the policy table.
	Points int64

	Description string

	// ReferenceID links the credit to the record that produced it
	// (invoice, review, referral).
	ReferenceID string

	// IdempotencyKey makes the earn safe to retry. Optional.
	IdempotencyKey string
}

// =============================================================================
// EARNING ENGINE
// =============================================================================

// EarningEngine issues ledger credits for qualifying actions.
type EarningEngine struct {
	Store Store
	Now   func() time.Time
}

func NewEarningEngine(store Store) *EarningEngine {
	return &EarningEngine{Store: store, Now: time.Now}
}

// Earn records one qualifying action for the account inside its own
// per-account transaction and returns the appended entry.
func (e *EarningEngine) Earn(ctx context.Context, id ledger.AccountID, in EarnInput) (*ledger.Entry, error) {
	var entry *ledger.Entry
	err := e.Store.WithAccountTx(ctx, id, func(tx Store) error {
		var txErr error
		entry, txErr = e.EarnInTx(ctx, tx, id, in)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// EarnInTx records one qualifying action using the caller's transaction.
// The caller is responsible for holding the account transaction open.
func (e *EarningEngine) EarnInTx(ctx context.Context, tx Store, id ledger.AccountID, in EarnInput) (*ledger.Entry, error) {
	acct, err := tx.Account(ctx, id)
	if err != nil {
		return nil, err
	}

	points, kind, source, mult, err := resolveAction(in, acct.Plan)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	entry := ledger.Entry{
		ID:             ledger.EntryID("ent-" + uuid.NewString()),
		AccountID:      id,
		Amount:         points,
		Kind:           kind,
		Source:         source,
		Description:    in.Description,
		Multiplier:     mult,
		CreatedAt:      now,
		ExpiresAt:      ledger.ExpiryFor(now),
		Status:         ledger.StatusActive,
		ReferenceID:    in.ReferenceID,
		IdempotencyKey: in.IdempotencyKey,
	}
	if in.Action == ActionPurchase || in.Action == ActionService {
		entry.PurchaseAmount = in.Amount
	}

	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	// Keep the display caches roughly current. The ledger stays the
	// authority either way.
	if err := tx.AdjustAccountCounters(ctx, id, points, points); err != nil {
		return nil, err
	}

	return &entry, nil
}

// resolveAction applies the policy table: how many points the action is
// worth and how the resulting entry is classified.
func resolveAction(in EarnInput, plan PlanTier) (points int64, kind ledger.EntryKind, source ledger.EntrySource, mult decimal.Decimal, err error) {
	one := decimal.NewFromInt(1)

	switch in.Action {
	case ActionPurchase, ActionService:
		if in.Amount.IsNegative() {
			return 0, "", "", one, &ledger.ValidationError{Field: "amount", Message: "amount must not be negative"}
		}
		mult = plan.Multiplier()
		points = in.Amount.Mul(mult).Floor().IntPart()
		if points <= 0 {
			return 0, "", "", one, &ledger.ValidationError{Field: "amount", Message: "amount too small to earn points"}
		}
		source = ledger.SourcePurchase
		if in.Action == ActionService {
			source = ledger.SourceService
		}
		return points, ledger.KindEarned, source, mult, nil

	case ActionWelcome:
		return WelcomePoints, ledger.KindWelcome, ledger.SourceWelcome, one, nil

	case ActionReview:
		return ReviewPoints, ledger.KindEarned, ledger.SourceReview, one, nil

	case ActionReferrer:
		return ReferrerPoints, ledger.KindReferral, ledger.SourceReferral, one, nil

	case ActionReferred:
		return ReferredPoints, ledger.KindReferral, ledger.SourceReferral, one, nil

	case ActionPromotion:
		if in.Points <= 0 {
			return 0, "", "", one, &ledger.ValidationError{Field: "points", Message: "promotion grant must be positive"}
		}
		return in.Points, ledger.KindBonus, ledger.SourcePromotion, one, nil
	}

	return 0, "", "", one, &ledger.ValidationError{Field: "action", Message: "unknown action kind: " + string(in.Action)}
}
