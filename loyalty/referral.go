/*
referral.go - Two-sided referral settlement

PURPOSE:
  Tracks who referred whom and pays both sides when the referred member
  reaches the paid-member milestone. The milestone itself is an external
  signal: Complete() consumes it, it is never computed here.

STATE MACHINE:
  Referral:        pending -> completed
  Each payout side: pending -> awarded   (at most once, independently)

  Modeling the two payouts as independent per-side states (rather than a
  single referral-level flag) makes settlement idempotent and safe under
  partial completion: if awarding the referrer succeeds and awarding the
  referred fails, a retry pays only the missing side.

DOUBLE-PAYOUT DEFENSE (two layers):
  1. The store's AwardReferralSide is a conditional pending -> awarded
     transition executed inside the account transaction; only the caller
     that wins the transition issues the payout.
  2. Payout entries carry deterministic idempotency keys
     ("referral:<id>:referrer"), so even a store without conditional
     updates cannot append the same payout twice.

ERRORS:
  ErrSelfReferral      referrer == referred at registration
  ErrDuplicateReferral record already exists for the pair
  NotFoundError        unknown code or referral id
*/
package loyalty

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clubpoints/loyalty-engine/ledger"
)

// =============================================================================
// REFERRAL RECORD
// =============================================================================

type ReferralID string

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralCompleted ReferralStatus = "completed"
)

// PayoutStatus tracks one side of the two-sided reward.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutAwarded PayoutStatus = "awarded"
)

// ReferralSide selects which payout a store operation targets.
type ReferralSide string

const (
	SideReferrer ReferralSide = "referrer"
	SideReferred ReferralSide = "referred"
)

// ReferralPayout is one side's reward: how many points, and whether they
// have been issued yet.
type ReferralPayout struct {
	Points int64
	Status PayoutStatus
}

// Referral records one referrer/referred relationship and the settlement
// state of both payouts.
type Referral struct {
	ID         ReferralID
	ReferrerID ledger.AccountID
	ReferredID ledger.AccountID
	Code       string
	Status     ReferralStatus

	ReferrerReward ReferralPayout
	ReferredReward ReferralPayout

	CompletedAt time.Time
	CreatedAt   time.Time
}

// ReferralStats summarizes a member's referral activity.
type ReferralStats struct {
	Total               int
	Completed           int
	Pending             int
	TotalRewardsAwarded int64
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// ReferralSettlement coordinates registration and two-sided payout of
// referrals. Payouts are issued through the earning engine so they follow
// the same ledger path as every other point grant.
type ReferralSettlement struct {
	Store   Store
	Earning *EarningEngine

	// LinkBase is prepended to referral codes to build a shareable link,
	// e.g. "https://club.example.com/join".
	LinkBase string

	Now func() time.Time
}

func NewReferralSettlement(store Store, earning *EarningEngine, linkBase string) *ReferralSettlement {
	return &ReferralSettlement{
		Store:    store,
		Earning:  earning,
		LinkBase: strings.TrimRight(linkBase, "/"),
		Now:      time.Now,
	}
}

// EnsureCode returns the account's referral code and share link, assigning
// a code first if the account does not have one yet.
func (s *ReferralSettlement) EnsureCode(ctx context.Context, id ledger.AccountID) (code, link string, err error) {
	// Read-assign-save runs in the account transaction so two concurrent
	// calls cannot assign two codes.
	err = s.Store.WithAccountTx(ctx, id, func(tx Store) error {
		acct, err := tx.Account(ctx, id)
		if err != nil {
			return err
		}
		if acct.ReferralCode == "" {
			acct.ReferralCode = NewReferralCode()
			if err := tx.SaveAccount(ctx, *acct); err != nil {
				return err
			}
		}
		code = acct.ReferralCode
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return code, s.LinkBase + "/join?ref=" + code, nil
}

// Register creates a pending referral record linking the owner of the code
// to the newly registered account. Called during registration; the payouts
// wait for Complete.
func (s *ReferralSettlement) Register(ctx context.Context, code string, referredID ledger.AccountID) (*Referral, error) {
	if code == "" {
		return nil, &ledger.ValidationError{Field: "code", Message: "referral code required"}
	}

	referrer, err := s.Store.AccountByReferralCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if referrer.ID == referredID {
		return nil, ledger.ErrSelfReferral
	}

	if existing, err := s.Store.ReferralByPair(ctx, referrer.ID, referredID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ledger.ErrDuplicateReferral
	}

	ref := Referral{
		ID:             ReferralID("ref-" + uuid.NewString()),
		ReferrerID:     referrer.ID,
		ReferredID:     referredID,
		Code:           code,
		Status:         ReferralPending,
		ReferrerReward: ReferralPayout{Points: ReferrerPoints, Status: PayoutPending},
		ReferredReward: ReferralPayout{Points: ReferredPoints, Status: PayoutPending},
		CreatedAt:      s.Now(),
	}
	if err := s.Store.SaveReferral(ctx, ref); err != nil {
		return nil, err
	}

	// Link the referred account back to its referrer.
	referred, err := s.Store.Account(ctx, referredID)
	if err != nil {
		return nil, err
	}
	referred.ReferredBy = referrer.ID
	if err := s.Store.SaveAccount(ctx, *referred); err != nil {
		return nil, err
	}

	return &ref, nil
}

// Complete settles a referral after the referred member reached the paid
// milestone. Each side is awarded at most once; re-invoking on a settled
// record is a no-op for any side already awarded.
func (s *ReferralSettlement) Complete(ctx context.Context, id ReferralID) (*Referral, error) {
	ref, err := s.Store.Referral(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.settleSide(ctx, ref, SideReferrer); err != nil {
		return nil, err
	}
	if err := s.settleSide(ctx, ref, SideReferred); err != nil {
		return nil, err
	}

	if ref.Status != ReferralCompleted {
		if err := s.Store.CompleteReferral(ctx, ref.ID, s.Now()); err != nil {
			return nil, err
		}
	}

	return s.Store.Referral(ctx, id)
}

// settleSide performs the conditional pending -> awarded transition and the
// payout for one side inside that side's account transaction, so the
// check-then-act is atomic per referral side.
func (s *ReferralSettlement) settleSide(ctx context.Context, ref *Referral, side ReferralSide) error {
	accountID := ref.ReferrerID
	action := ActionReferrer
	description := "Referral bonus"
	if side == SideReferred {
		accountID = ref.ReferredID
		action = ActionReferred
		description = "Welcome bonus for being referred"
	}

	return s.Store.WithAccountTx(ctx, accountID, func(tx Store) error {
		awarded, err := tx.AwardReferralSide(ctx, ref.ID, side)
		if err != nil {
			return err
		}
		if !awarded {
			// Already settled by an earlier (or concurrent) invocation.
			return nil
		}

		_, err = s.Earning.EarnInTx(ctx, tx, accountID, EarnInput{
			Action:         action,
			Description:    description,
			ReferenceID:    string(ref.ID),
			IdempotencyKey: "referral:" + string(ref.ID) + ":" + string(side),
		})
		return err
	})
}

// Stats summarizes an account's referral performance.
func (s *ReferralSettlement) Stats(ctx context.Context, id ledger.AccountID) (ReferralStats, error) {
	refs, err := s.Store.ReferralsByReferrer(ctx, id)
	if err != nil {
		return ReferralStats{}, err
	}

	stats := ReferralStats{Total: len(refs)}
	for _, r := range refs {
		switch r.Status {
		case ReferralCompleted:
			stats.Completed++
		default:
			stats.Pending++
		}
		if r.ReferrerReward.Status == PayoutAwarded {
			stats.TotalRewardsAwarded += r.ReferrerReward.Points
		}
	}
	return stats, nil
}

// NewReferralCode generates a shareable club code, e.g. "CLB-4F21A9".
func NewReferralCode() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "CLB-" + id[:6]
}
