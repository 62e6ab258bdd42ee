/*
Package loyalty implements the membership club's loyalty program on top of
the core ledger.

PURPOSE:
  Layers the club's business rules over ledger's domain-agnostic entries:
  - Earning rules: fixed policy table plus plan-tier multipliers
  - Reward catalog: redeemable items with point costs and caps
  - Redemption: atomic per-account balance debit against the catalog
  - Referrals: two-sided payout settlement with per-side idempotency
  - Membership: registration (welcome bonus) and activation

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a member, with plan tier and denormalized point caches
  - PlanTier: subscription level determining the earn multiplier
  - ActionKind: the qualifying member actions that earn points

EARNING POLICY TABLE:
  purchase/service   floor(preTaxAmount x planMultiplier)
  welcome            250 (flat, at registration)
  referral: referrer 200 (flat, at settlement)
  referral: referred 100 (flat, at settlement)
  verified review     25 (flat)

  Plan multipliers: free 1.0, smart 1.1, premium 1.25, family 1.3.
  Multipliers apply to purchase/service only.

SEE ALSO:
  - earning.go:    Policy table execution
  - redemption.go: Catalog debits
  - referral.go:   Two-sided settlement
  - store.go:      Extended storage contract
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/clubpoints/loyalty-engine/ledger"
)

// =============================================================================
// PLAN TIERS
// =============================================================================

// PlanTier is the member's subscription level. The tier fixes the earn
// multiplier applied to purchase and service actions.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanSmart   PlanTier = "smart"
	PlanPremium PlanTier = "premium"
	PlanFamily  PlanTier = "family"
)

// ParsePlanTier validates an incoming plan string. Empty defaults to free.
func ParsePlanTier(s string) (PlanTier, error) {
	if s == "" {
		return PlanFree, nil
	}
	switch p := PlanTier(s); p {
	case PlanFree, PlanSmart, PlanPremium, PlanFamily:
		return p, nil
	}
	return "", &ledger.ValidationError{Field: "plan", Message: "unknown plan tier: " + s}
}

// Multiplier returns the plan's earn multiplier as an exact decimal.
func (p PlanTier) Multiplier() decimal.Decimal {
	switch p {
	case PlanSmart:
		return decimal.RequireFromString("1.1")
	case PlanPremium:
		return decimal.RequireFromString("1.25")
	case PlanFamily:
		return decimal.RequireFromString("1.3")
	default:
		return decimal.NewFromInt(1)
	}
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account identifies a member. LifetimePoints and CachedAvailablePoints are
// denormalized conveniences maintained incrementally by the engines; they
// may lag the ledger and are never used for a correctness decision
// (ledger.Calculator recomputes the authority from entries).
type Account struct {
	ID    ledger.AccountID
	Name  string
	Email string
	Plan  PlanTier

	// ReferralCode is the member's unique shareable code.
	ReferralCode string

	// ReferredBy is the account that referred this member, if any.
	ReferredBy ledger.AccountID

	LifetimePoints        int64 // cache, not authoritative
	CachedAvailablePoints int64 // cache, not authoritative

	IsMember    bool
	MemberSince time.Time
	CreatedAt   time.Time
}

// =============================================================================
// QUALIFYING ACTIONS
// =============================================================================

// ActionKind names a qualifying member action fed into the earning engine.
type ActionKind string

const (
	ActionPurchase  ActionKind = "purchase"
	ActionService   ActionKind = "service"
	ActionWelcome   ActionKind = "welcome"
	ActionReview    ActionKind = "review"
	ActionReferrer  ActionKind = "referrer_bonus"
	ActionReferred  ActionKind = "referred_bonus"
	ActionPromotion ActionKind = "promotion"
)

// ParseActionKind validates an incoming action string.
func ParseActionKind(s string) (ActionKind, error) {
	switch a := ActionKind(s); a {
	case ActionPurchase, ActionService, ActionWelcome, ActionReview,
		ActionReferrer, ActionReferred, ActionPromotion:
		return a, nil
	}
	return "", &ledger.ValidationError{Field: "action", Message: "unknown action kind: " + s}
}

// Flat point values from the policy table.
const (
	WelcomePoints  int64 = 250
	ReferrerPoints int64 = 200
	ReferredPoints int64 = 100
	ReviewPoints   int64 = 25
)
