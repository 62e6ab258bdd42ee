/*
Package ledger provides the core loyalty points ledger.

PURPOSE:
  This package contains the domain-agnostic heart of the loyalty program:
  signed, immutable point entries per account, the storage contract for
  persisting them, and the projections (balance, expiry) computed from them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable signed point transaction (the ledger record)
  - EntryKind / EntrySource / EntryStatus: Closed enums for classification
  - AccountID / EntryID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Ledger truth: balance is always recomputable from entries alone;
     any cached counter on an account is a convenience, never an authority
  2. Immutability: an entry's amount, kind, source and timestamps never
     change after creation; only Status may transition (active -> expired)
  3. Closed enums: unknown kind/source/status strings are rejected at the
     boundary instead of being stored as free text
  4. Precision: plan multipliers and cash values use decimal.Decimal;
     point amounts themselves are whole int64 values

SEE ALSO:
  - store.go: Persistence contract for entries
  - balance.go: Balance calculation from entries
  - expiration.go: Validity windows and the advisory sweep
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string

// =============================================================================
// ENTRY CLASSIFICATION - Closed enums, rejected at the boundary when unknown
// =============================================================================

// EntryKind classifies what a ledger entry represents.
type EntryKind string

const (
	KindEarned   EntryKind = "earned"   // Points from purchases, services, reviews
	KindRedeemed EntryKind = "redeemed" // Negative entry from a reward redemption
	KindExpired  EntryKind = "expired"  // Bookkeeping marker (sweep output)
	KindBonus    EntryKind = "bonus"    // Promotional grant
	KindReferral EntryKind = "referral" // Referral settlement payout
	KindWelcome  EntryKind = "welcome"  // Registration welcome bonus
)

// ParseEntryKind validates an incoming kind string.
func ParseEntryKind(s string) (EntryKind, error) {
	switch k := EntryKind(s); k {
	case KindEarned, KindRedeemed, KindExpired, KindBonus, KindReferral, KindWelcome:
		return k, nil
	}
	return "", &ValidationError{Field: "kind", Message: "unknown entry kind: " + s}
}

// EntrySource records which member action produced an entry.
type EntrySource string

const (
	SourcePurchase   EntrySource = "purchase"
	SourceService    EntrySource = "service"
	SourceReferral   EntrySource = "referral"
	SourceReview     EntrySource = "review"
	SourceWelcome    EntrySource = "welcome"
	SourcePromotion  EntrySource = "promotion"
	SourceRedemption EntrySource = "redemption"
)

// ParseEntrySource validates an incoming source string.
func ParseEntrySource(s string) (EntrySource, error) {
	switch src := EntrySource(s); src {
	case SourcePurchase, SourceService, SourceReferral, SourceReview,
		SourceWelcome, SourcePromotion, SourceRedemption:
		return src, nil
	}
	return "", &ValidationError{Field: "source", Message: "unknown entry source: " + s}
}

// EntryStatus is the only mutable attribute of an entry.
//
// Valid transitions:
//   pending -> active
//   active  -> expired   (advisory sweep, credits only)
//
// active -> redeemed is NOT a valid transition: a redemption is recorded as
// a new negative entry, never as a mutation of an earn entry. Debit entries
// are created directly with StatusRedeemed.
type EntryStatus string

const (
	StatusPending  EntryStatus = "pending"
	StatusActive   EntryStatus = "active"
	StatusRedeemed EntryStatus = "redeemed"
	StatusExpired  EntryStatus = "expired"
)

// ParseEntryStatus validates an incoming status string.
func ParseEntryStatus(s string) (EntryStatus, error) {
	switch st := EntryStatus(s); st {
	case StatusPending, StatusActive, StatusRedeemed, StatusExpired:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: "unknown entry status: " + s}
}

// =============================================================================
// ENTRY - One immutable signed point transaction
// =============================================================================

// Entry is a single ledger record. Amount is positive for earns and bonuses,
// negative for redemptions. Once appended, everything except Status is frozen.
type Entry struct {
	ID        EntryID
	AccountID AccountID
	Amount    int64
	Kind      EntryKind
	Source    EntrySource

	// Description is the human-readable line shown in history views.
	Description string

	// PurchaseAmount is the pre-tax purchase total an earn was derived from.
	// Zero for entries not tied to a purchase.
	PurchaseAmount decimal.Decimal

	// Multiplier is the plan-tier scaling factor applied at issuance.
	// Fixed at creation; 1 for flat-rate bonuses.
	Multiplier decimal.Decimal

	CreatedAt time.Time

	// ExpiresAt is CreatedAt + 36 months for earn-type entries, fixed at
	// issuance and never recalculated. Zero for debit entries, which do
	// not expire.
	ExpiresAt time.Time

	Status EntryStatus

	// ReferenceID links the entry to the record that produced it
	// (purchase, review, referral, reward redemption).
	ReferenceID string

	// IdempotencyKey guards against duplicate appends on retry.
	// Empty means no idempotency guarantee for this entry.
	IdempotencyKey string
}

// IsDebit reports whether the entry removes points from the account.
func (e Entry) IsDebit() bool { return e.Amount < 0 }

// Expires reports whether the entry carries a validity window at all.
func (e Entry) Expires() bool { return !e.ExpiresAt.IsZero() }
