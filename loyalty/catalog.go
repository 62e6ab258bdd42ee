/*
catalog.go - Reward catalog types and the default club catalog

PURPOSE:
  Defines what members can exchange points for. Each reward has a point
  cost, a cash-equivalent value, an activation flag, and an optional
  redemption cap (RedemptionLimit). The cap invariant - RedemptionCount
  never exceeds RedemptionLimit - is enforced by the store's conditional
  increment, not by read-then-write in the coordinator.
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/clubpoints/loyalty-engine/ledger"
)

// =============================================================================
// REWARD CATALOG
// =============================================================================

type RewardID string

// RewardCategory groups catalog entries for browsing.
type RewardCategory string

const (
	CategoryEssentialMaintenance RewardCategory = "essential_maintenance"
	CategoryWashDetailing        RewardCategory = "car_wash_detailing"
	CategoryExclusiveDiscounts   RewardCategory = "exclusive_discounts"
	CategoryPremiumUpgrades      RewardCategory = "premium_upgrades"
	CategoryOther                RewardCategory = "other"
)

// ParseRewardCategory validates an incoming category string.
func ParseRewardCategory(s string) (RewardCategory, error) {
	switch c := RewardCategory(s); c {
	case CategoryEssentialMaintenance, CategoryWashDetailing,
		CategoryExclusiveDiscounts, CategoryPremiumUpgrades, CategoryOther:
		return c, nil
	}
	return "", &ledger.ValidationError{Field: "category", Message: "unknown reward category: " + s}
}

// Reward is one redeemable catalog entry.
type Reward struct {
	ID          RewardID
	Name        string
	Description string
	Category    RewardCategory

	// PointsRequired is the redemption cost. Always positive.
	PointsRequired int64

	// CashValue is the dollar equivalent, for display.
	CashValue decimal.Decimal

	// ProviderRef optionally links the reward to a fulfilling provider.
	ProviderRef string

	// RedemptionLimit caps total redemptions across all members.
	// Nil means unlimited.
	RedemptionLimit *int
	RedemptionCount int

	IsActive  bool
	CreatedAt time.Time
}

// Available reports whether the reward can currently be redeemed.
func (r Reward) Available() bool {
	if !r.IsActive {
		return false
	}
	if r.RedemptionLimit != nil && r.RedemptionCount >= *r.RedemptionLimit {
		return false
	}
	return true
}

// =============================================================================
// DEFAULT CATALOG - Seed data for new deployments
// =============================================================================

// DefaultCatalog returns the club's standard reward lineup. Used by the
// server's -seed flag; safe to re-apply (stores upsert by ID).
func DefaultCatalog() []Reward {
	cash := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }

	return []Reward{
		{
			ID:             "reward-tire-rotation",
			Name:           "Free Tire Rotation",
			Description:    "One standard tire rotation at any partner shop",
			Category:       CategoryEssentialMaintenance,
			PointsRequired: 300,
			CashValue:      cash("6"),
			IsActive:       true,
		},
		{
			ID:             "reward-wash-vacuum",
			Name:           "Car Wash & Vacuum",
			Description:    "Full exterior wash and interior vacuum",
			Category:       CategoryWashDetailing,
			PointsRequired: 400,
			CashValue:      cash("8"),
			IsActive:       true,
		},
		{
			ID:             "reward-premium-detail",
			Name:           "Premium Detailing",
			Description:    "Full premium detailing service",
			Category:       CategoryWashDetailing,
			PointsRequired: 2000,
			CashValue:      cash("40"),
			IsActive:       true,
		},
		{
			ID:             "reward-credit-10",
			Name:           "$10 Service Credit",
			Description:    "Apply $10 credit to any service",
			Category:       CategoryExclusiveDiscounts,
			PointsRequired: 500,
			CashValue:      cash("10"),
			IsActive:       true,
		},
		{
			ID:             "reward-credit-25",
			Name:           "$25 Service Credit",
			Description:    "Apply $25 credit to any service",
			Category:       CategoryExclusiveDiscounts,
			PointsRequired: 1250,
			CashValue:      cash("25"),
			IsActive:       true,
		},
	}
}
