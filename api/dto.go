/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the HTTP surface. These decouple the domain model
  from the wire contract so fields can be renamed or reshaped without
  touching the engines.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND POINTS:
  Point totals are plain integers. Dollar values (point value, cash
  value, purchase amounts) travel as JSON numbers; handlers convert to
  decimal at the boundary and reject NaN/Inf before conversion.
*/
package api

import (
	"time"

	"github.com/clubpoints/loyalty-engine/ledger"
	"github.com/clubpoints/loyalty-engine/loyalty"
)

// =============================================================================
// ACCOUNTS AND MEMBERSHIP
// =============================================================================

// RegisterRequest is the signup body.
type RegisterRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Plan         string `json:"plan,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// AccountDTO represents a member in API responses.
type AccountDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Plan            string `json:"plan"`
	ReferralCode    string `json:"referral_code,omitempty"`
	LifetimePoints  int64  `json:"lifetime_points"`
	AvailablePoints int64  `json:"available_points"`
	IsMember        bool   `json:"is_member"`
	MemberSince     string `json:"member_since,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// MemberStatusDTO is the membership view.
type MemberStatusDTO struct {
	IsMember    bool   `json:"is_member"`
	MemberSince string `json:"member_since,omitempty"`
}

// =============================================================================
// POINTS
// =============================================================================

// BalanceDTO is the authoritative balance projection.
type BalanceDTO struct {
	AccountID       string `json:"account_id"`
	LifetimePoints  int64  `json:"lifetime_points"`
	AvailablePoints int64  `json:"available_points"`
	PointsValue     string `json:"points_value"`
	AsOf            string `json:"as_of"`
}

// EntryDTO is one ledger line in history views.
type EntryDTO struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
	Multiplier  string `json:"multiplier"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// EarnRequest records a qualifying action.
type EarnRequest struct {
	Action string `json:"action"`

	// Amount is the pre-tax dollar total for purchase/service actions.
	Amount float64 `json:"amount,omitempty"`

	// Points is the grant size for promotion actions.
	Points int64 `json:"points,omitempty"`

	Description    string `json:"description,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// =============================================================================
// REWARDS
// =============================================================================

// RewardDTO represents a catalog entry.
type RewardDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Category        string `json:"category"`
	PointsRequired  int64  `json:"points_required"`
	CashValue       string `json:"cash_value"`
	RedemptionLimit *int   `json:"redemption_limit,omitempty"`
	RedemptionCount int    `json:"redemption_count"`
	Available       bool   `json:"available"`
}

// RedeemResponse is the outcome of a redemption.
type RedeemResponse struct {
	Reward           RewardDTO `json:"reward"`
	Entry            EntryDTO  `json:"entry"`
	PointsRedeemed   int64     `json:"points_redeemed"`
	RemainingBalance int64     `json:"remaining_balance"`
}

// =============================================================================
// REFERRALS
// =============================================================================

// ReferralCodeDTO is the shareable code and link.
type ReferralCodeDTO struct {
	Code string `json:"code"`
	Link string `json:"link"`
}

// ReferralStatsDTO summarizes referral activity.
type ReferralStatsDTO struct {
	Total               int   `json:"total"`
	Completed           int   `json:"completed"`
	Pending             int   `json:"pending"`
	TotalRewardsAwarded int64 `json:"total_rewards_awarded"`
}

// VerifyReferralRequest registers a referral for the authenticated account.
type VerifyReferralRequest struct {
	Code string `json:"code"`
}

// CompleteReferralRequest settles both payout sides.
type CompleteReferralRequest struct {
	ReferralID string `json:"referral_id"`
}

// ReferralDTO represents a referral record.
type ReferralDTO struct {
	ID             string `json:"id"`
	ReferrerID     string `json:"referrer_id"`
	ReferredID     string `json:"referred_id"`
	Code           string `json:"code"`
	Status         string `json:"status"`
	ReferrerPoints int64  `json:"referrer_points"`
	ReferrerPayout string `json:"referrer_payout"`
	ReferredPoints int64  `json:"referred_points"`
	ReferredPayout string `json:"referred_payout"`
	CompletedAt    string `json:"completed_at,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Required  int64  `json:"required,omitempty"`
	Available int64  `json:"available,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a loyalty.Account) AccountDTO {
	return AccountDTO{
		ID:              string(a.ID),
		Name:            a.Name,
		Email:           a.Email,
		Plan:            string(a.Plan),
		ReferralCode:    a.ReferralCode,
		LifetimePoints:  a.LifetimePoints,
		AvailablePoints: a.CachedAvailablePoints,
		IsMember:        a.IsMember,
		MemberSince:     formatTime(a.MemberSince),
		CreatedAt:       formatTime(a.CreatedAt),
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:          string(e.ID),
		Amount:      e.Amount,
		Kind:        string(e.Kind),
		Source:      string(e.Source),
		Description: e.Description,
		Multiplier:  e.Multiplier.String(),
		Status:      string(e.Status),
		ReferenceID: e.ReferenceID,
		CreatedAt:   formatTime(e.CreatedAt),
		ExpiresAt:   formatTime(e.ExpiresAt),
	}
}

func toRewardDTO(r loyalty.Reward) RewardDTO {
	return RewardDTO{
		ID:              string(r.ID),
		Name:            r.Name,
		Description:     r.Description,
		Category:        string(r.Category),
		PointsRequired:  r.PointsRequired,
		CashValue:       r.CashValue.String(),
		RedemptionLimit: r.RedemptionLimit,
		RedemptionCount: r.RedemptionCount,
		Available:       r.Available(),
	}
}

func toReferralDTO(r loyalty.Referral) ReferralDTO {
	return ReferralDTO{
		ID:             string(r.ID),
		ReferrerID:     string(r.ReferrerID),
		ReferredID:     string(r.ReferredID),
		Code:           r.Code,
		Status:         string(r.Status),
		ReferrerPoints: r.ReferrerReward.Points,
		ReferrerPayout: string(r.ReferrerReward.Status),
		ReferredPoints: r.ReferredReward.Points,
		ReferredPayout: string(r.ReferredReward.Status),
		CompletedAt:    formatTime(r.CompletedAt),
		CreatedAt:      formatTime(r.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
