/*
handlers.go - HTTP handlers for the loyalty program

PURPOSE:
  Exposes the loyalty engines over REST. Handlers parse and validate
  input, delegate to the domain layer, and map domain errors to HTTP
  statuses. No business rule lives here.

ENDPOINTS:
  Accounts:
    POST /api/accounts/register        Sign up (welcome bonus, referral intake)

  Points:
    GET  /api/points                   Ledger history (?status=&kind=&source=&limit=)
    GET  /api/points/balance           Balance summary (recomputed, never cached)
    POST /api/points/earn              Record a qualifying action

  Rewards:
    GET  /api/rewards                  Catalog (?category=)
    GET  /api/rewards/{id}             Single reward
    POST /api/rewards/{id}/redeem      Redeem

  Referrals:
    GET  /api/referrals/my-code        Shareable code and link
    GET  /api/referrals/stats          Referral performance
    POST /api/referrals/verify         Register a referral for this account
    POST /api/referrals/complete       Settle both payout sides

  Members:
    GET  /api/members/status           Membership state
    POST /api/members/join             Activate membership

IDENTITY:
  Authorization: Bearer <token>. The resolver maps the opaque token to an
  account ID; the default resolver treats the token as the account ID
  itself and verifies it exists. Identity provisioning is out of scope.

ERROR MAPPING:
  400  validation, insufficient points (with required/available),
       self referral, duplicate referral, already a member
  401  missing or unresolvable bearer token
  404  unknown account/reward/referral, inactive reward
  409  reward redemption cap reached, duplicate idempotency key
  500  everything else
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/clubpoints/loyalty-engine/ledger"
	"github.com/clubpoints/loyalty-engine/loyalty"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AccountResolver maps a bearer token to an account ID.
type AccountResolver func(ctx context.Context, token string) (ledger.AccountID, error)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      loyalty.Store
	Calc       *ledger.Calculator
	Earning    *loyalty.EarningEngine
	Redemption *loyalty.RedemptionCoordinator
	Referrals  *loyalty.ReferralSettlement
	Membership *loyalty.MembershipService
	Resolve    AccountResolver

	Now func() time.Time
}

// NewHandler wires the engines over the given store. The default resolver
// treats the bearer token as the account ID.
func NewHandler(store loyalty.Store, membership *loyalty.MembershipService, referrals *loyalty.ReferralSettlement) *Handler {
	h := &Handler{
		Store:      store,
		Calc:       &ledger.Calculator{Store: store},
		Earning:    loyalty.NewEarningEngine(store),
		Redemption: loyalty.NewRedemptionCoordinator(store),
		Referrals:  referrals,
		Membership: membership,
		Now:        time.Now,
	}
	h.Resolve = func(ctx context.Context, token string) (ledger.AccountID, error) {
		id := ledger.AccountID(token)
		if _, err := store.Account(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	}
	return h
}

type contextKey string

const accountKey contextKey = "account"

// RequireAccount resolves the bearer token and stores the account ID in
// the request context.
func (h *Handler) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		id, err := h.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unknown account", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, id)))
	})
}

func accountID(r *http.Request) ledger.AccountID {
	id, _ := r.Context().Value(accountKey).(ledger.AccountID)
	return id
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Register creates a new account.
// POST /api/accounts/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	acct, err := h.Membership.Register(r.Context(), loyalty.RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		Plan:         req.Plan,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(*acct))
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// History returns the account's ledger, newest first.
// GET /api/points
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	var filter ledger.EntryFilter

	if s := r.URL.Query().Get("status"); s != "" {
		status, err := ledger.ParseEntryStatus(s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.Status = &status
	}
	if s := r.URL.Query().Get("kind"); s != "" {
		kind, err := ledger.ParseEntryKind(s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.Kind = &kind
	}
	if s := r.URL.Query().Get("source"); s != "" {
		source, err := ledger.ParseEntrySource(s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.Source = &source
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = limit
	}

	entries, err := h.Store.Entries(r.Context(), accountID(r), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Balance returns the recomputed balance projection.
// GET /api/points/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id := accountID(r)
	summary, err := h.Calc.Summary(r.Context(), id, h.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:       string(id),
		LifetimePoints:  summary.LifetimePoints,
		AvailablePoints: summary.AvailablePoints,
		PointsValue:     summary.PointsValue.StringFixed(2),
		AsOf:            formatTime(summary.AsOf),
	})
}

// Earn records a qualifying action for the account.
// POST /api/points/earn
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	var req EarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	action, err := loyalty.ParseActionKind(req.Action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// decimal cannot represent non-finite values; reject before converting.
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		writeError(w, http.StatusBadRequest, "Amount must be a finite number", nil)
		return
	}

	entry, err := h.Earning.Earn(r.Context(), accountID(r), loyalty.EarnInput{
		Action:         action,
		Amount:         decimal.NewFromFloat(req.Amount),
		Points:         req.Points,
		Description:    req.Description,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewards returns the active catalog, cheapest first.
// GET /api/rewards
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	var category *loyalty.RewardCategory
	if s := r.URL.Query().Get("category"); s != "" {
		c, err := loyalty.ParseRewardCategory(s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		category = &c
	}

	rewards, err := h.Store.ListRewards(r.Context(), category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rewards", err)
		return
	}

	dtos := make([]RewardDTO, len(rewards))
	for i, rw := range rewards {
		dtos[i] = toRewardDTO(rw)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReward returns a single catalog entry.
// GET /api/rewards/{id}
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	reward, err := h.Store.Reward(r.Context(), loyalty.RewardID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(*reward))
}

// Redeem exchanges points for a reward.
// POST /api/rewards/{id}/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	result, err := h.Redemption.Redeem(r.Context(), accountID(r),
		loyalty.RewardID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RedeemResponse{
		Reward:           toRewardDTO(result.Reward),
		Entry:            toEntryDTO(result.Entry),
		PointsRedeemed:   result.PointsRedeemed,
		RemainingBalance: result.RemainingBalance,
	})
}

// =============================================================================
// REFERRAL HANDLERS
// =============================================================================

// MyCode returns (assigning if needed) the account's referral code.
// GET /api/referrals/my-code
func (h *Handler) MyCode(w http.ResponseWriter, r *http.Request) {
	code, link, err := h.Referrals.EnsureCode(r.Context(), accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReferralCodeDTO{Code: code, Link: link})
}

// ReferralStats summarizes the account's referral activity.
// GET /api/referrals/stats
func (h *Handler) ReferralStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Referrals.Stats(r.Context(), accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReferralStatsDTO{
		Total:               stats.Total,
		Completed:           stats.Completed,
		Pending:             stats.Pending,
		TotalRewardsAwarded: stats.TotalRewardsAwarded,
	})
}

// VerifyReferral registers a referral naming the authenticated account as
// the referred party. Unlike referral intake at signup, failures surface.
// POST /api/referrals/verify
func (h *Handler) VerifyReferral(w http.ResponseWriter, r *http.Request) {
	var req VerifyReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ref, err := h.Referrals.Register(r.Context(), req.Code, accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReferralDTO(*ref))
}

// CompleteReferral settles both payout sides of a referral.
// POST /api/referrals/complete
func (h *Handler) CompleteReferral(w http.ResponseWriter, r *http.Request) {
	var req CompleteReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ReferralID == "" {
		writeError(w, http.StatusBadRequest, "referral_id required", nil)
		return
	}

	ref, err := h.Referrals.Complete(r.Context(), loyalty.ReferralID(req.ReferralID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReferralDTO(*ref))
}

// =============================================================================
// MEMBERSHIP HANDLERS
// =============================================================================

// MemberStatus returns the account's membership state.
// GET /api/members/status
func (h *Handler) MemberStatus(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Store.Account(r.Context(), accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MemberStatusDTO{
		IsMember:    acct.IsMember,
		MemberSince: formatTime(acct.MemberSince),
	})
}

// Join activates the account's membership.
// POST /api/members/join
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Membership.Join(r.Context(), accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientPointsError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     "Insufficient points",
			Details:   err.Error(),
			Required:  insufficient.Required,
			Available: insufficient.Available,
		})
		return
	}

	var unavailable *ledger.RewardUnavailableError
	if errors.As(err, &unavailable) {
		if unavailable.Reason == "limit_reached" {
			writeError(w, http.StatusConflict, "Reward not available", err)
			return
		}
		writeError(w, http.StatusNotFound, "Reward not available", err)
		return
	}

	switch {
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "Duplicate request", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
