/*
handlers_test.go - HTTP tests for the loyalty API

Tests drive the real router over the in-memory store, so middleware,
routing, JSON codecs and error mapping are all exercised together.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/clubpoints/loyalty-engine/ledger"
	"github.com/clubpoints/loyalty-engine/loyalty"
	"github.com/clubpoints/loyalty-engine/store/memory"
)

type testAPI struct {
	store  *memory.Store
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)

	earning := loyalty.NewEarningEngine(store)
	referrals := loyalty.NewReferralSettlement(store, earning, "https://club.example.com")
	membership := loyalty.NewMembershipService(store, earning, referrals, log)

	return &testAPI{
		store:  store,
		router: NewRouter(NewHandler(store, membership, referrals)),
	}
}

// do sends a request through the full router. A non-empty token becomes
// the bearer credential.
func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func (a *testAPI) seedAccount(t *testing.T, id string, plan loyalty.PlanTier) {
	t.Helper()
	acct := loyalty.Account{
		ID:           ledger.AccountID(id),
		Name:         "Member " + id,
		Email:        id + "@example.com",
		Plan:         plan,
		ReferralCode: "CLB-" + id,
		CreatedAt:    time.Now(),
	}
	if err := a.store.SaveAccount(context.Background(), acct); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func (a *testAPI) seedReward(t *testing.T, r loyalty.Reward) {
	t.Helper()
	if err := a.store.SaveReward(context.Background(), r); err != nil {
		t.Fatalf("seed reward: %v", err)
	}
}

func (a *testAPI) fund(t *testing.T, id string, points int64) {
	t.Helper()
	engine := loyalty.NewEarningEngine(a.store)
	_, err := engine.Earn(context.Background(), ledger.AccountID(id), loyalty.EarnInput{
		Action: loyalty.ActionPromotion,
		Points: points,
	})
	if err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

func testReward() loyalty.Reward {
	return loyalty.Reward{
		ID:             "reward-wash",
		Name:           "Car Wash",
		Category:       loyalty.CategoryWashDetailing,
		PointsRequired: 300,
		CashValue:      decimal.RequireFromString("6"),
		IsActive:       true,
		CreatedAt:      time.Now(),
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

func TestHTTP_Register(t *testing.T) {
	// GIVEN: A fresh API
	// WHEN: Registering a premium member
	// THEN: 201 with the welcome bonus already reflected in both caches

	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/accounts/register", "", RegisterRequest{
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
		Plan:  "premium",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}

	acct := decode[AccountDTO](t, rec)
	if acct.Plan != "premium" {
		t.Errorf("expected plan premium, got %s", acct.Plan)
	}
	if acct.ReferralCode == "" {
		t.Error("expected a referral code to be assigned")
	}
	if acct.LifetimePoints != 250 || acct.AvailablePoints != 250 {
		t.Errorf("expected 250/250 after the welcome bonus, got %d/%d",
			acct.LifetimePoints, acct.AvailablePoints)
	}
	if acct.IsMember {
		t.Error("registration must not activate membership")
	}
}

func TestHTTP_Register_Validation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/accounts/register", "", RegisterRequest{
		Name:  "Ada",
		Email: "not-an-email",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestHTTP_MissingBearerToken(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/points/balance", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestHTTP_UnknownBearerToken(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/points/balance", "ghost", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unknown account, got %d", rec.Code)
	}
}

// =============================================================================
// POINTS
// =============================================================================

func TestHTTP_Balance(t *testing.T) {
	// GIVEN: A member holding 250 points
	// WHEN: Reading the balance
	// THEN: The projection and its dollar value are returned

	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanFree)
	a.fund(t, "m1", 250)

	rec := a.do(t, http.MethodGet, "/api/points/balance", "m1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	balance := decode[BalanceDTO](t, rec)
	if balance.AvailablePoints != 250 {
		t.Errorf("expected 250 available, got %d", balance.AvailablePoints)
	}
	if balance.PointsValue != "5.00" {
		t.Errorf("expected points_value 5.00, got %s", balance.PointsValue)
	}
}

func TestHTTP_Earn_Purchase(t *testing.T) {
	// GIVEN: A premium member
	// WHEN: Posting an 89.99 purchase
	// THEN: 201 with floor(89.99 x 1.25) = 112 points

	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanPremium)

	rec := a.do(t, http.MethodPost, "/api/points/earn", "m1", EarnRequest{
		Action: "purchase",
		Amount: 89.99,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}

	entry := decode[EntryDTO](t, rec)
	if entry.Amount != 112 {
		t.Errorf("expected 112 points, got %d", entry.Amount)
	}
	if entry.Multiplier != "1.25" {
		t.Errorf("expected multiplier 1.25, got %s", entry.Multiplier)
	}
}

func TestHTTP_Earn_UnknownAction(t *testing.T) {
	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanFree)

	rec := a.do(t, http.MethodPost, "/api/points/earn", "m1", EarnRequest{Action: "lottery"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHTTP_Earn_DuplicateIdempotencyKey(t *testing.T) {
	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanFree)

	req := EarnRequest{Action: "purchase", Amount: 40, IdempotencyKey: "invoice-9"}
	if rec := a.do(t, http.MethodPost, "/api/points/earn", "m1", req); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec := a.do(t, http.MethodPost, "/api/points/earn", "m1", req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d", rec.Code)
	}
}

func TestHTTP_History_Filter(t *testing.T) {
	// GIVEN: A member with a review and a purchase on record
	// WHEN: Filtering history by source
	// THEN: Only matching entries are returned, newest first

	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanFree)
	engine := loyalty.NewEarningEngine(a.store)
	if _, err := engine.Earn(context.Background(), "m1", loyalty.EarnInput{Action: loyalty.ActionReview}); err != nil {
		t.Fatalf("earn review: %v", err)
	}
	if _, err := engine.Earn(context.Background(), "m1", loyalty.EarnInput{
		Action: loyalty.ActionPurchase,
		Amount: decimal.RequireFromString("10"),
	}); err != nil {
		t.Fatalf("earn purchase: %v", err)
	}

	rec := a.do(t, http.MethodGet, "/api/points?source=review", "m1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entries := decode[[]EntryDTO](t, rec)
	if len(entries) != 1 || entries[0].Source != "review" {
		t.Fatalf("expected exactly the review entry, got %+v", entries)
	}

	rec = a.do(t, http.MethodGet, "/api/points?status=never", "m1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad status filter, got %d", rec.Code)
	}
}

// =============================================================================
// REWARDS
// =============================================================================

func TestHTTP_ListRewards_Public(t *testing.T) {
	a := newTestAPI(t)
	a.seedReward(t, testReward())

	// No bearer token: the catalog is browsable before signup.
	rec := a.do(t, http.MethodGet, "/api/rewards", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rewards := decode[[]RewardDTO](t, rec)
	if len(rewards) != 1 || rewards[0].ID != "reward-wash" {
		t.Fatalf("expected the seeded reward, got %+v", rewards)
	}
	if !rewards[0].Available {
		t.Error("expected the reward to be available")
	}
}

func TestHTTP_GetReward_NotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/rewards/reward-ghost", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHTTP_Redeem(t *testing.T) {
	// GIVEN: A member with 500 points and a 300-point reward
	// WHEN: Redeeming over HTTP
	// THEN: 200 with the debit entry and remaining balance

	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanFree)
	a.seedReward(t, testReward())
	a.fund(t, "m1", 500)

	rec := a.do(t, http.MethodPost, "/api/rewards/reward-wash/redeem", "m1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}

	result := decode[RedeemResponse](t, rec)
	if result.PointsRedeemed != 300 {
		t.Errorf("expected 300 redeemed, got %d", result.PointsRedeemed)
	}
	if result.RemainingBalance != 200 {
		t.Errorf("expected 200 remaining, got %d", result.RemainingBalance)
	}
	if result.Entry.Amount != -300 {
		t.Errorf("expected a -300 debit entry, got %d", result.Entry.Amount)
	}
}

func TestHTTP_Redeem_InsufficientPoints(t *testing.T) {
	// GIVEN: A member 200 points short
	// WHEN: Redeeming
	// THEN: 400 with the shortfall spelled out for the client

	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanFree)
	a.seedReward(t, testReward())
	a.fund(t, "m1", 100)

	rec := a.do(t, http.MethodPost, "/api/rewards/reward-wash/redeem", "m1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	resp := decode[ErrorResponse](t, rec)
	if resp.Required != 300 || resp.Available != 100 {
		t.Errorf("expected required=300 available=100, got %d/%d", resp.Required, resp.Available)
	}
}

func TestHTTP_Redeem_CapReached(t *testing.T) {
	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanFree)
	a.seedAccount(t, "m2", loyalty.PlanFree)
	limit := 1
	r := testReward()
	r.RedemptionLimit = &limit
	a.seedReward(t, r)
	a.fund(t, "m1", 500)
	a.fund(t, "m2", 500)

	if rec := a.do(t, http.MethodPost, "/api/rewards/reward-wash/redeem", "m1", nil); rec.Code != http.StatusOK {
		t.Fatalf("first redemption: expected 200, got %d", rec.Code)
	}

	rec := a.do(t, http.MethodPost, "/api/rewards/reward-wash/redeem", "m2", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 once the cap is reached, got %d", rec.Code)
	}
}

func TestHTTP_Redeem_InactiveReward(t *testing.T) {
	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanFree)
	r := testReward()
	r.IsActive = false
	a.seedReward(t, r)
	a.fund(t, "m1", 500)

	rec := a.do(t, http.MethodPost, "/api/rewards/reward-wash/redeem", "m1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an inactive reward, got %d", rec.Code)
	}
}

// =============================================================================
// REFERRALS
// =============================================================================

func TestHTTP_ReferralFlow(t *testing.T) {
	// GIVEN: A referrer and a new member
	// WHEN: Verifying the code, then completing the referral
	// THEN: Both sides are paid exactly their policy amounts

	a := newTestAPI(t)
	a.seedAccount(t, "ref", loyalty.PlanFree)
	a.seedAccount(t, "new", loyalty.PlanFree)

	rec := a.do(t, http.MethodGet, "/api/referrals/my-code", "ref", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("my-code: expected 200, got %d", rec.Code)
	}
	code := decode[ReferralCodeDTO](t, rec)
	if code.Code != "CLB-ref" {
		t.Fatalf("expected the seeded code, got %s", code.Code)
	}

	rec = a.do(t, http.MethodPost, "/api/referrals/verify", "new", VerifyReferralRequest{Code: code.Code})
	if rec.Code != http.StatusCreated {
		t.Fatalf("verify: expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	ref := decode[ReferralDTO](t, rec)
	if ref.Status != "pending" {
		t.Errorf("expected a pending referral, got %s", ref.Status)
	}

	rec = a.do(t, http.MethodPost, "/api/referrals/complete", "ref", CompleteReferralRequest{ReferralID: ref.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	settled := decode[ReferralDTO](t, rec)
	if settled.Status != "completed" {
		t.Errorf("expected completed, got %s", settled.Status)
	}
	if settled.ReferrerPayout != "awarded" || settled.ReferredPayout != "awarded" {
		t.Errorf("expected both payouts awarded, got %s/%s",
			settled.ReferrerPayout, settled.ReferredPayout)
	}

	stats := decode[ReferralStatsDTO](t, a.do(t, http.MethodGet, "/api/referrals/stats", "ref", nil))
	if stats.Completed != 1 || stats.TotalRewardsAwarded != 200 {
		t.Errorf("expected 1 completed worth 200, got %d/%d", stats.Completed, stats.TotalRewardsAwarded)
	}

	balance := decode[BalanceDTO](t, a.do(t, http.MethodGet, "/api/points/balance", "new", nil))
	if balance.AvailablePoints != 100 {
		t.Errorf("expected the referred side to hold 100, got %d", balance.AvailablePoints)
	}
}

func TestHTTP_VerifyReferral_SelfReferral(t *testing.T) {
	a := newTestAPI(t)
	a.seedAccount(t, "ref", loyalty.PlanFree)

	rec := a.do(t, http.MethodPost, "/api/referrals/verify", "ref", VerifyReferralRequest{Code: "CLB-ref"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self referral, got %d", rec.Code)
	}
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

func TestHTTP_MemberStatusAndJoin(t *testing.T) {
	a := newTestAPI(t)
	a.seedAccount(t, "m1", loyalty.PlanSmart)

	status := decode[MemberStatusDTO](t, a.do(t, http.MethodGet, "/api/members/status", "m1", nil))
	if status.IsMember {
		t.Fatal("expected not a member yet")
	}

	rec := a.do(t, http.MethodPost, "/api/members/join", "m1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d", rec.Code)
	}
	acct := decode[AccountDTO](t, rec)
	if !acct.IsMember || acct.MemberSince == "" {
		t.Errorf("expected an active membership with a start date, got %+v", acct)
	}

	rec = a.do(t, http.MethodPost, "/api/members/join", "m1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when already a member, got %d", rec.Code)
	}
}
