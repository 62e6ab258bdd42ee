package loyalty_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubpoints/loyalty-engine/ledger"
	"github.com/clubpoints/loyalty-engine/loyalty"
)

// =============================================================================
// REGISTRATION
// =============================================================================

func TestReferralRegister_CreatesPendingRecord(t *testing.T) {
	// GIVEN: A referrer with a code and a fresh account
	// WHEN: Registering the referral
	// THEN: Pending record with 200/100 payouts; ReferredBy is linked

	e := newEnv(t)
	referrer := e.addAccount(t, "ref", loyalty.PlanFree)
	referred := e.addAccount(t, "new", loyalty.PlanFree)
	ctx := context.Background()

	ref, err := e.referrals.Register(ctx, referrer.ReferralCode, referred.ID)
	require.NoError(t, err)

	assert.Equal(t, loyalty.ReferralPending, ref.Status)
	assert.Equal(t, referrer.ID, ref.ReferrerID)
	assert.Equal(t, referred.ID, ref.ReferredID)
	assert.Equal(t, int64(200), ref.ReferrerReward.Points)
	assert.Equal(t, loyalty.PayoutPending, ref.ReferrerReward.Status)
	assert.Equal(t, int64(100), ref.ReferredReward.Points)

	got, err := e.store.Account(ctx, referred.ID)
	require.NoError(t, err)
	assert.Equal(t, referrer.ID, got.ReferredBy)

	// Registration alone pays nobody.
	assert.Zero(t, e.available(t, "ref"))
	assert.Zero(t, e.available(t, "new"))
}

func TestReferralRegister_Guards(t *testing.T) {
	e := newEnv(t)
	referrer := e.addAccount(t, "ref", loyalty.PlanFree)
	referred := e.addAccount(t, "new", loyalty.PlanFree)
	ctx := context.Background()

	t.Run("empty code", func(t *testing.T) {
		_, err := e.referrals.Register(ctx, "", referred.ID)
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := e.referrals.Register(ctx, "CLB-NOPE", referred.ID)
		assert.True(t, ledger.IsNotFound(err))
	})

	t.Run("self referral", func(t *testing.T) {
		_, err := e.referrals.Register(ctx, referrer.ReferralCode, referrer.ID)
		assert.ErrorIs(t, err, ledger.ErrSelfReferral)
	})

	t.Run("duplicate pair", func(t *testing.T) {
		_, err := e.referrals.Register(ctx, referrer.ReferralCode, referred.ID)
		require.NoError(t, err)
		_, err = e.referrals.Register(ctx, referrer.ReferralCode, referred.ID)
		assert.ErrorIs(t, err, ledger.ErrDuplicateReferral)
	})
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestReferralComplete_PaysBothSides(t *testing.T) {
	// GIVEN: A pending referral
	// WHEN: Completing it
	// THEN: Referrer +200, referred +100, record completed

	e := newEnv(t)
	referrer := e.addAccount(t, "ref", loyalty.PlanFree)
	referred := e.addAccount(t, "new", loyalty.PlanFree)
	ctx := context.Background()

	ref, err := e.referrals.Register(ctx, referrer.ReferralCode, referred.ID)
	require.NoError(t, err)

	settled, err := e.referrals.Complete(ctx, ref.ID)
	require.NoError(t, err)

	assert.Equal(t, loyalty.ReferralCompleted, settled.Status)
	assert.Equal(t, loyalty.PayoutAwarded, settled.ReferrerReward.Status)
	assert.Equal(t, loyalty.PayoutAwarded, settled.ReferredReward.Status)
	assert.Equal(t, testNow, settled.CompletedAt)

	assert.Equal(t, int64(200), e.available(t, "ref"))
	assert.Equal(t, int64(100), e.available(t, "new"))
}

func TestReferralComplete_Idempotent(t *testing.T) {
	// GIVEN: A settled referral
	// WHEN: Completing it again
	// THEN: No double payout on either side

	e := newEnv(t)
	referrer := e.addAccount(t, "ref", loyalty.PlanFree)
	referred := e.addAccount(t, "new", loyalty.PlanFree)
	ctx := context.Background()

	ref, err := e.referrals.Register(ctx, referrer.ReferralCode, referred.ID)
	require.NoError(t, err)

	_, err = e.referrals.Complete(ctx, ref.ID)
	require.NoError(t, err)
	_, err = e.referrals.Complete(ctx, ref.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(200), e.available(t, "ref"))
	assert.Equal(t, int64(100), e.available(t, "new"))
}

func TestReferralComplete_ConcurrentSettlement_PaysOnce(t *testing.T) {
	// GIVEN: A pending referral
	// WHEN: Several settlements race
	// THEN: Each side is awarded exactly once

	e := newEnv(t)
	referrer := e.addAccount(t, "ref", loyalty.PlanFree)
	referred := e.addAccount(t, "new", loyalty.PlanFree)
	ctx := context.Background()

	ref, err := e.referrals.Register(ctx, referrer.ReferralCode, referred.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.referrals.Complete(ctx, ref.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(200), e.available(t, "ref"))
	assert.Equal(t, int64(100), e.available(t, "new"))
}

func TestReferralComplete_UnknownReferral(t *testing.T) {
	e := newEnv(t)
	_, err := e.referrals.Complete(context.Background(), "ref-ghost")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// CODES AND STATS
// =============================================================================

func TestEnsureCode_AssignsOnceAndBuildsLink(t *testing.T) {
	e := newEnv(t)
	acct := e.addAccount(t, "m1", loyalty.PlanFree)
	acct.ReferralCode = ""
	require.NoError(t, e.store.SaveAccount(context.Background(), acct))

	code, link, err := e.referrals.EnsureCode(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "CLB-"))
	assert.Equal(t, "https://club.example.com/join?ref="+code, link)

	again, _, err := e.referrals.EnsureCode(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, code, again, "code is stable once assigned")
}

func TestEnsureCode_SupersededCodeStopsResolving(t *testing.T) {
	// GIVEN: An account whose original code was cleared
	// WHEN: A fresh code is assigned
	// THEN: Only the current code resolves to the account

	e := newEnv(t)
	acct := e.addAccount(t, "m1", loyalty.PlanFree)
	ctx := context.Background()

	acct.ReferralCode = ""
	require.NoError(t, e.store.SaveAccount(ctx, acct))

	code, _, err := e.referrals.EnsureCode(ctx, acct.ID)
	require.NoError(t, err)
	require.NotEqual(t, "CLB-m1", code)

	_, err = e.store.AccountByReferralCode(ctx, "CLB-m1")
	assert.True(t, ledger.IsNotFound(err), "the replaced code must not resolve")

	got, err := e.store.AccountByReferralCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
}

func TestReferralStats(t *testing.T) {
	// GIVEN: Two referrals, one completed
	// WHEN: Reading the referrer's stats
	// THEN: Counts and awarded total reflect settlement state

	e := newEnv(t)
	referrer := e.addAccount(t, "ref", loyalty.PlanFree)
	first := e.addAccount(t, "new1", loyalty.PlanFree)
	second := e.addAccount(t, "new2", loyalty.PlanFree)
	ctx := context.Background()

	ref1, err := e.referrals.Register(ctx, referrer.ReferralCode, first.ID)
	require.NoError(t, err)
	_, err = e.referrals.Register(ctx, referrer.ReferralCode, second.ID)
	require.NoError(t, err)

	_, err = e.referrals.Complete(ctx, ref1.ID)
	require.NoError(t, err)

	stats, err := e.referrals.Stats(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, int64(200), stats.TotalRewardsAwarded)
}

func TestNewReferralCode_Format(t *testing.T) {
	code := loyalty.NewReferralCode()
	assert.Len(t, code, 10)
	assert.True(t, strings.HasPrefix(code, "CLB-"))

	// Codes are effectively unique.
	assert.NotEqual(t, code, loyalty.NewReferralCode())
}
