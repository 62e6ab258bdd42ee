package loyalty_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/clubpoints/loyalty-engine/ledger"
	"github.com/clubpoints/loyalty-engine/loyalty"
	"github.com/clubpoints/loyalty-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// env wires every engine over one in-memory store with a fixed clock.
type env struct {
	store      *memory.Store
	earning    *loyalty.EarningEngine
	redemption *loyalty.RedemptionCoordinator
	referrals  *loyalty.ReferralSettlement
	membership *loyalty.MembershipService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)

	earning := loyalty.NewEarningEngine(store)
	earning.Now = func() time.Time { return testNow }

	redemption := loyalty.NewRedemptionCoordinator(store)
	redemption.Now = func() time.Time { return testNow }

	referrals := loyalty.NewReferralSettlement(store, earning, "https://club.example.com")
	referrals.Now = func() time.Time { return testNow }

	membership := loyalty.NewMembershipService(store, earning, referrals, log)
	membership.Now = func() time.Time { return testNow }

	return &env{
		store:      store,
		earning:    earning,
		redemption: redemption,
		referrals:  referrals,
		membership: membership,
	}
}

func (e *env) addAccount(t *testing.T, id string, plan loyalty.PlanTier) loyalty.Account {
	t.Helper()
	acct := loyalty.Account{
		ID:           ledger.AccountID(id),
		Name:         "Member " + id,
		Email:        id + "@example.com",
		Plan:         plan,
		ReferralCode: "CLB-" + id,
		CreatedAt:    testNow,
	}
	require.NoError(t, e.store.SaveAccount(context.Background(), acct))
	return acct
}

func (e *env) addReward(t *testing.T, r loyalty.Reward) {
	t.Helper()
	require.NoError(t, e.store.SaveReward(context.Background(), r))
}

// available recomputes the authoritative balance from the ledger.
func (e *env) available(t *testing.T, id string) int64 {
	t.Helper()
	calc := &ledger.Calculator{Store: e.store}
	balance, err := calc.Available(context.Background(), ledger.AccountID(id), testNow)
	require.NoError(t, err)
	return balance
}

func intPtr(n int) *int { return &n }
