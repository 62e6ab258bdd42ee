package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubpoints/loyalty-engine/ledger"
	"github.com/clubpoints/loyalty-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func credit(id string, account string, amount int64, createdAt time.Time) ledger.Entry {
	return ledger.Entry{
		ID:        ledger.EntryID(id),
		AccountID: ledger.AccountID(account),
		Amount:    amount,
		Kind:      ledger.KindEarned,
		Source:    ledger.SourcePurchase,
		CreatedAt: createdAt,
		ExpiresAt: ledger.ExpiryFor(createdAt),
		Status:    ledger.StatusActive,
	}
}

func debit(id string, account string, amount int64, createdAt time.Time) ledger.Entry {
	return ledger.Entry{
		ID:        ledger.EntryID(id),
		AccountID: ledger.AccountID(account),
		Amount:    -amount,
		Kind:      ledger.KindRedeemed,
		Source:    ledger.SourceRedemption,
		CreatedAt: createdAt,
		Status:    ledger.StatusRedeemed,
	}
}

func seedEntries(t *testing.T, store *memory.Store, entries ...ledger.Entry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, store.AppendEntry(context.Background(), e))
	}
}

// =============================================================================
// BALANCE CALCULATION
// =============================================================================

func TestCalculator_Available_SumsCreditsAndDebits(t *testing.T) {
	// GIVEN: 500 earned, 300 earned, 400 redeemed
	// WHEN: Computing the available balance
	// THEN: 500 + 300 - 400 = 400

	store := memory.New()
	seedEntries(t, store,
		credit("e1", "acct-1", 500, testNow.AddDate(0, -2, 0)),
		credit("e2", "acct-1", 300, testNow.AddDate(0, -1, 0)),
		debit("e3", "acct-1", 400, testNow.AddDate(0, 0, -1)),
	)

	calc := &ledger.Calculator{Store: store}
	available, err := calc.Available(context.Background(), "acct-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(400), available)
}

func TestCalculator_Available_ExpiredCreditsDoNotCount(t *testing.T) {
	// GIVEN: A credit issued 37 months ago and a fresh credit
	// WHEN: Computing the available balance now
	// THEN: Only the fresh credit counts, even though no sweep has run

	store := memory.New()
	seedEntries(t, store,
		credit("old", "acct-1", 1000, testNow.AddDate(0, -37, 0)),
		credit("new", "acct-1", 250, testNow.AddDate(0, -1, 0)),
	)

	calc := &ledger.Calculator{Store: store}
	available, err := calc.Available(context.Background(), "acct-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(250), available)
}

func TestCalculator_Available_DebitsAlwaysCount(t *testing.T) {
	// GIVEN: An expired credit and a debit spent while it was valid
	// WHEN: Computing the balance after the credit lapsed
	// THEN: The debit still reduces the balance; spent points stay spent

	store := memory.New()
	seedEntries(t, store,
		credit("old", "acct-1", 500, testNow.AddDate(0, -37, 0)),
		credit("new", "acct-1", 300, testNow.AddDate(0, -1, 0)),
		debit("spent", "acct-1", 200, testNow.AddDate(0, -36, 0)),
	)

	calc := &ledger.Calculator{Store: store}
	available, err := calc.Available(context.Background(), "acct-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(100), available)
}

func TestCalculator_Lifetime_IgnoresStatusAndExpiry(t *testing.T) {
	// GIVEN: Expired, active and redeemed entries
	// WHEN: Computing lifetime points
	// THEN: Every positive entry counts; debits never reduce lifetime

	store := memory.New()
	expired := credit("e1", "acct-1", 700, testNow.AddDate(0, -40, 0))
	expired.Status = ledger.StatusExpired
	seedEntries(t, store,
		expired,
		credit("e2", "acct-1", 300, testNow),
		debit("e3", "acct-1", 500, testNow),
	)

	calc := &ledger.Calculator{Store: store}
	lifetime, err := calc.Lifetime(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), lifetime)
}

func TestCalculator_Value_FixedRate(t *testing.T) {
	calc := &ledger.Calculator{}

	assert.Equal(t, "10", calc.Value(500).String())
	assert.Equal(t, "0.5", calc.Value(25).String())
	assert.Equal(t, "0", calc.Value(0).String())
}

func TestCalculator_Summary_OnePass(t *testing.T) {
	// GIVEN: A mixed ledger
	// WHEN: Computing the summary
	// THEN: Lifetime, available and dollar value are all consistent

	store := memory.New()
	seedEntries(t, store,
		credit("e1", "acct-1", 1000, testNow.AddDate(0, -3, 0)),
		debit("e2", "acct-1", 250, testNow.AddDate(0, -1, 0)),
	)

	calc := &ledger.Calculator{Store: store}
	summary, err := calc.Summary(context.Background(), "acct-1", testNow)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), summary.LifetimePoints)
	assert.Equal(t, int64(750), summary.AvailablePoints)
	assert.Equal(t, "15", summary.PointsValue.String())
	assert.Equal(t, testNow, summary.AsOf)
}

func TestCalculator_EmptyAccount(t *testing.T) {
	store := memory.New()
	calc := &ledger.Calculator{Store: store}

	summary, err := calc.Summary(context.Background(), "nobody", testNow)
	require.NoError(t, err)
	assert.Zero(t, summary.AvailablePoints)
	assert.Zero(t, summary.LifetimePoints)
}
