/*
Package sqlite provides the SQLite-backed loyalty.Store.

PURPOSE:
  Production persistence for the loyalty program: the append-mostly entry
  ledger plus accounts, the reward catalog and referral records. The same
  patterns carry to PostgreSQL with minor dialect changes.

KEY TABLES:
  entries:    Immutable signed point ledger (no UPDATE except the status
              flip performed by MarkExpired, no DELETE ever)
  accounts:   Members, plan tiers and the denormalized point caches
  rewards:    Catalog with redemption caps
  referrals:  Two-sided settlement records

CONCURRENCY:
  WithAccountTx takes a striped per-account mutex and runs fn inside one
  SQL transaction. The stripe serializes transactions that hash to the
  same account; the SQL transaction provides atomicity. Cross-account
  invariants (reward caps, referral payout sides) are conditional UPDATEs
  whose RowsAffected decides the outcome, so they hold even across
  stripes.

WAL MODE:
  The database is opened with WAL so readers do not block the writer.

TIME ENCODING:
  Timestamps are RFC3339 UTC strings. Lexicographic order equals time
  order, which MarkExpired's expires_at <= ? comparison relies on. A zero
  time is stored as the empty string (debit entries never expire).

MIGRATION:
  Schema is auto-migrated on New(). For production use a versioned
  migration tool instead.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/clubpoints/loyalty-engine/ledger"
	"github.com/clubpoints/loyalty-engine/loyalty"
)

// lockStripes bounds memory for the per-account lock table. Two accounts
// sharing a stripe serialize needlessly but never deadlock.
const lockStripes = 64

// Store implements loyalty.Store on SQLite.
type Store struct {
	db    *sql.DB
	locks [lockStripes]sync.Mutex
}

// New opens (and migrates) the database at the given path. Use ":memory:"
// for an ephemeral database.
func New(dbPath string) (*Store, error) {
	// _txlock=immediate takes the write lock at BEGIN, so concurrent
	// writers queue on the busy timeout instead of failing later with a
	// stale snapshot under WAL.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Point ledger (append-mostly: inserts plus the MarkExpired status flip)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		description TEXT,
		purchase_amount TEXT NOT NULL DEFAULT '0',
		multiplier TEXT NOT NULL DEFAULT '1',
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT UNIQUE
	);

	-- Balance computation (hot path): account history, newest first
	CREATE INDEX IF NOT EXISTS idx_entries_account_created
		ON entries(account_id, created_at DESC);

	-- Expiration sweep scan
	CREATE INDEX IF NOT EXISTS idx_entries_status_expires
		ON entries(status, expires_at) WHERE expires_at <> '';

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		plan TEXT NOT NULL,
		referral_code TEXT UNIQUE,
		referred_by TEXT,
		lifetime_points INTEGER NOT NULL DEFAULT 0,
		available_points INTEGER NOT NULL DEFAULT 0,
		is_member BOOLEAN NOT NULL DEFAULT FALSE,
		member_since TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT NOT NULL,
		points_required INTEGER NOT NULL,
		cash_value TEXT NOT NULL DEFAULT '0',
		provider_ref TEXT,
		redemption_limit INTEGER,
		redemption_count INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rewards_category
		ON rewards(category) WHERE is_active;

	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL,
		referred_id TEXT NOT NULL,
		code TEXT NOT NULL,
		status TEXT NOT NULL,
		referrer_points INTEGER NOT NULL,
		referrer_payout TEXT NOT NULL,
		referred_points INTEGER NOT NULL,
		referred_payout TEXT NOT NULL,
		completed_at TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- One referral record per relationship
	CREATE UNIQUE INDEX IF NOT EXISTS idx_referrals_pair
		ON referrals(referrer_id, referred_id);
	CREATE INDEX IF NOT EXISTS idx_referrals_referrer
		ON referrals(referrer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx, so every helper runs
// inside or outside a transaction unchanged.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) error {
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e ledger.Entry) error {
	query := `
		INSERT INTO entries
		(id, account_id, amount, kind, source, description, purchase_amount,
		 multiplier, created_at, expires_at, status, reference_id, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.AccountID,
		e.Amount,
		e.Kind,
		e.Source,
		e.Description,
		e.PurchaseAmount.String(),
		e.Multiplier.String(),
		formatTime(e.CreatedAt),
		formatTime(e.ExpiresAt),
		e.Status,
		e.ReferenceID,
		nullString(e.IdempotencyKey),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, id ledger.AccountID, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return queryEntries(ctx, s.db, id, f)
}

func queryEntries(ctx context.Context, q querier, id ledger.AccountID, f ledger.EntryFilter) ([]ledger.Entry, error) {
	query := `
		SELECT id, account_id, amount, kind, source, description, purchase_amount,
		       multiplier, created_at, expires_at, status, reference_id, idempotency_key
		FROM entries
		WHERE account_id = ?
	`
	args := []any{id}

	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.Kind != nil {
		query += " AND kind = ?"
		args = append(args, *f.Kind)
	}
	if f.Source != nil {
		query += " AND source = ?"
		args = append(args, *f.Source)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e              ledger.Entry
		purchaseAmount string
		multiplier     string
		createdAt      string
		expiresAt      string
		description    sql.NullString
		referenceID    sql.NullString
		idempotencyKey sql.NullString
	)

	err := rows.Scan(
		&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.Source, &description,
		&purchaseAmount, &multiplier, &createdAt, &expiresAt, &e.Status,
		&referenceID, &idempotencyKey,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Description = description.String
	e.PurchaseAmount = parseDecimal(purchaseAmount)
	e.Multiplier = parseDecimal(multiplier)
	e.CreatedAt = parseTime(createdAt)
	e.ExpiresAt = parseTime(expiresAt)
	e.ReferenceID = referenceID.String
	e.IdempotencyKey = idempotencyKey.String
	return e, nil
}

func (s *Store) HasEntryKey(ctx context.Context, key string) (bool, error) {
	return hasEntryKey(ctx, s.db, key)
}

func hasEntryKey(ctx context.Context, q querier, key string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	return markExpired(ctx, s.db, now)
}

func markExpired(ctx context.Context, q querier, now time.Time) (int, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE entries SET status = ?
		WHERE status = ? AND amount > 0 AND expires_at <> '' AND expires_at <= ?
	`, ledger.StatusExpired, ledger.StatusActive, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) SaveAccount(ctx context.Context, a loyalty.Account) error {
	return saveAccount(ctx, s.db, a)
}

func saveAccount(ctx context.Context, q querier, a loyalty.Account) error {
	query := `
		INSERT INTO accounts
		(id, name, email, plan, referral_code, referred_by, lifetime_points,
		 available_points, is_member, member_since, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			plan = excluded.plan,
			referral_code = excluded.referral_code,
			referred_by = excluded.referred_by,
			lifetime_points = excluded.lifetime_points,
			available_points = excluded.available_points,
			is_member = excluded.is_member,
			member_since = excluded.member_since
	`

	_, err := q.ExecContext(ctx, query,
		a.ID, a.Name, a.Email, a.Plan,
		nullString(a.ReferralCode),
		nullString(string(a.ReferredBy)),
		a.LifetimePoints, a.CachedAvailablePoints,
		a.IsMember, formatTime(a.MemberSince), formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) Account(ctx context.Context, id ledger.AccountID) (*loyalty.Account, error) {
	return getAccount(ctx, s.db, "id = ?", string(id), "account", string(id))
}

func (s *Store) AccountByReferralCode(ctx context.Context, code string) (*loyalty.Account, error) {
	return getAccount(ctx, s.db, "referral_code = ?", code, "referral code", code)
}

func getAccount(ctx context.Context, q querier, where, arg, resource, resourceID string) (*loyalty.Account, error) {
	var (
		a            loyalty.Account
		referralCode sql.NullString
		referredBy   sql.NullString
		memberSince  string
		createdAt    string
	)

	err := q.QueryRowContext(ctx, `
		SELECT id, name, email, plan, referral_code, referred_by, lifetime_points,
		       available_points, is_member, member_since, created_at
		FROM accounts WHERE `+where, arg,
	).Scan(&a.ID, &a.Name, &a.Email, &a.Plan, &referralCode, &referredBy,
		&a.LifetimePoints, &a.CachedAvailablePoints, &a.IsMember, &memberSince, &createdAt)

	if err == sql.ErrNoRows {
		return nil, &ledger.NotFoundError{Resource: resource, ID: resourceID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	a.ReferralCode = referralCode.String
	a.ReferredBy = ledger.AccountID(referredBy.String)
	a.MemberSince = parseTime(memberSince)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func (s *Store) AdjustAccountCounters(ctx context.Context, id ledger.AccountID, lifetimeDelta, availableDelta int64) error {
	return adjustAccountCounters(ctx, s.db, id, lifetimeDelta, availableDelta)
}

func adjustAccountCounters(ctx context.Context, q querier, id ledger.AccountID, lifetimeDelta, availableDelta int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE accounts
		SET lifetime_points = lifetime_points + ?,
		    available_points = available_points + ?
		WHERE id = ?
	`, lifetimeDelta, availableDelta, id)
	if err != nil {
		return fmt.Errorf("failed to adjust account counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ledger.NotFoundError{Resource: "account", ID: string(id)}
	}
	return nil
}

// =============================================================================
// REWARD CATALOG
// =============================================================================

func (s *Store) SaveReward(ctx context.Context, r loyalty.Reward) error {
	return saveReward(ctx, s.db, r)
}

func saveReward(ctx context.Context, q querier, r loyalty.Reward) error {
	query := `
		INSERT INTO rewards
		(id, name, description, category, points_required, cash_value,
		 provider_ref, redemption_limit, redemption_count, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			points_required = excluded.points_required,
			cash_value = excluded.cash_value,
			provider_ref = excluded.provider_ref,
			redemption_limit = excluded.redemption_limit,
			is_active = excluded.is_active
	`

	var limit any
	if r.RedemptionLimit != nil {
		limit = *r.RedemptionLimit
	}

	_, err := q.ExecContext(ctx, query,
		r.ID, r.Name, r.Description, r.Category, r.PointsRequired,
		r.CashValue.String(), r.ProviderRef, limit, r.RedemptionCount,
		r.IsActive, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save reward: %w", err)
	}
	return nil
}

func (s *Store) Reward(ctx context.Context, id loyalty.RewardID) (*loyalty.Reward, error) {
	return getReward(ctx, s.db, id)
}

func getReward(ctx context.Context, q querier, id loyalty.RewardID) (*loyalty.Reward, error) {
	rows, err := q.QueryContext(ctx, rewardColumns+" FROM rewards WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load reward: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, &ledger.NotFoundError{Resource: "reward", ID: string(id)}
	}
	r, err := scanReward(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRewards(ctx context.Context, category *loyalty.RewardCategory) ([]loyalty.Reward, error) {
	return listRewards(ctx, s.db, category)
}

func listRewards(ctx context.Context, q querier, category *loyalty.RewardCategory) ([]loyalty.Reward, error) {
	query := rewardColumns + " FROM rewards WHERE is_active"
	var args []any
	if category != nil {
		query += " AND category = ?"
		args = append(args, *category)
	}
	query += " ORDER BY points_required ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []loyalty.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}

const rewardColumns = `
	SELECT id, name, description, category, points_required, cash_value,
	       provider_ref, redemption_limit, redemption_count, is_active, created_at`

func scanReward(rows *sql.Rows) (loyalty.Reward, error) {
	var (
		r           loyalty.Reward
		description sql.NullString
		cashValue   string
		providerRef sql.NullString
		limit       sql.NullInt64
		createdAt   string
	)

	err := rows.Scan(&r.ID, &r.Name, &description, &r.Category, &r.PointsRequired,
		&cashValue, &providerRef, &limit, &r.RedemptionCount, &r.IsActive, &createdAt)
	if err != nil {
		return r, fmt.Errorf("failed to scan reward: %w", err)
	}

	r.Description = description.String
	r.CashValue = parseDecimal(cashValue)
	r.ProviderRef = providerRef.String
	if limit.Valid {
		l := int(limit.Int64)
		r.RedemptionLimit = &l
	}
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func (s *Store) IncrementRedemptionCount(ctx context.Context, id loyalty.RewardID) error {
	return incrementRedemptionCount(ctx, s.db, id)
}

// incrementRedemptionCount is the cap guard. The WHERE clause makes the
// check-and-increment a single atomic statement.
func incrementRedemptionCount(ctx context.Context, q querier, id loyalty.RewardID) error {
	res, err := q.ExecContext(ctx, `
		UPDATE rewards SET redemption_count = redemption_count + 1
		WHERE id = ?
		  AND (redemption_limit IS NULL OR redemption_count < redemption_limit)
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment redemption count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: either the reward is unknown or the cap is reached.
	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM rewards WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return &ledger.NotFoundError{Resource: "reward", ID: string(id)}
	}
	return &ledger.RewardUnavailableError{RewardID: string(id), Reason: "limit_reached"}
}

// =============================================================================
// REFERRALS
// =============================================================================

func (s *Store) SaveReferral(ctx context.Context, r loyalty.Referral) error {
	return saveReferral(ctx, s.db, r)
}

func saveReferral(ctx context.Context, q querier, r loyalty.Referral) error {
	query := `
		INSERT INTO referrals
		(id, referrer_id, referred_id, code, status, referrer_points,
		 referrer_payout, referred_points, referred_payout, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			referrer_payout = excluded.referrer_payout,
			referred_payout = excluded.referred_payout,
			completed_at = excluded.completed_at
	`

	_, err := q.ExecContext(ctx, query,
		r.ID, r.ReferrerID, r.ReferredID, r.Code, r.Status,
		r.ReferrerReward.Points, r.ReferrerReward.Status,
		r.ReferredReward.Points, r.ReferredReward.Status,
		formatTime(r.CompletedAt), formatTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateReferral
		}
		return fmt.Errorf("failed to save referral: %w", err)
	}
	return nil
}

const referralColumns = `
	SELECT id, referrer_id, referred_id, code, status, referrer_points,
	       referrer_payout, referred_points, referred_payout, completed_at, created_at`

func (s *Store) Referral(ctx context.Context, id loyalty.ReferralID) (*loyalty.Referral, error) {
	return getReferral(ctx, s.db, id)
}

func getReferral(ctx context.Context, q querier, id loyalty.ReferralID) (*loyalty.Referral, error) {
	refs, err := queryReferrals(ctx, q, referralColumns+" FROM referrals WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, &ledger.NotFoundError{Resource: "referral", ID: string(id)}
	}
	return &refs[0], nil
}

func (s *Store) ReferralByPair(ctx context.Context, referrer, referred ledger.AccountID) (*loyalty.Referral, error) {
	return referralByPair(ctx, s.db, referrer, referred)
}

func referralByPair(ctx context.Context, q querier, referrer, referred ledger.AccountID) (*loyalty.Referral, error) {
	refs, err := queryReferrals(ctx, q,
		referralColumns+" FROM referrals WHERE referrer_id = ? AND referred_id = ?",
		referrer, referred)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return &refs[0], nil
}

func (s *Store) ReferralsByReferrer(ctx context.Context, referrer ledger.AccountID) ([]loyalty.Referral, error) {
	return queryReferrals(ctx, s.db,
		referralColumns+" FROM referrals WHERE referrer_id = ? ORDER BY created_at ASC",
		referrer)
}

func queryReferrals(ctx context.Context, q querier, query string, args ...any) ([]loyalty.Referral, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query referrals: %w", err)
	}
	defer rows.Close()

	var refs []loyalty.Referral
	for rows.Next() {
		var (
			r           loyalty.Referral
			completedAt string
			createdAt   string
		)
		if err := rows.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.Code, &r.Status,
			&r.ReferrerReward.Points, &r.ReferrerReward.Status,
			&r.ReferredReward.Points, &r.ReferredReward.Status,
			&completedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		r.CompletedAt = parseTime(completedAt)
		r.CreatedAt = parseTime(createdAt)
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *Store) AwardReferralSide(ctx context.Context, id loyalty.ReferralID, side loyalty.ReferralSide) (bool, error) {
	return awardReferralSide(ctx, s.db, id, side)
}

// awardReferralSide is the pending -> awarded transition. Exactly one
// caller observes RowsAffected == 1 per side.
func awardReferralSide(ctx context.Context, q querier, id loyalty.ReferralID, side loyalty.ReferralSide) (bool, error) {
	column := "referrer_payout"
	if side == loyalty.SideReferred {
		column = "referred_payout"
	}

	res, err := q.ExecContext(ctx,
		"UPDATE referrals SET "+column+" = ? WHERE id = ? AND "+column+" = ?",
		loyalty.PayoutAwarded, id, loyalty.PayoutPending)
	if err != nil {
		return false, fmt.Errorf("failed to award referral side: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM referrals WHERE id = ?", id).Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		return false, &ledger.NotFoundError{Resource: "referral", ID: string(id)}
	}
	return false, nil
}

func (s *Store) CompleteReferral(ctx context.Context, id loyalty.ReferralID, completedAt time.Time) error {
	return completeReferral(ctx, s.db, id, completedAt)
}

func completeReferral(ctx context.Context, q querier, id loyalty.ReferralID, completedAt time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE referrals SET status = ?, completed_at = ?
		WHERE id = ? AND status <> ?
	`, loyalty.ReferralCompleted, formatTime(completedAt), id, loyalty.ReferralCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete referral: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM referrals WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return &ledger.NotFoundError{Resource: "referral", ID: string(id)}
	}
	// Already completed.
	return nil
}

// =============================================================================
// TRANSACTIONS - Per-account stripe lock + SQL transaction
// =============================================================================

func (s *Store) stripe(id ledger.AccountID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// WithAccountTx executes fn atomically and serialized per account. The
// stripe lock orders same-account callers; cross-account writers are
// serialized by the immediate transaction lock (see the DSN in New).
func (s *Store) WithAccountTx(ctx context.Context, id ledger.AccountID, fn func(loyalty.Store) error) error {
	mu := s.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every operation through the open SQL transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) AppendEntry(ctx context.Context, e ledger.Entry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) Entries(ctx context.Context, id ledger.AccountID, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx, id, f)
}

func (ts *txStore) HasEntryKey(ctx context.Context, key string) (bool, error) {
	return hasEntryKey(ctx, ts.tx, key)
}

func (ts *txStore) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	return markExpired(ctx, ts.tx, now)
}

func (ts *txStore) SaveAccount(ctx context.Context, a loyalty.Account) error {
	return saveAccount(ctx, ts.tx, a)
}

func (ts *txStore) Account(ctx context.Context, id ledger.AccountID) (*loyalty.Account, error) {
	return getAccount(ctx, ts.tx, "id = ?", string(id), "account", string(id))
}

func (ts *txStore) AccountByReferralCode(ctx context.Context, code string) (*loyalty.Account, error) {
	return getAccount(ctx, ts.tx, "referral_code = ?", code, "referral code", code)
}

func (ts *txStore) AdjustAccountCounters(ctx context.Context, id ledger.AccountID, lifetimeDelta, availableDelta int64) error {
	return adjustAccountCounters(ctx, ts.tx, id, lifetimeDelta, availableDelta)
}

func (ts *txStore) SaveReward(ctx context.Context, r loyalty.Reward) error {
	return saveReward(ctx, ts.tx, r)
}

func (ts *txStore) Reward(ctx context.Context, id loyalty.RewardID) (*loyalty.Reward, error) {
	return getReward(ctx, ts.tx, id)
}

func (ts *txStore) ListRewards(ctx context.Context, category *loyalty.RewardCategory) ([]loyalty.Reward, error) {
	return listRewards(ctx, ts.tx, category)
}

func (ts *txStore) IncrementRedemptionCount(ctx context.Context, id loyalty.RewardID) error {
	return incrementRedemptionCount(ctx, ts.tx, id)
}

func (ts *txStore) SaveReferral(ctx context.Context, r loyalty.Referral) error {
	return saveReferral(ctx, ts.tx, r)
}

func (ts *txStore) Referral(ctx context.Context, id loyalty.ReferralID) (*loyalty.Referral, error) {
	return getReferral(ctx, ts.tx, id)
}

func (ts *txStore) ReferralByPair(ctx context.Context, referrer, referred ledger.AccountID) (*loyalty.Referral, error) {
	return referralByPair(ctx, ts.tx, referrer, referred)
}

func (ts *txStore) ReferralsByReferrer(ctx context.Context, referrer ledger.AccountID) ([]loyalty.Referral, error) {
	return queryReferrals(ctx, ts.tx,
		referralColumns+" FROM referrals WHERE referrer_id = ? ORDER BY created_at ASC",
		referrer)
}

func (ts *txStore) AwardReferralSide(ctx context.Context, id loyalty.ReferralID, side loyalty.ReferralSide) (bool, error) {
	return awardReferralSide(ctx, ts.tx, id, side)
}

func (ts *txStore) CompleteReferral(ctx context.Context, id loyalty.ReferralID, completedAt time.Time) error {
	return completeReferral(ctx, ts.tx, id, completedAt)
}

// WithAccountTx on an open transaction runs fn inline: the outer call
// already holds the stripe lock and the SQL transaction.
func (ts *txStore) WithAccountTx(_ context.Context, _ ledger.AccountID, fn func(loyalty.Store) error) error {
	return fn(ts)
}

// =============================================================================
// UTILITIES
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
