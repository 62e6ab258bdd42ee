/*
Package memory provides the in-memory loyalty.Store for tests and
development.

TRANSACTION MODEL:
  WithAccountTx is simulated with a single store-wide transaction lock
  plus snapshot/rollback. Global exclusivity is coarser than the
  per-account serialization the contract requires, which is fine: it is a
  strict superset, and the memory store optimizes for simplicity rather
  than throughput.

LOCKING LAYOUT:
  Every public method locks mu and delegates to an unlocked helper. The
  transactional view calls the helpers directly, because WithAccountTx
  already holds mu for the duration of fn.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clubpoints/loyalty-engine/ledger"
	"github.com/clubpoints/loyalty-engine/loyalty"
)

type pairKey struct {
	Referrer ledger.AccountID
	Referred ledger.AccountID
}

// Store implements loyalty.Store in memory.
type Store struct {
	mu sync.RWMutex

	// txMu serializes WithAccountTx calls so snapshot/restore never
	// interleaves.
	txMu sync.Mutex

	entries   map[ledger.AccountID][]ledger.Entry
	keys      map[string]bool
	accounts  map[ledger.AccountID]loyalty.Account
	codes     map[string]ledger.AccountID
	rewards   map[loyalty.RewardID]loyalty.Reward
	referrals map[loyalty.ReferralID]loyalty.Referral
	pairs     map[pairKey]loyalty.ReferralID
}

func New() *Store {
	return &Store{
		entries:   make(map[ledger.AccountID][]ledger.Entry),
		keys:      make(map[string]bool),
		accounts:  make(map[ledger.AccountID]loyalty.Account),
		codes:     make(map[string]ledger.AccountID),
		rewards:   make(map[loyalty.RewardID]loyalty.Reward),
		referrals: make(map[loyalty.ReferralID]loyalty.Referral),
		pairs:     make(map[pairKey]loyalty.ReferralID),
	}
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendEntry(_ context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryLocked(e)
}

func (s *Store) appendEntryLocked(e ledger.Entry) error {
	if e.IdempotencyKey != "" && s.keys[e.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	s.entries[e.AccountID] = append(s.entries[e.AccountID], e)
	if e.IdempotencyKey != "" {
		s.keys[e.IdempotencyKey] = true
	}
	return nil
}

func (s *Store) Entries(_ context.Context, id ledger.AccountID, f ledger.EntryFilter) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesLocked(id, f)
}

func (s *Store) entriesLocked(id ledger.AccountID, f ledger.EntryFilter) ([]ledger.Entry, error) {
	all := s.entries[id]

	// Stored in append order; returned newest first.
	var result []ledger.Entry
	for i := len(all) - 1; i >= 0; i-- {
		if !f.Matches(all[i]) {
			continue
		}
		result = append(result, all[i])
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) HasEntryKey(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[key], nil
}

func (s *Store) MarkExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markExpiredLocked(now)
}

func (s *Store) markExpiredLocked(now time.Time) (int, error) {
	flipped := 0
	for id, list := range s.entries {
		for i, e := range list {
			if e.Amount > 0 && e.Status == ledger.StatusActive && e.Expires() && !e.ExpiresAt.After(now) {
				list[i].Status = ledger.StatusExpired
				flipped++
			}
		}
		s.entries[id] = list
	}
	return flipped, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) SaveAccount(_ context.Context, a loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAccountLocked(a)
}

func (s *Store) saveAccountLocked(a loyalty.Account) error {
	// A replaced code must stop resolving.
	if prev, ok := s.accounts[a.ID]; ok && prev.ReferralCode != "" && prev.ReferralCode != a.ReferralCode {
		delete(s.codes, prev.ReferralCode)
	}
	s.accounts[a.ID] = a
	if a.ReferralCode != "" {
		s.codes[a.ReferralCode] = a.ID
	}
	return nil
}

func (s *Store) Account(_ context.Context, id ledger.AccountID) (*loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountLocked(id)
}

func (s *Store) accountLocked(id ledger.AccountID) (*loyalty.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "account", ID: string(id)}
	}
	return &a, nil
}

func (s *Store) AccountByReferralCode(_ context.Context, code string) (*loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountByCodeLocked(code)
}

func (s *Store) accountByCodeLocked(code string) (*loyalty.Account, error) {
	id, ok := s.codes[code]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "referral code", ID: code}
	}
	return s.accountLocked(id)
}

func (s *Store) AdjustAccountCounters(_ context.Context, id ledger.AccountID, lifetimeDelta, availableDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustCountersLocked(id, lifetimeDelta, availableDelta)
}

func (s *Store) adjustCountersLocked(id ledger.AccountID, lifetimeDelta, availableDelta int64) error {
	a, ok := s.accounts[id]
	if !ok {
		return &ledger.NotFoundError{Resource: "account", ID: string(id)}
	}
	a.LifetimePoints += lifetimeDelta
	a.CachedAvailablePoints += availableDelta
	s.accounts[id] = a
	return nil
}

// =============================================================================
// REWARD CATALOG
// =============================================================================

func (s *Store) SaveReward(_ context.Context, r loyalty.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRewardLocked(r)
}

func (s *Store) saveRewardLocked(r loyalty.Reward) error {
	s.rewards[r.ID] = r
	return nil
}

func (s *Store) Reward(_ context.Context, id loyalty.RewardID) (*loyalty.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rewardLocked(id)
}

func (s *Store) rewardLocked(id loyalty.RewardID) (*loyalty.Reward, error) {
	r, ok := s.rewards[id]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "reward", ID: string(id)}
	}
	return &r, nil
}

func (s *Store) ListRewards(_ context.Context, category *loyalty.RewardCategory) ([]loyalty.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRewardsLocked(category)
}

func (s *Store) listRewardsLocked(category *loyalty.RewardCategory) ([]loyalty.Reward, error) {
	var result []loyalty.Reward
	for _, r := range s.rewards {
		if !r.IsActive {
			continue
		}
		if category != nil && r.Category != *category {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PointsRequired != result[j].PointsRequired {
			return result[i].PointsRequired < result[j].PointsRequired
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) IncrementRedemptionCount(_ context.Context, id loyalty.RewardID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementRedemptionLocked(id)
}

func (s *Store) incrementRedemptionLocked(id loyalty.RewardID) error {
	r, ok := s.rewards[id]
	if !ok {
		return &ledger.NotFoundError{Resource: "reward", ID: string(id)}
	}
	if r.RedemptionLimit != nil && r.RedemptionCount >= *r.RedemptionLimit {
		return &ledger.RewardUnavailableError{RewardID: string(id), Reason: "limit_reached"}
	}
	r.RedemptionCount++
	s.rewards[id] = r
	return nil
}

// =============================================================================
// REFERRALS
// =============================================================================

func (s *Store) SaveReferral(_ context.Context, r loyalty.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveReferralLocked(r)
}

func (s *Store) saveReferralLocked(r loyalty.Referral) error {
	s.referrals[r.ID] = r
	s.pairs[pairKey{Referrer: r.ReferrerID, Referred: r.ReferredID}] = r.ID
	return nil
}

func (s *Store) Referral(_ context.Context, id loyalty.ReferralID) (*loyalty.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referralLocked(id)
}

func (s *Store) referralLocked(id loyalty.ReferralID) (*loyalty.Referral, error) {
	r, ok := s.referrals[id]
	if !ok {
		return nil, &ledger.NotFoundError{Resource: "referral", ID: string(id)}
	}
	return &r, nil
}

func (s *Store) ReferralByPair(_ context.Context, referrer, referred ledger.AccountID) (*loyalty.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referralByPairLocked(referrer, referred)
}

func (s *Store) referralByPairLocked(referrer, referred ledger.AccountID) (*loyalty.Referral, error) {
	id, ok := s.pairs[pairKey{Referrer: referrer, Referred: referred}]
	if !ok {
		return nil, nil
	}
	return s.referralLocked(id)
}

func (s *Store) ReferralsByReferrer(_ context.Context, referrer ledger.AccountID) ([]loyalty.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referralsByReferrerLocked(referrer)
}

func (s *Store) referralsByReferrerLocked(referrer ledger.AccountID) ([]loyalty.Referral, error) {
	var result []loyalty.Referral
	for _, r := range s.referrals {
		if r.ReferrerID == referrer {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) AwardReferralSide(_ context.Context, id loyalty.ReferralID, side loyalty.ReferralSide) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awardSideLocked(id, side)
}

func (s *Store) awardSideLocked(id loyalty.ReferralID, side loyalty.ReferralSide) (bool, error) {
	r, ok := s.referrals[id]
	if !ok {
		return false, &ledger.NotFoundError{Resource: "referral", ID: string(id)}
	}

	payout := &r.ReferrerReward
	if side == loyalty.SideReferred {
		payout = &r.ReferredReward
	}
	if payout.Status == loyalty.PayoutAwarded {
		return false, nil
	}
	payout.Status = loyalty.PayoutAwarded
	s.referrals[id] = r
	return true, nil
}

func (s *Store) CompleteReferral(_ context.Context, id loyalty.ReferralID, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeReferralLocked(id, completedAt)
}

func (s *Store) completeReferralLocked(id loyalty.ReferralID, completedAt time.Time) error {
	r, ok := s.referrals[id]
	if !ok {
		return &ledger.NotFoundError{Resource: "referral", ID: string(id)}
	}
	if r.Status == loyalty.ReferralCompleted {
		return nil
	}
	r.Status = loyalty.ReferralCompleted
	r.CompletedAt = completedAt
	s.referrals[id] = r
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback under a store-wide lock
// =============================================================================

// WithAccountTx executes fn atomically. The memory store serializes all
// transactions regardless of account, which satisfies (and exceeds) the
// per-account contract.
func (s *Store) WithAccountTx(_ context.Context, _ ledger.AccountID, fn func(loyalty.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{parent: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries   map[ledger.AccountID][]ledger.Entry
	keys      map[string]bool
	accounts  map[ledger.AccountID]loyalty.Account
	codes     map[string]ledger.AccountID
	rewards   map[loyalty.RewardID]loyalty.Reward
	referrals map[loyalty.ReferralID]loyalty.Referral
	pairs     map[pairKey]loyalty.ReferralID
}

func (s *Store) snapshot() memorySnapshot {
	snap := memorySnapshot{
		entries:   make(map[ledger.AccountID][]ledger.Entry, len(s.entries)),
		keys:      make(map[string]bool, len(s.keys)),
		accounts:  make(map[ledger.AccountID]loyalty.Account, len(s.accounts)),
		codes:     make(map[string]ledger.AccountID, len(s.codes)),
		rewards:   make(map[loyalty.RewardID]loyalty.Reward, len(s.rewards)),
		referrals: make(map[loyalty.ReferralID]loyalty.Referral, len(s.referrals)),
		pairs:     make(map[pairKey]loyalty.ReferralID, len(s.pairs)),
	}
	for k, v := range s.entries {
		snap.entries[k] = append([]ledger.Entry{}, v...)
	}
	for k, v := range s.keys {
		snap.keys[k] = v
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.codes {
		snap.codes[k] = v
	}
	for k, v := range s.rewards {
		snap.rewards[k] = v
	}
	for k, v := range s.referrals {
		snap.referrals[k] = v
	}
	for k, v := range s.pairs {
		snap.pairs[k] = v
	}
	return snap
}

func (s *Store) restore(snap memorySnapshot) {
	s.entries = snap.entries
	s.keys = snap.keys
	s.accounts = snap.accounts
	s.codes = snap.codes
	s.rewards = snap.rewards
	s.referrals = snap.referrals
	s.pairs = snap.pairs
}

// txView is the store handed to the transaction function. It bypasses the
// locks (WithAccountTx holds them) and writes directly to the parent;
// rollback is the parent's snapshot restore.
type txView struct {
	parent *Store
}

func (v *txView) AppendEntry(_ context.Context, e ledger.Entry) error {
	return v.parent.appendEntryLocked(e)
}

func (v *txView) Entries(_ context.Context, id ledger.AccountID, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return v.parent.entriesLocked(id, f)
}

func (v *txView) HasEntryKey(_ context.Context, key string) (bool, error) {
	return v.parent.keys[key], nil
}

func (v *txView) MarkExpired(_ context.Context, now time.Time) (int, error) {
	return v.parent.markExpiredLocked(now)
}

func (v *txView) SaveAccount(_ context.Context, a loyalty.Account) error {
	return v.parent.saveAccountLocked(a)
}

func (v *txView) Account(_ context.Context, id ledger.AccountID) (*loyalty.Account, error) {
	return v.parent.accountLocked(id)
}

func (v *txView) AccountByReferralCode(_ context.Context, code string) (*loyalty.Account, error) {
	return v.parent.accountByCodeLocked(code)
}

func (v *txView) AdjustAccountCounters(_ context.Context, id ledger.AccountID, lifetimeDelta, availableDelta int64) error {
	return v.parent.adjustCountersLocked(id, lifetimeDelta, availableDelta)
}

func (v *txView) SaveReward(_ context.Context, r loyalty.Reward) error {
	return v.parent.saveRewardLocked(r)
}

func (v *txView) Reward(_ context.Context, id loyalty.RewardID) (*loyalty.Reward, error) {
	return v.parent.rewardLocked(id)
}

func (v *txView) ListRewards(_ context.Context, category *loyalty.RewardCategory) ([]loyalty.Reward, error) {
	return v.parent.listRewardsLocked(category)
}

func (v *txView) IncrementRedemptionCount(_ context.Context, id loyalty.RewardID) error {
	return v.parent.incrementRedemptionLocked(id)
}

func (v *txView) SaveReferral(_ context.Context, r loyalty.Referral) error {
	return v.parent.saveReferralLocked(r)
}

func (v *txView) Referral(_ context.Context, id loyalty.ReferralID) (*loyalty.Referral, error) {
	return v.parent.referralLocked(id)
}

func (v *txView) ReferralByPair(_ context.Context, referrer, referred ledger.AccountID) (*loyalty.Referral, error) {
	return v.parent.referralByPairLocked(referrer, referred)
}

func (v *txView) ReferralsByReferrer(_ context.Context, referrer ledger.AccountID) ([]loyalty.Referral, error) {
	return v.parent.referralsByReferrerLocked(referrer)
}

func (v *txView) AwardReferralSide(_ context.Context, id loyalty.ReferralID, side loyalty.ReferralSide) (bool, error) {
	return v.parent.awardSideLocked(id, side)
}

func (v *txView) CompleteReferral(_ context.Context, id loyalty.ReferralID, completedAt time.Time) error {
	return v.parent.completeReferralLocked(id, completedAt)
}

// WithAccountTx on the view runs fn inline: the outer transaction already
// holds the locks, so nesting degenerates to a plain call sharing the
// outer snapshot.
func (v *txView) WithAccountTx(_ context.Context, _ ledger.AccountID, fn func(loyalty.Store) error) error {
	return fn(v)
}
