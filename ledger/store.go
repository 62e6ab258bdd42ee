/*
store.go - Persistence contract for ledger entries

PURPOSE:
  Defines the interface between the ledger projections and the database.
  The store is append-mostly: entries are written once and never deleted;
  the only permitted update is the Status flip performed by the advisory
  expiration sweep.

APPEND-MOSTLY CONTRACT:
  - AppendEntry(): the only way points enter or leave an account
  - No delete operation exists
  - MarkExpired(): flips active -> expired on lapsed credits; it never
    touches amounts and never creates or removes entries

IDEMPOTENCY:
  An entry may carry an idempotency key. Appending a second entry with the
  same key fails with ErrDuplicateIdempotencyKey. Referral payouts rely on
  this to stay exactly-once even if a settlement races.

IMPLEMENTATIONS:
  - store/memory:  In-memory store for tests and development
  - store/sqlite:  Production SQLite store

SEE ALSO:
  - balance.go: Reads entries through this interface
  - loyalty: Extends this contract with accounts, rewards and referrals
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ENTRY FILTER
// =============================================================================

// EntryFilter narrows a history query. Nil fields match everything.
type EntryFilter struct {
	Status *EntryStatus
	Kind   *EntryKind
	Source *EntrySource

	// Limit caps the number of returned entries, newest first.
	// Zero means no cap.
	Limit int
}

// Matches reports whether an entry passes the filter.
func (f EntryFilter) Matches(e Entry) bool {
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.Kind != nil && e.Kind != *f.Kind {
		return false
	}
	if f.Source != nil && e.Source != *f.Source {
		return false
	}
	return true
}

// =============================================================================
// STORE - Append-mostly persistence for entries
// =============================================================================

// Store persists ledger entries for all accounts.
type Store interface {
	// AppendEntry persists one entry. Fails with
	// ErrDuplicateIdempotencyKey if the entry's key already exists.
	AppendEntry(ctx context.Context, e Entry) error

	// Entries returns an account's entries matching the filter,
	// newest first.
	Entries(ctx context.Context, id AccountID, f EntryFilter) ([]Entry, error)

	// HasEntryKey checks whether an idempotency key has been used.
	HasEntryKey(ctx context.Context, key string) (bool, error)

	// MarkExpired flips Status to expired on every active credit whose
	// ExpiresAt is at or before now. Returns the number of entries
	// flipped. Idempotent; advisory only - balance reads filter lapsed
	// credits regardless of their status.
	MarkExpired(ctx context.Context, now time.Time) (int, error)
}
