/*
ledger.go - Usage ledger: per (pet, procedure, plan, year) counters

PURPOSE:
  Counts how many times a procedure has been consumed by a pet under a
  plan in a calendar year. Mutated exactly once per committed claim, never
  by an adjudication preview.

CRITICAL INVARIANTS:
  1. MONOTONIC: counts never decrease. No Reset, no Decrement. EVER.
  2. ATOMIC: two concurrent increments of one key never lose an update
  3. LAZY: a key has no record until its first increment (count reads 0)
  4. YEARLY: each calendar year is a fresh key, nothing rolls over

CORRECTIONS:
  An erroneous increment is corrected by an administrative reversal
  outside the engine, the same way the ledger itself never edits history.

SEE ALSO:
  - store.go: UsageStore (the atomic primitive lives there)
  - limiter.go: Compares the count to the annual limit
*/
package benefit

import (
	"context"
	"time"
)

// =============================================================================
// USAGE LEDGER
// =============================================================================

// UsageLedger is the engine's only mutable state.
type UsageLedger interface {
	// CurrentCount returns the count for the key, 0 if none. Read-only.
	CurrentCount(ctx context.Context, key UsageKey) (int, error)

	// Increment atomically adds one and returns the new count.
	// This is the ONLY write operation.
	Increment(ctx context.Context, key UsageKey) (int, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using UsageStore
// =============================================================================

type DefaultLedger struct {
	Store UsageStore
	Now   func() time.Time
}

func NewLedger(store UsageStore) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) CurrentCount(ctx context.Context, key UsageKey) (int, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	count, err := l.Store.UsageCount(ctx, key)
	if err != nil {
		return 0, persistenceError("usage count", key.String(), err)
	}
	return count, nil
}

func (l *DefaultLedger) Increment(ctx context.Context, key UsageKey) (int, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	count, err := l.Store.IncrementUsage(ctx, key, now().UTC())
	if err != nil {
		return 0, persistenceError("usage increment", key.String(), err)
	}
	return count, nil
}

// ListUsage returns a pet's counters for a year (read-only convenience for portals).
func (l *DefaultLedger) ListUsage(ctx context.Context, pet PetID, year int) ([]UsageRecord, error) {
	records, err := l.Store.ListUsage(ctx, pet, year)
	if err != nil {
		return nil, persistenceError("usage list", string(pet), err)
	}
	return records, nil
}
