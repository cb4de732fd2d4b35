/*
store.go - Persistence interfaces for the catalog and the usage ledger

PURPOSE:
  Defines the boundary between the engine and storage. The engine only
  reads catalog data; the usage counters are the only thing it writes.

KEY INTERFACES:
  CatalogStore: Read-only coverage lookups used at evaluation time
  UsageStore:   Usage counters with an atomic increment-and-return

ATOMIC INCREMENT:
  IncrementUsage MUST read-or-create the record and add one as a single
  atomic step. Two concurrent increments of the same key must produce two
  distinct results (N+1 and N+2), never both N+1. Implementations:
  - benefit/store/memory.go: per-key mutex
  - store/sqlite/sqlite.go:  INSERT .. ON CONFLICT DO UPDATE .. RETURNING
  - store/redis/redis.go:    HINCRBY

NO RESET:
  There is no way to decrement or reset a counter. Corrections are an
  administrative reversal outside the engine.

SEE ALSO:
  - ledger.go: UsageLedger built on UsageStore
  - catalog.go: Catalog built on CatalogStore
*/
package benefit

import (
	"context"
	"time"
)

// =============================================================================
// CATALOG STORE - Read path for coverage rules
// =============================================================================

// CatalogStore reads coverage data. Rules are authored elsewhere.
type CatalogStore interface {
	// GetCoverageRule returns the rule for the pair. found=false is a normal
	// outcome (the procedure is simply not defined for the plan).
	GetCoverageRule(ctx context.Context, plan PlanID, procedure ProcedureID) (CoverageRule, bool, error)

	// PlanExists reports whether the plan exists in the owning system.
	PlanExists(ctx context.Context, plan PlanID) (bool, error)

	// ProcedureExists reports whether the procedure exists in the owning system.
	ProcedureExists(ctx context.Context, procedure ProcedureID) (bool, error)
}

// CatalogWriter is the administrative authoring path. The engine never calls it.
type CatalogWriter interface {
	SavePlan(ctx context.Context, plan Plan) error
	SaveProcedure(ctx context.Context, procedure Procedure) error
	SaveCoverageRule(ctx context.Context, rule CoverageRule) error
}

// =============================================================================
// USAGE STORE - Append-only counters
// =============================================================================

// UsageStore persists usage counters.
type UsageStore interface {
	// UsageCount returns the counter, 0 if no record exists.
	UsageCount(ctx context.Context, key UsageKey) (int, error)

	// IncrementUsage atomically adds one and returns the new count.
	IncrementUsage(ctx context.Context, key UsageKey, at time.Time) (int, error)

	// ListUsage returns all records of a pet for a year.
	ListUsage(ctx context.Context, pet PetID, year int) ([]UsageRecord, error)
}
