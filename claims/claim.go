/*
Package claims is the claim-entry workflow built on the benefit engine.

PURPOSE:
  An operator at a credentialed unit enters a claim for a pet. The
  workflow resolves the pet's membership, asks the engine for a decision,
  commits usage when approved, stores the claim and tells downstream
  systems what happened.

LIFECYCLE:
  There is no pending state. A claim is adjudicated when it is entered:

    Submit ──▶ Evaluate ──┬──▶ APPROVED ──▶ Commit ──▶ saved (approved)
                          └──▶ rejected ────────────▶ saved (rejected)

  Preview runs Evaluate only and saves nothing.

ORDERING:
  Usage is committed before the claim row is written. If the write fails
  after the commit, the use stays consumed and the error is returned;
  the correction is an administrative reversal, like any other ledger fix.

SEE ALSO:
  - benefit/adjudicator.go: Evaluate / Commit
  - events/events.go: Event payloads
  - store/sqlite/sqlite.go: Claim persistence
*/
package claims

import (
	"context"
	"errors"
	"time"

	"github.com/warp/benefit-engine/benefit"
)

// =============================================================================
// TYPES
// =============================================================================

type Status string

const (
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Claim is the stored record of one adjudicated request.
type Claim struct {
	ID           string
	PetID        benefit.PetID
	ProcedureID  benefit.ProcedureID
	PlanID       benefit.PlanID
	UnitID       benefit.UnitID
	MembershipID benefit.MembershipID
	RequestedAt  benefit.Date
	Decision     benefit.ClaimDecision
	Status       Status
	UsageCount   int // counter value after commit, 0 when rejected
	CreatedAt    time.Time
}

// Request is what the operator enters.
type Request struct {
	PetID       benefit.PetID
	ProcedureID benefit.ProcedureID
	UnitID      benefit.UnitID
	AsOf        benefit.Date // zero = today
}

// UsageEvent is the audit trail entry for one committed use.
type UsageEvent struct {
	ID         string
	Key        benefit.UsageKey
	ClaimID    string
	CountAfter int
	At         time.Time
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Store persists claims.
type Store interface {
	SaveClaim(ctx context.Context, c Claim) error
	// GetClaim returns nil, nil when the claim does not exist.
	GetClaim(ctx context.Context, id string) (*Claim, error)
	ListClaimsByPet(ctx context.Context, pet benefit.PetID) ([]Claim, error)
}

// UsageAudit appends usage events. Optional.
type UsageAudit interface {
	AppendUsageEvent(ctx context.Context, e UsageEvent) error
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrClaimNotFound = errors.New("claim not found")
	ErrMissingPet    = errors.New("pet id is required")
	ErrMissingProc   = errors.New("procedure id is required")
)
