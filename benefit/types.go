/*
Package benefit provides the benefit adjudication engine.

PURPOSE:
  Decides, for a pet, a plan and a requested veterinary procedure, whether
  the procedure is covered, whether a waiting period still blocks it,
  whether the annual usage cap is exhausted, and how the value of the
  service splits between what the insurer pays the credentialed unit and
  what the client pays as coparticipation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: integer minor units (cents). Never floating point.
  - CoverageRule: the plan x procedure join with prices and limits
  - UsageKey / UsageRecord: per (pet, procedure, plan, calendar year) counter
  - ClaimDecision: the immutable output of one evaluation
  - Identifiers: type-safe IDs so a pet ID can't be passed as a plan ID

DESIGN PRINCIPLES:
  1. Precision: all money is int64 cents; display decimals live at the edge
  2. Purity: Evaluate reads, only Commit writes
  3. Auditability: usage counters only ever go up
  4. Type Safety: distinct ID types for every entity

USAGE:
  rule := benefit.CoverageRule{
      PlanID:            "plan-basic",
      ProcedureID:       "vaccine-annual",
      IsIncluded:        true,
      PayerValue:        benefit.Cents(8000),
      WaitingPeriodDays: 30,
      AnnualLimit:       1,
  }

SEE ALSO:
  - catalog.go: CoverageRule lookup
  - ledger.go: UsageRecord persistence
  - adjudicator.go: Evaluate / Commit
*/
package benefit

import (
	"fmt"
	"time"
)

// =============================================================================
// MONEY - Fixed-point minor units
// =============================================================================

// Money is an amount in minor units (cents). The engine never converts it
// to a floating representation; display formatting happens at the API edge.
type Money int64

// Cents builds a Money value from minor units.
func Cents(v int64) Money { return Money(v) }

func (m Money) Int64() int64             { return int64(m) }
func (m Money) IsZero() bool             { return m == 0 }
func (m Money) IsNegative() bool         { return m < 0 }
func (m Money) Add(o Money) Money        { return m + o }
func (m Money) Sub(o Money) Money        { return m - o }
func (m Money) GreaterThan(o Money) bool { return m > o }

// String renders the amount as major.minor with two places, e.g. "80.00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PetID string
type PlanID string
type ProcedureID string
type UnitID string
type MembershipID string

// =============================================================================
// CATALOG ENTITIES
// =============================================================================

// PlanType drives the default coparticipation policy applied when rules are
// authored. It has no effect at evaluation time.
type PlanType string

const (
	PlanTypeCoparticipation PlanType = "coparticipation" // client pays a share at point of service
	PlanTypeFull            PlanType = "full"            // no coparticipation by default
)

// Plan is a sellable insurance product.
type Plan struct {
	ID     PlanID
	Name   string
	Type   PlanType
	Active bool
}

// Procedure is a billable veterinary service, independent of any plan.
type Procedure struct {
	ID       ProcedureID
	Name     string
	Category string
	Active   bool
}

// CoverageRule joins a plan and a procedure.
//
// PayerValue and Coparticipation are configured independently of GrossPrice;
// their sum is not required to equal it. A rule with IsIncluded=false exists
// for display only and is never payable.
type CoverageRule struct {
	PlanID      PlanID
	ProcedureID ProcedureID
	IsIncluded  bool

	GrossPrice      Money // full retail value of the procedure
	PayerValue      Money // what the insurer remits to the credentialed unit
	Coparticipation Money // what the client owes at point of service

	WaitingPeriodDays int // calendar days from coverage start, >= 0
	AnnualLimit       int // uses per calendar year, 0 = unlimited
}

// IsUnlimited returns true if the rule places no annual cap on usage.
func (r CoverageRule) IsUnlimited() bool { return r.AnnualLimit <= 0 }

// =============================================================================
// USAGE - The only mutable state in the engine
// =============================================================================

// UsageKey identifies one usage counter.
type UsageKey struct {
	PetID       PetID
	ProcedureID ProcedureID
	PlanID      PlanID
	Year        int
}

// NewUsageKey builds the key for the calendar year containing asOf.
func NewUsageKey(pet PetID, procedure ProcedureID, plan PlanID, asOf Date) UsageKey {
	return UsageKey{PetID: pet, ProcedureID: procedure, PlanID: plan, Year: UsagePeriodFor(asOf).Year()}
}

// Validate rejects keys with missing components.
func (k UsageKey) Validate() error {
	if k.PetID == "" || k.ProcedureID == "" || k.PlanID == "" || k.Year <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidUsageKey, k)
	}
	return nil
}

func (k UsageKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.PetID, k.ProcedureID, k.PlanID, k.Year)
}

// UsageRecord is the persisted counter for a key. Created lazily on first
// increment; Count never decreases.
type UsageRecord struct {
	Key       UsageKey
	Count     int
	UpdatedAt time.Time
}

// =============================================================================
// DECISION - Output of one evaluation
// =============================================================================

// Reason is the outcome code of an evaluation. Callers branch on it.
type Reason string

const (
	ReasonNotCovered         Reason = "NOT_COVERED"
	ReasonWaitingPeriod      Reason = "WAITING_PERIOD"
	ReasonAnnualLimitReached Reason = "ANNUAL_LIMIT_REACHED"
	ReasonApproved           Reason = "APPROVED"
)

// Uses is a count of remaining annual uses. UnlimitedUses is the sentinel
// for rules without a cap.
type Uses int

const UnlimitedUses Uses = -1

func (u Uses) IsUnlimited() bool { return u == UnlimitedUses }

func (u Uses) String() string {
	if u.IsUnlimited() {
		return "unlimited"
	}
	return fmt.Sprintf("%d", int(u))
}

// ClaimDecision is a value object. It is never persisted by the engine.
//
// RemainingAnnualUses is meaningful for APPROVED (uses left after this claim)
// and ANNUAL_LIMIT_REACHED (always 0). For the other reasons the ledger is
// never read and it is reported as 0.
type ClaimDecision struct {
	Allowed bool
	Reason  Reason

	Gross           Money
	PayerValue      Money
	Coparticipation Money

	RemainingAnnualUses Uses

	// Echo of the evaluated request, checked again by Commit.
	PetID       PetID
	ProcedureID ProcedureID
	PlanID      PlanID
	AsOf        Date

	// Set for WAITING_PERIOD: first date the procedure becomes claimable.
	EligibleOn Date
	// Set when a rule was found: the cap that applied (0 = unlimited).
	AnnualLimit int
}

// UsageKey returns the counter this decision would consume on commit.
func (d ClaimDecision) UsageKey() UsageKey {
	return NewUsageKey(d.PetID, d.ProcedureID, d.PlanID, d.AsOf)
}
