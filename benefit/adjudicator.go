/*
adjudicator.go - Orchestrates one claim evaluation

PURPOSE:
  The only component external collaborators call. Composes the catalog,
  the waiting period gate, the usage ledger/limiter and the money splitter
  into a ClaimDecision, and commits usage for accepted claims.

STATE MACHINE (per evaluation, nothing persisted):

  Start ──▶ CatalogLookup ──┬──▶ NotCovered
                            └──▶ GateCheck ──┬──▶ WaitingBlocked
                                             └──▶ LimitCheck ──┬──▶ LimitExceeded
                                                               └──▶ Approved

EVALUATE vs COMMIT:
  Evaluate is a pure read: safe for any number of concurrent callers, and
  calling it twice without a Commit in between returns the same decision.
  Commit is the single write and is only legal for APPROVED decisions.

FAIL CLOSED:
  If the ledger read fails, Evaluate returns an error and no decision.
  It never defaults to approved.

EXAMPLE:
  adj := benefit.NewAdjudicator(catalog, ledger)

  decision, err := adj.Evaluate(ctx, benefit.EvaluateInput{
      PetID: "pet-1", ProcedureID: "vaccine", PlanID: "basic",
      MembershipStart: start, AsOf: today,
  })
  if err != nil { ... }
  if decision.Allowed {
      count, err := adj.Commit(ctx, decision, "pet-1", "vaccine", "basic", today.Year())
  }

SEE ALSO:
  - claims/service.go: The claim-entry workflow built on top
*/
package benefit

import "context"

// =============================================================================
// ADJUDICATOR
// =============================================================================

// EvaluateInput is everything the engine needs. Plan and membership start
// are resolved by the caller from its own membership records.
type EvaluateInput struct {
	PetID           PetID
	ProcedureID     ProcedureID
	PlanID          PlanID
	MembershipStart Date
	AsOf            Date
}

type Adjudicator struct {
	Catalog Catalog
	Ledger  UsageLedger
}

func NewAdjudicator(catalog Catalog, ledger UsageLedger) *Adjudicator {
	return &Adjudicator{Catalog: catalog, Ledger: ledger}
}

// Evaluate computes a decision for one claim request. Errors are either
// contract violations (unknown plan/procedure, missing dates) or retryable
// persistence faults. Domain outcomes are never errors.
func (a *Adjudicator) Evaluate(ctx context.Context, in EvaluateInput) (ClaimDecision, error) {
	if in.AsOf.IsZero() || in.MembershipStart.IsZero() {
		return ClaimDecision{}, contractViolation("evaluate", ErrInvalidInput,
			"membership start and as-of dates are required")
	}
	if err := a.Catalog.Known(ctx, in.PlanID, in.ProcedureID); err != nil {
		return ClaimDecision{}, err
	}

	decision := ClaimDecision{
		PetID:       in.PetID,
		ProcedureID: in.ProcedureID,
		PlanID:      in.PlanID,
		AsOf:        in.AsOf,
	}

	// 1. Catalog lookup
	rule, found, err := a.Catalog.Lookup(ctx, in.PlanID, in.ProcedureID)
	if err != nil {
		return ClaimDecision{}, err
	}
	if !found || !rule.IsIncluded {
		decision.Reason = ReasonNotCovered
		return decision, nil
	}

	decision.AnnualLimit = rule.AnnualLimit
	split := SplitRule(rule)
	decision.Gross = split.Gross
	decision.PayerValue = split.PayerValue
	decision.Coparticipation = split.Coparticipation

	// 2. Waiting period gate
	if !IsSatisfied(in.MembershipStart, rule.WaitingPeriodDays, in.AsOf) {
		decision.Reason = ReasonWaitingPeriod
		decision.EligibleOn = EligibleOn(in.MembershipStart, rule.WaitingPeriodDays)
		return decision, nil
	}

	// 3. Annual limit
	count, err := a.Ledger.CurrentCount(ctx, decision.UsageKey())
	if err != nil {
		return ClaimDecision{}, err
	}
	ok, remaining := HasRemaining(rule, count)
	if !ok {
		decision.Reason = ReasonAnnualLimitReached
		decision.RemainingAnnualUses = 0
		return decision, nil
	}

	// 4. Approved: report what is left once this claim is consumed
	decision.Allowed = true
	decision.Reason = ReasonApproved
	decision.RemainingAnnualUses = remaining.afterClaim()
	return decision, nil
}

// Commit records one use for an approved decision and returns the new count.
// Calling it with a rejected decision, or with arguments that don't match
// the decision, is a caller bug and returns a ContractViolationError.
func (a *Adjudicator) Commit(ctx context.Context, decision ClaimDecision, pet PetID, procedure ProcedureID, plan PlanID, year int) (int, error) {
	if !decision.Allowed || decision.Reason != ReasonApproved {
		return 0, contractViolation("commit", ErrCommitNotApproved,
			"decision for %s/%s/%s is %s", decision.PetID, decision.ProcedureID, decision.PlanID, decision.Reason)
	}

	key := UsageKey{PetID: pet, ProcedureID: procedure, PlanID: plan, Year: year}
	if key != decision.UsageKey() {
		return 0, contractViolation("commit", ErrCommitMismatch,
			"decision is for %s, commit asked for %s", decision.UsageKey(), key)
	}

	return a.Ledger.Increment(ctx, key)
}

// CommitDecision commits using the key carried by the decision itself.
func (a *Adjudicator) CommitDecision(ctx context.Context, decision ClaimDecision) (int, error) {
	key := decision.UsageKey()
	return a.Commit(ctx, decision, key.PetID, key.ProcedureID, key.PlanID, key.Year)
}
