package benefit

import (
	"context"
	"fmt"
)

// =============================================================================
// MEMBERSHIP - A pet covered by a plan from a coverage start date
// =============================================================================

// Membership links a pet to a plan. CoverageStart comes from the governing
// contract's start date and is what waiting periods are measured from.
// Historical memberships are kept when a pet changes plan.
type Membership struct {
	ID            MembershipID
	PetID         PetID
	PlanID        PlanID
	CoverageStart Date
	CoverageEnd   *Date // nil = still active
}

// IsActive returns true if the membership covers the given day.
func (m Membership) IsActive(at Date) bool {
	if at.Before(m.CoverageStart) {
		return false
	}
	if m.CoverageEnd != nil && at.After(*m.CoverageEnd) {
		return false
	}
	return true
}

// MembershipStore persists memberships. Owned by the surrounding workflow;
// the engine itself never reads it.
type MembershipStore interface {
	SaveMembership(ctx context.Context, m Membership) error
	GetMembershipsByPet(ctx context.Context, pet PetID) ([]Membership, error)
}

// ResolveActive returns the single membership active on the date.
//
// A membership whose coverage has not started yet is returned when it is
// the only candidate so the waiting-period gate can report it; the
// supported workflows keep at most one such membership per pet.
func ResolveActive(memberships []Membership, at Date) (Membership, error) {
	var active []Membership
	for _, m := range memberships {
		if m.IsActive(at) {
			active = append(active, m)
		}
	}

	switch len(active) {
	case 1:
		return active[0], nil
	case 0:
		if upcoming, ok := soleUpcoming(memberships, at); ok {
			return upcoming, nil
		}
		return Membership{}, ErrNoActiveMembership
	default:
		return Membership{}, fmt.Errorf("%w: %d memberships on %s", ErrAmbiguousMembership, len(active), at)
	}
}

func soleUpcoming(memberships []Membership, at Date) (Membership, bool) {
	var found []Membership
	for _, m := range memberships {
		if m.CoverageStart.After(at) {
			found = append(found, m)
		}
	}
	if len(found) != 1 {
		return Membership{}, false
	}
	return found[0], true
}
