package claims

import (
	"fmt"

	"github.com/warp/benefit-engine/benefit"
)

// Message renders the operator-facing explanation of a decision.
func Message(d benefit.ClaimDecision) string {
	switch d.Reason {
	case benefit.ReasonApproved:
		msg := fmt.Sprintf("Approved. Plan pays %s, client pays %s.", d.PayerValue, d.Coparticipation)
		if !d.RemainingAnnualUses.IsUnlimited() {
			msg += fmt.Sprintf(" %d use(s) left this year.", int(d.RemainingAnnualUses))
		}
		return msg
	case benefit.ReasonWaitingPeriod:
		if d.EligibleOn.IsZero() {
			return "Procedure is still in its waiting period."
		}
		return fmt.Sprintf("Procedure is still in its waiting period. Eligible on %s.", d.EligibleOn)
	case benefit.ReasonAnnualLimitReached:
		period := benefit.UsagePeriodFor(d.AsOf)
		return fmt.Sprintf("Annual limit of %d use(s) reached for %d. Available again on %s.",
			d.AnnualLimit, period.Year(), period.End.AddDays(1))
	case benefit.ReasonNotCovered:
		return "Procedure is not covered by the plan."
	default:
		return string(d.Reason)
	}
}
