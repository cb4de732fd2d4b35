package benefit

// =============================================================================
// WAITING PERIOD GATE
// =============================================================================

// IsSatisfied reports whether asOf is past the waiting period.
//
// Satisfied iff asOf >= coverageStart + waitingPeriodDays, in calendar days.
// A coverage start in the future (membership not yet effective) is never
// satisfied, even with a zero waiting period. Negative days count as zero.
func IsSatisfied(coverageStart Date, waitingPeriodDays int, asOf Date) bool {
	if coverageStart.After(asOf) {
		return false
	}
	return asOf.AfterOrEqual(EligibleOn(coverageStart, waitingPeriodDays))
}

// EligibleOn returns the first day the procedure can be claimed.
func EligibleOn(coverageStart Date, waitingPeriodDays int) Date {
	if waitingPeriodDays < 0 {
		waitingPeriodDays = 0
	}
	return coverageStart.AddDays(waitingPeriodDays)
}
