package benefit

// =============================================================================
// USAGE LIMITER
// =============================================================================

// HasRemaining compares the current count against the rule's annual limit.
//
// AnnualLimit == 0 never blocks and reports UnlimitedUses. Otherwise the
// request fits iff currentCount < limit, and remaining is
// max(0, limit - currentCount), counted before this claim.
func HasRemaining(rule CoverageRule, currentCount int) (bool, Uses) {
	if rule.IsUnlimited() {
		return true, UnlimitedUses
	}
	remaining := rule.AnnualLimit - currentCount
	if remaining < 0 {
		remaining = 0
	}
	return currentCount < rule.AnnualLimit, Uses(remaining)
}

// afterClaim reports what is left once the claim being approved is consumed.
func (u Uses) afterClaim() Uses {
	if u.IsUnlimited() || u <= 0 {
		return u
	}
	return u - 1
}
