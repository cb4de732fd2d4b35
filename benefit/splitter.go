package benefit

// =============================================================================
// MONEY SPLITTER
// =============================================================================

// Split is the monetary breakdown of one procedure.
type Split struct {
	Gross           Money
	PayerValue      Money
	Coparticipation Money
}

// SplitRule returns the three figures stored on the rule, passed through
// verbatim. No percentage math happens here: defaults are applied once when
// the rule is authored. The splitter does not gate; an excluded rule still
// yields figures for "what would it cost if covered" previews.
func SplitRule(rule CoverageRule) Split {
	return Split{
		Gross:           rule.GrossPrice,
		PayerValue:      rule.PayerValue,
		Coparticipation: rule.Coparticipation,
	}
}
