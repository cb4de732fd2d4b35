package benefit

// =============================================================================
// PERIOD - Usage counters are bounded by the calendar year
// =============================================================================

// Period is an inclusive date range [Start, End].
//
// Annual limits always use the calendar year: a new year starts every
// counter at zero and unused allowance does not roll over.
type Period struct {
	Start Date
	End   Date
}

// CalendarYear returns Jan 1 - Dec 31 of the given year.
func CalendarYear(year int) Period {
	return Period{
		Start: NewDate(year, 1, 1),
		End:   NewDate(year, 12, 31),
	}
}

// UsagePeriodFor returns the usage period containing the date.
func UsagePeriodFor(d Date) Period { return CalendarYear(d.Year()) }

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Year returns the year of the period start.
func (p Period) Year() int { return p.Start.Year() }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
