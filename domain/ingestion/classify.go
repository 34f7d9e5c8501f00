package ingestion

import "strings"

// severityKeywords is the canonical keyword -> Severity table from §4.2,
// in first-hit-wins priority order (most urgent first). Matching is
// case-insensitive substring search over the finding's description text.
var severityKeywords = []struct {
	keyword  string
	severity Severity
}{
	{"critical", SeverityCritical},
	{"urgent", SeverityCritical},
	{"hazard", SeverityCritical},
	{"danger", SeverityCritical},
	{"emergency", SeverityCritical},
	{"immediate", SeverityCritical},

	{"moderate", SeverityMajor},
	{"concern", SeverityMajor},
	{"issue", SeverityMajor},
	{"problem", SeverityMajor},
	{"attention", SeverityMajor},

	{"minor", SeverityMinor},
	{"cosmetic", SeverityMinor},
	{"maintenance", SeverityMinor},
	{"suggestion", SeverityMinor},
}

// ClassifySeverity applies the keyword table to text, returning the first
// matching severity or SeverityInformational if none match. Deterministic:
// identical input text always yields identical output.
func ClassifySeverity(text string) Severity {
	lower := strings.ToLower(text)
	for _, kw := range severityKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.severity
		}
	}
	return SeverityInformational
}

// categoryKeywords maps a finding's category per a keyword table, in
// first-hit-wins order. Multiple keywords may share a category; order
// within a category is irrelevant, order across categories is not.
var categoryKeywords = []struct {
	keyword  string
	category Category
}{
	{"electrical", CategoryElectrical},
	{"wiring", CategoryElectrical},
	{"outlet", CategoryElectrical},
	{"circuit", CategoryElectrical},
	{"panel", CategoryElectrical},

	{"plumbing", CategoryPlumbing},
	{"pipe", CategoryPlumbing},
	{"leak", CategoryPlumbing},
	{"faucet", CategoryPlumbing},
	{"drain", CategoryPlumbing},
	{"water heater", CategoryPlumbing},

	{"structural", CategoryStructural},
	{"foundation", CategoryStructural},
	{"beam", CategoryStructural},
	{"joist", CategoryStructural},
	{"crack", CategoryStructural},

	{"hvac", CategoryHVAC},
	{"furnace", CategoryHVAC},
	{"air condition", CategoryHVAC},
	{"heating", CategoryHVAC},
	{"ventilat", CategoryHVAC},
	{"ductwork", CategoryHVAC},

	{"roof", CategoryRoofing},
	{"shingle", CategoryRoofing},
	{"gutter", CategoryRoofing},
	{"flashing", CategoryRoofing},

	{"interior", CategoryInterior},
	{"wall", CategoryInterior},
	{"ceiling", CategoryInterior},
	{"floor", CategoryInterior},

	{"exterior", CategoryExterior},
	{"siding", CategoryExterior},
	{"driveway", CategoryExterior},
	{"deck", CategoryExterior},

	{"safety", CategorySafety},
	{"smoke detector", CategorySafety},
	{"carbon monoxide", CategorySafety},
	{"railing", CategorySafety},
	{"guardrail", CategorySafety},
}

// ClassifyCategory applies the keyword table to text, returning the first
// matching category or CategoryOther if none match.
func ClassifyCategory(text string) Category {
	lower := strings.ToLower(text)
	for _, kw := range categoryKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.category
		}
	}
	return CategoryOther
}
