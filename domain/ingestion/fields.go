package ingestion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// normalizeWhitespace collapses runs of whitespace (including newlines) to a
// single space and trims the result, so pattern rules operate over a
// predictable, line-ending-agnostic layout.
func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// addressPattern captures a US-style street address line followed by city,
// state and a 5-digit zip, e.g. "123 Main St, Anytown, CA 90210". Ordered
// ahead of looser patterns since it is the most specific.
var addressPattern = regexp.MustCompile(
	`(?i)address:?\s*([0-9][^,]*),\s*([A-Za-z .'-]+),\s*([A-Z]{2})\s+(\d{5}(?:-\d{4})?)`,
)

// propertyTypePattern matches a declared property type keyword.
var propertyTypePattern = regexp.MustCompile(`(?i)(single[- ]family|condo(?:minium)?|townhouse|duplex|multi[- ]family)`)

var sizePattern = regexp.MustCompile(`(?i)(\d{3,6})\s*(?:sq\.?\s?ft\.?|square feet)`)
var yearBuiltPattern = regexp.MustCompile(`(?i)(?:year\s*built|built\s*in)\D{0,5}(\d{4})`)
var bedsPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:bed(?:room)?s?)\b`)
var bathsPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*bath(?:room)?s?\b`)

// inspectorPattern captures "Inspector: <name>, License <license>" with the
// license segment optional.
var inspectorPattern = regexp.MustCompile(
	`(?i)inspector:?\s*([A-Za-z.'\- ]+?)(?:,\s*License\s*#?\s*([A-Za-z0-9-]+))?(?:,|\.|$)`,
)
var companyPattern = regexp.MustCompile(`(?i)compan(?:y|ies):?\s*([A-Za-z0-9 &.,'-]+?)(?:,|\.|$)`)
var contactPattern = regexp.MustCompile(`(?i)(?:phone|contact):?\s*([0-9()\-. +]{7,})`)
var datePattern = regexp.MustCompile(`(?i)(?:inspection )?date:?\s*(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})`)

// findingSentencePattern splits raw text into sentence-like chunks for
// per-finding classification; findings are short declarative observations,
// typically one per sentence or newline-delimited bullet.
var findingSentencePattern = regexp.MustCompile(`[.\n]+`)

// findingKeywords are the trigger words that promote a sentence to a
// Finding candidate. A sentence with none of these is assumed to be prose
// (address, inspector block, boilerplate) rather than an observation.
var findingKeywords = []string{
	"hazard", "damage", "damaged", "crack", "cracked", "leak", "leaking",
	"worn", "deteriorat", "missing", "broken", "fault", "faulty", "defect",
	"recommend", "repair", "replace", "observed", "noted", "found",
	"concern", "issue", "problem", "deficien",
}

// ExtractProperty applies the property pattern table to normalized text,
// first-match-wins per field.
func ExtractProperty(text string) Property {
	norm := normalizeWhitespace(text)
	var p Property

	if m := addressPattern.FindStringSubmatch(norm); m != nil {
		p.AddressLine1 = strings.TrimSpace(m[1])
		p.City = strings.TrimSpace(m[2])
		p.State = strings.TrimSpace(m[3])
		p.Zip = strings.TrimSpace(m[4])
	}
	if m := propertyTypePattern.FindStringSubmatch(norm); m != nil {
		p.Type = strings.ToLower(m[1])
	}
	if m := sizePattern.FindStringSubmatch(norm); m != nil {
		p.SizeSqFt, _ = strconv.Atoi(m[1])
	}
	if m := yearBuiltPattern.FindStringSubmatch(norm); m != nil {
		p.YearBuilt, _ = strconv.Atoi(m[1])
	}
	if m := bedsPattern.FindStringSubmatch(norm); m != nil {
		p.Beds, _ = strconv.Atoi(m[1])
	}
	if m := bathsPattern.FindStringSubmatch(norm); m != nil {
		p.Baths, _ = strconv.ParseFloat(m[1], 64)
	}
	return p
}

// ExtractInspector applies the inspector pattern table to normalized text.
func ExtractInspector(text string) Inspector {
	norm := normalizeWhitespace(text)
	var insp Inspector

	if m := inspectorPattern.FindStringSubmatch(norm); m != nil {
		insp.Name = strings.TrimSpace(m[1])
		if len(m) > 2 {
			insp.License = strings.TrimSpace(m[2])
		}
	}
	if m := companyPattern.FindStringSubmatch(norm); m != nil {
		insp.Company = strings.TrimSpace(m[1])
	}
	if m := contactPattern.FindStringSubmatch(norm); m != nil {
		insp.Contact = strings.TrimSpace(m[1])
	}
	if m := datePattern.FindStringSubmatch(norm); m != nil {
		insp.Date = strings.TrimSpace(m[1])
	}
	return insp
}

// ExtractFindings splits text into sentence-like chunks, classifies each
// candidate chunk, and returns the findings in source order. An empty
// result is legal: a document with no observational sentences yields no
// findings, which is still a successful field-extract per §4.2.
func ExtractFindings(text string) []Finding {
	// Split on the raw text first, before whitespace normalization collapses
	// newlines — otherwise a report with no periods but one observation per
	// line would normalize to a single run-on chunk and the \n arm of
	// findingSentencePattern would never fire.
	chunks := findingSentencePattern.Split(text, -1)

	var findings []Finding
	seq := 0
	for _, raw := range chunks {
		chunk := normalizeWhitespace(raw)
		if chunk == "" || !looksLikeFinding(chunk) {
			continue
		}
		seq++
		findings = append(findings, Finding{
			ID:             fmt.Sprintf("finding-%d", seq),
			Category:       ClassifyCategory(chunk),
			Severity:       ClassifySeverity(chunk),
			Description:    chunk,
			EstimatedCostUS: estimateCost(chunk),
		})
	}
	return findings
}

func looksLikeFinding(chunk string) bool {
	lower := strings.ToLower(chunk)
	for _, kw := range findingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var costPattern = regexp.MustCompile(`\$\s?([0-9][0-9,]*(?:\.[0-9]{2})?)`)

// estimateCost pulls a dollar figure out of a finding's text, if present.
func estimateCost(text string) float64 {
	m := costPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	cleaned := strings.ReplaceAll(m[1], ",", "")
	v, _ := strconv.ParseFloat(cleaned, 64)
	return v
}
