// Package ingestion implements the Extraction Pipeline (C2): the ordered
// identify -> parse -> field-extract -> persist stages invoked for every
// job the worker pool (C4) acquires, plus the thin HTTP surface that
// submits jobs and queries their state.
package ingestion

// Property is the normalized address and structural summary of the
// inspected property.
type Property struct {
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
	Type         string `json:"type,omitempty"`
	SizeSqFt     int    `json:"sizeSqFt,omitempty"`
	YearBuilt    int    `json:"yearBuilt,omitempty"`
	Beds         int    `json:"beds,omitempty"`
	Baths        float64 `json:"baths,omitempty"`
}

// Inspector identifies who performed the inspection.
type Inspector struct {
	Name    string `json:"name"`
	License string `json:"license,omitempty"`
	Company string `json:"company,omitempty"`
	Contact string `json:"contact,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Severity is the heuristic-classified urgency of a Finding.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityMajor         Severity = "major"
	SeverityMinor         Severity = "minor"
	SeverityInformational Severity = "informational"
)

// Category is the heuristic-classified defect domain of a Finding.
type Category string

const (
	CategoryElectrical Category = "electrical"
	CategoryPlumbing   Category = "plumbing"
	CategoryStructural Category = "structural"
	CategoryHVAC       Category = "hvac"
	CategoryRoofing    Category = "roofing"
	CategoryInterior   Category = "interior"
	CategoryExterior   Category = "exterior"
	CategorySafety     Category = "safety"
	CategoryOther      Category = "other"
)

// Finding is one extracted defect or observation.
type Finding struct {
	ID              string   `json:"id"`
	Category        Category `json:"category"`
	Severity        Severity `json:"severity"`
	Description     string   `json:"description"`
	Location        string   `json:"location,omitempty"`
	Recommendation  string   `json:"recommendation,omitempty"`
	EstimatedCostUS float64  `json:"estimatedCostUsd,omitempty"`
}

// Record is the canonical structured record persisted at the Persist stage
// and surfaced as a job's result payload.
type Record struct {
	Property       Property  `json:"property"`
	Inspector      Inspector `json:"inspector"`
	Findings       []Finding `json:"findings"`
	RawTextLength  int       `json:"rawTextLength"`
	ParseConfidence float64  `json:"parseConfidence"`
}

// Summary is the compact result payload surfaced by the job-state-query
// interface for a completed job (§6): finding count, severity breakdown,
// and total estimated cost, without the full extracted text.
type Summary struct {
	FindingsCount     int              `json:"findingsCount"`
	BySeverity        map[string]int   `json:"bySeverity"`
	EstimatedCostTotal float64         `json:"estimatedCostTotal"`
	Property          Property         `json:"property"`
	Inspector         Inspector        `json:"inspector"`
}

// BuildSummary reduces a full Record to its Summary.
func BuildSummary(r *Record) Summary {
	s := Summary{
		Property:   r.Property,
		Inspector:  r.Inspector,
		BySeverity: map[string]int{},
	}
	for _, f := range r.Findings {
		s.FindingsCount++
		s.BySeverity[string(f.Severity)]++
		s.EstimatedCostTotal += f.EstimatedCostUS
	}
	return s
}
