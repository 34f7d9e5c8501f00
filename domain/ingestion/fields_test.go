package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const s1SampleReport = `
Address: 123 Main St, Anytown, CA 90210
Property Type: Single Family
Size: 2400 sq ft
Year Built: 1998
4 bedrooms, 2.5 baths

Inspector: Jane Doe, License #12345.
Company: Acme Home Inspections.
Phone: (555) 123-4567.
Inspection Date: 2024-03-15

The roof has missing shingles near the north gutter and should be repaired soon.
Moderate concern: the water heater shows signs of corrosion and a slow leak.
Immediate hazard: exposed wiring found near the electrical panel, estimated cost $350.
Cosmetic crack noted in the living room ceiling, a minor cosmetic touch-up.
The home sits on a quiet cul-de-sac with mature landscaping.
`

func TestExtractProperty(t *testing.T) {
	p := ExtractProperty(s1SampleReport)

	assert.Equal(t, "123 Main St", p.AddressLine1)
	assert.Equal(t, "Anytown", p.City)
	assert.Equal(t, "CA", p.State)
	assert.Equal(t, "90210", p.Zip)
	assert.Equal(t, "single family", p.Type)
	assert.Equal(t, 2400, p.SizeSqFt)
	assert.Equal(t, 1998, p.YearBuilt)
	assert.Equal(t, 4, p.Beds)
	assert.Equal(t, 2.5, p.Baths)
}

func TestExtractInspector(t *testing.T) {
	insp := ExtractInspector(s1SampleReport)

	assert.Equal(t, "Jane Doe", insp.Name)
	assert.Equal(t, "12345", insp.License)
	assert.Equal(t, "Acme Home Inspections", insp.Company)
	assert.Contains(t, insp.Contact, "555")
	assert.Equal(t, "2024-03-15", insp.Date)
}

func TestExtractFindings(t *testing.T) {
	findings := ExtractFindings(s1SampleReport)

	assert.NotEmpty(t, findings)
	for i, f := range findings {
		assert.NotEmpty(t, f.ID)
		assert.NotEmpty(t, f.Description)
		if i > 0 {
			assert.NotEqual(t, findings[i-1].ID, f.ID)
		}
	}

	var sawCritical, sawMajor, sawMinor bool
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			sawCritical = true
			assert.Equal(t, CategoryElectrical, f.Category)
			assert.Equal(t, float64(350), f.EstimatedCostUS)
		case SeverityMajor:
			sawMajor = true
		case SeverityMinor:
			sawMinor = true
		}
	}
	assert.True(t, sawCritical, "expected a critical finding for the exposed wiring sentence")
	assert.True(t, sawMajor, "expected a major finding for the water heater leak")
	assert.True(t, sawMinor, "expected a minor finding for the cosmetic ceiling crack")
}

func TestExtractFindings_NoObservationsYieldsEmpty(t *testing.T) {
	findings := ExtractFindings("This document contains only boilerplate prose with no observations.")
	assert.Empty(t, findings)
}

func TestExtractProperty_NoMatchesYieldsZeroValue(t *testing.T) {
	p := ExtractProperty("Nothing useful in here.")
	assert.Equal(t, Property{}, p)
}
