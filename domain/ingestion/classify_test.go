package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Severity
	}{
		{"critical keyword", "Immediate hazard: exposed live wiring in the panel.", SeverityCritical},
		{"urgent case-insensitive", "URGENT attention required on the gas line.", SeverityCritical},
		{"major keyword", "Moderate concern with the foundation.", SeverityMajor},
		{"minor keyword", "Cosmetic scuff on the baseboard.", SeverityMinor},
		{"no match falls back to informational", "The home was built in a quiet neighborhood.", SeverityInformational},
		{"first hit wins when multiple present", "Minor cosmetic issue but also a critical hazard present.", SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySeverity(tt.text))
		})
	}
}

func TestClassifyCategory(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Category
	}{
		{"electrical", "Exposed wiring near the outlet.", CategoryElectrical},
		{"plumbing", "Slow leak under the kitchen faucet.", CategoryPlumbing},
		{"structural", "Crack observed in the foundation.", CategoryStructural},
		{"hvac", "Furnace ductwork disconnected.", CategoryHVAC},
		{"roofing", "Missing shingles near the gutter.", CategoryRoofing},
		{"interior", "Water stain on the ceiling.", CategoryInterior},
		{"exterior", "Uneven driveway and loose siding.", CategoryExterior},
		{"safety", "Smoke detector missing from hallway.", CategorySafety},
		{"no match falls back to other", "General notes about the walkthrough.", CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyCategory(tt.text))
		})
	}
}

func TestClassifySeverity_Deterministic(t *testing.T) {
	text := "Moderate concern noted near the panel."
	first := ClassifySeverity(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifySeverity(text))
	}
}
