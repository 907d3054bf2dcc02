package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveAction(t *testing.T) {
	tests := []struct {
		name             string
		method, path     string
		wantAction       string
		wantResourceType string
	}{
		{"translate", "POST", "/mapping", "TRANSLATE", "ConceptMap"},
		{"batch translate", "POST", "/mapping/batch", "BATCH_TRANSLATE", "ConceptMap"},
		{"list mappings", "GET", "/mapping", "LIST", "Mapping"},
		{"autocomplete", "GET", "/autocomplete/source", "AUTOCOMPLETE", "SourceCode"},
		{"fhir translate", "POST", "/fhir/ConceptMap/$translate", "TRANSLATE", "ConceptMap"},
		{"fhir lookup", "GET", "/fhir/CodeSystem/$lookup", "LOOKUP", "CodeSystem"},
		{"fhir expand", "GET", "/fhir/ValueSet/$expand", "EXPAND", "ValueSet"},
		{"admin", "POST", "/admin/cache/clear", "ADMIN", "System"},
		{"unknown", "GET", "/something-else", "REQUEST", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, resourceType := DeriveAction(tt.method, tt.path)
			assert.Equal(t, tt.wantAction, action)
			assert.Equal(t, tt.wantResourceType, resourceType)
		})
	}
}
