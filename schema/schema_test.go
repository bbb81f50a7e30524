package schema

import "testing"

func TestSettle(t *testing.T) {
	tests := []struct {
		name   string
		errors int
		items  int
		want   ResultStatus
	}{
		{"no errors", 0, 5, StatusSuccess},
		{"no errors no items", 0, 0, StatusSuccess},
		{"errors with items", 2, 5, StatusPartial},
		{"errors without items", 2, 0, StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ExportResult{ItemCount: tt.items}
			for i := 0; i < tt.errors; i++ {
				r.Errors = append(r.Errors, ExportError{Code: "E"})
			}
			r.Settle()
			if r.Status != tt.want {
				t.Errorf("status = %q, want %q", r.Status, tt.want)
			}
		})
	}
}

func TestSelectionMatches(t *testing.T) {
	zone := &Zone{ID: "z2", Page: 3, ContentType: ContentTable, Confidence: 0.7}

	tests := []struct {
		name string
		sel  *Selection
		want bool
	}{
		{"nil selection", nil, true},
		{"empty selection", &Selection{}, true},
		{"matching id", &Selection{ZoneIDs: []string{"z1", "z2"}}, true},
		{"other id", &Selection{ZoneIDs: []string{"z1"}}, false},
		{"matching type", &Selection{ContentTypes: []ContentType{ContentTable}}, true},
		{"other type", &Selection{ContentTypes: []ContentType{ContentText}}, false},
		{"page in range", &Selection{PageRanges: []PageRange{{First: 1, Last: 3}}}, true},
		{"page out of range", &Selection{PageRanges: []PageRange{{First: 4, Last: 9}}}, false},
		{"confidence above threshold", &Selection{ConfidenceThreshold: 0.5}, true},
		{"confidence below threshold", &Selection{ConfidenceThreshold: 0.8}, false},
		{"anded criteria", &Selection{ZoneIDs: []string{"z2"}, ContentTypes: []ContentType{ContentText}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.Matches(zone); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfidenceDelta(t *testing.T) {
	c := &UserCorrection{Original: OriginalContent{Confidence: 0.6}}
	if got := c.ConfidenceDelta(); got != 0.4 {
		t.Errorf("unset corrected confidence: delta = %v, want 0.4", got)
	}

	low := 0.3
	c.Corrected.Confidence = &low
	if got := c.ConfidenceDelta(); got != 0.3-0.6 {
		t.Errorf("explicit corrected confidence: delta = %v, want -0.3", got)
	}
}

func TestImpactLevel(t *testing.T) {
	if ImpactLow.Rank() >= ImpactMedium.Rank() || ImpactMedium.Rank() >= ImpactHigh.Rank() {
		t.Error("impact levels should rank low < medium < high")
	}
	if got := ImpactLow.Escalate(); got != ImpactMedium {
		t.Errorf("low escalates to %q, want medium", got)
	}
	if got := ImpactHigh.Escalate(); got != ImpactHigh {
		t.Errorf("high escalates to %q, want high (saturating)", got)
	}
}
