package detect

import (
	"context"
	"testing"

	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

func TestRegexDetectors(t *testing.T) {
	tests := []struct {
		name     string
		detector Detector
		input    string
		want     []string // matched texts, in order
	}{
		{
			name:     "dashed ssn",
			detector: NewSSNDetector(),
			input:    "SSN 123-45-6789 on file",
			want:     []string{"123-45-6789"},
		},
		{
			name:     "invalid ssn area rejected",
			detector: NewSSNDetector(),
			input:    "SSN 000-45-6789 and 666-12-3456 and 987-65-4320",
			want:     nil,
		},
		{
			name:     "email",
			detector: NewEmailDetector(),
			input:    "reach me at jane.doe@clinic.example.org today",
			want:     []string{"jane.doe@clinic.example.org"},
		},
		{
			name:     "phone with area code",
			detector: NewPhoneDetector(),
			input:    "call (555) 867-5309 after 5pm",
			want:     []string{"(555) 867-5309"},
		},
		{
			name:     "ipv4",
			detector: NewIPDetector(),
			input:    "connected from 192.168.1.1 over vpn",
			want:     []string{"192.168.1.1"},
		},
		{
			name:     "slash date",
			detector: NewDateDetector(),
			input:    "DOB 01/02/1980.",
			want:     []string{"01/02/1980"},
		},
		{
			name:     "written date",
			detector: NewDateDetector(),
			input:    "admitted January 5, 2024 for observation",
			want:     []string{"January 5, 2024"},
		},
		{
			name:     "age years old",
			detector: NewAgeDetector(),
			input:    "Patient 92 years old, stable",
			want:     []string{"92 years old"},
		},
		{
			name:     "mrn labeled",
			detector: NewMRNDetector(),
			input:    "MRN: 8675309 recorded",
			want:     []string{"8675309"},
		},
		{
			name:     "name after title",
			detector: NewNameDetector(),
			input:    "Dr. Evans reviewed the chart",
			want:     []string{"Evans"},
		},
		{
			name:     "no matches",
			detector: NewSSNDetector(),
			input:    "no identifiers in this sentence",
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans, err := tt.detector.Detect(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Detect failed: %v", err)
			}
			if len(spans) != len(tt.want) {
				t.Fatalf("got %d spans, want %d: %+v", len(spans), len(tt.want), spans)
			}
			for i, s := range spans {
				if s.Text != tt.want[i] {
					t.Errorf("span %d text = %q, want %q", i, s.Text, tt.want[i])
				}
				if got := span.Slice(tt.input, s.CharacterStart, s.CharacterEnd); got != s.Text {
					t.Errorf("span %d offsets [%d,%d) cover %q, want %q", i, s.CharacterStart, s.CharacterEnd, got, s.Text)
				}
			}
		})
	}
}

func TestDetectOffsetsAreUTF16(t *testing.T) {
	// The emoji occupies two UTF-16 code units, shifting everything after it.
	text := "😀 SSN 123-45-6789"
	spans, err := NewSSNDetector().Detect(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].CharacterStart != 7 || spans[0].CharacterEnd != 18 {
		t.Errorf("offsets = [%d,%d), want [7,18)", spans[0].CharacterStart, spans[0].CharacterEnd)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	if r.Get("ssn") == nil {
		t.Fatal("default registry missing ssn detector")
	}

	if err := r.Register(NewSSNDetector()); err == nil {
		t.Error("duplicate registration should fail")
	}

	selected, err := r.Select([]string{"age", "ssn"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("selected %d detectors, want 2", len(selected))
	}

	if _, err := r.Select([]string{"nope"}); err == nil {
		t.Error("selecting an unknown detector should fail")
	}

	all, err := r.Select(nil)
	if err != nil {
		t.Fatalf("Select(nil) failed: %v", err)
	}
	if len(all) != len(r.Names()) {
		t.Errorf("Select(nil) returned %d detectors, want all %d", len(all), len(r.Names()))
	}
}

func TestVersionNumberPostFilter(t *testing.T) {
	pf := NewVersionNumberPostFilter()

	text := "running version 1.2.2024 since 01/02/1980"
	date := &span.Span{Text: "1.2.2024", CharacterStart: 16, CharacterEnd: 24, FilterType: span.FilterDate}
	if pf.ShouldKeep(date, text) {
		t.Error("date in version context should be vetoed")
	}

	dob := &span.Span{Text: "01/02/1980", CharacterStart: 31, CharacterEnd: 41, FilterType: span.FilterDate}
	if !pf.ShouldKeep(dob, text) {
		t.Error("real date should be kept")
	}

	ssn := &span.Span{Text: "1.2.2024", CharacterStart: 16, CharacterEnd: 24, FilterType: span.FilterSSN}
	if !pf.ShouldKeep(ssn, text) {
		t.Error("post filter must only inspect DATE spans")
	}
}

func TestMinConfidencePostFilter(t *testing.T) {
	pf := NewMinConfidencePostFilter(0.8)
	low := &span.Span{Confidence: 0.6}
	high := &span.Span{Confidence: 0.95}
	if pf.ShouldKeep(low, "") {
		t.Error("low-confidence span should be vetoed")
	}
	if !pf.ShouldKeep(high, "") {
		t.Error("high-confidence span should be kept")
	}
}
