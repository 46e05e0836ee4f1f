package detect

import (
	"context"
	"regexp"
	"strings"

	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// RegexDetector matches a set of compiled patterns for one filter type.
// A validate hook can reject structurally valid but semantically bogus
// matches (checksum failures, reserved ranges).
type RegexDetector struct {
	name       string
	filterType span.FilterType
	confidence float64
	patterns   []*regexp.Regexp
	// group selects a capture group as the span; 0 uses the whole match.
	group    int
	validate func(match string) bool
}

// Name implements Detector.
func (d *RegexDetector) Name() string { return d.name }

// Detect implements Detector.
func (d *RegexDetector) Detect(ctx context.Context, text string) ([]span.Span, error) {
	var spans []span.Span
	for _, re := range d.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			g := d.group * 2
			if g >= len(loc) || loc[g] < 0 {
				g = 0
			}
			start, end := loc[g], loc[g+1]
			match := text[start:end]
			if d.validate != nil && !d.validate(match) {
				continue
			}
			spans = append(spans, span.Span{
				Text:           match,
				CharacterStart: span.UTF16Offset(text, start),
				CharacterEnd:   span.UTF16Offset(text, end),
				FilterType:     d.filterType,
				Confidence:     d.confidence,
				Priority:       span.DefaultPriority(d.filterType),
				Pattern:        re.String(),
			})
		}
	}
	return spans, nil
}

// validSSN rejects SSNs with reserved area, group, or serial fields.
func validSSN(match string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, match)
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// NewSSNDetector matches social security numbers in dashed, spaced, and
// dotted forms.
func NewSSNDetector() Detector {
	return &RegexDetector{
		name:       "ssn",
		filterType: span.FilterSSN,
		confidence: 0.99,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			regexp.MustCompile(`\b\d{3} \d{2} \d{4}\b`),
			regexp.MustCompile(`\b\d{3}\.\d{2}\.\d{4}\b`),
		},
		validate: validSSN,
	}
}

// NewMRNDetector matches labeled medical record numbers.
func NewMRNDetector() Detector {
	return &RegexDetector{
		name:       "mrn",
		filterType: span.FilterMRN,
		confidence: 0.95,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bMRN[:#\s]*(\d{5,10})\b`),
			regexp.MustCompile(`(?i)\bmedical record (?:number|no\.?)[:#\s]*(\d{5,10})\b`),
		},
		group: 1,
	}
}

// NewEmailDetector matches email addresses.
func NewEmailDetector() Detector {
	return &RegexDetector{
		name:       "email",
		filterType: span.FilterEmail,
		confidence: 0.99,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		},
	}
}

// NewPhoneDetector matches North American phone numbers with optional
// country code and extension.
func NewPhoneDetector() Detector {
	return &RegexDetector{
		name:       "phone",
		filterType: span.FilterPhone,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?:\+?1[-. ]?)?\(\d{3}\)[-. ]?\d{3}[-. ]?\d{4}\b`),
			regexp.MustCompile(`\b(?:\+?1[-. ])?\d{3}[-.]\d{3}[-.]\d{4}(?:\s*(?:ext\.?|x)\s*\d{1,6})?\b`),
		},
	}
}

// NewIPDetector matches IPv4 and full-form IPv6 addresses.
func NewIPDetector() Detector {
	return &RegexDetector{
		name:       "ip",
		filterType: span.FilterIP,
		confidence: 0.95,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
		},
	}
}

// NewURLDetector matches http, https, and www URLs.
func NewURLDetector() Detector {
	return &RegexDetector{
		name:       "url",
		filterType: span.FilterURL,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"]+`),
		},
	}
}

// NewDateDetector matches numeric and written dates.
func NewDateDetector() Detector {
	return &RegexDetector{
		name:       "date",
		filterType: span.FilterDate,
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
			regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
			regexp.MustCompile(`(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`),
		},
	}
}

// NewAgeDetector matches ages written as "N years old", "aged N", and
// similar clinical phrasings.
func NewAgeDetector() Detector {
	return &RegexDetector{
		name:       "age",
		filterType: span.FilterAge,
		confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b\d{1,3}\s*(?:years?|yrs?)[-\s]*(?:old|of age)\b`),
			regexp.MustCompile(`(?i)\baged?\s+\d{1,3}\b`),
			regexp.MustCompile(`(?i)\b\d{1,3}\s*(?:y/?o|yo)\b`),
		},
	}
}

// NewZipcodeDetector matches five and nine digit US postal codes. Low
// confidence: five bare digits collide with many other identifiers, so the
// resolver usually prefers the competing span.
func NewZipcodeDetector() Detector {
	return &RegexDetector{
		name:       "zipcode",
		filterType: span.FilterZipcode,
		confidence: 0.6,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{5}-\d{4}\b`),
			regexp.MustCompile(`\b\d{5}\b`),
		},
	}
}

// NewNameDetector matches person names anchored by titles and clinical
// role words. This is a reference heuristic, not an NER model; ML-backed
// detectors plug in through the same Detector contract.
func NewNameDetector() Detector {
	return &RegexDetector{
		name:       "name",
		filterType: span.FilterName,
		confidence: 0.75,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?:Mr\.|Mrs\.|Ms\.|Dr\.|Patient|patient)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`),
			regexp.MustCompile(`\b([A-Z][a-z]+,\s+[A-Z][a-z]+)\b`),
		},
		group: 1,
	}
}

// DefaultRegistry returns a registry populated with every reference
// detector.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range []Detector{
		NewSSNDetector(),
		NewMRNDetector(),
		NewEmailDetector(),
		NewPhoneDetector(),
		NewIPDetector(),
		NewURLDetector(),
		NewDateDetector(),
		NewAgeDetector(),
		NewZipcodeDetector(),
		NewNameDetector(),
	} {
		// Names are unique by construction.
		_ = r.Register(d)
	}
	return r
}
