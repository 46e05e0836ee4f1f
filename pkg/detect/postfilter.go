package detect

import (
	"regexp"

	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// FuncPostFilter adapts a plain function to the PostFilter contract.
type FuncPostFilter struct {
	FilterName string
	Keep       func(s *span.Span, text string) bool
}

func (f *FuncPostFilter) Name() string { return f.FilterName }

func (f *FuncPostFilter) ShouldKeep(s *span.Span, text string) bool {
	return f.Keep(s, text)
}

var versionContext = regexp.MustCompile(`(?i)\b(?:version|v\.?|build|release)\s*$`)

// NewVersionNumberPostFilter vetoes DATE spans that sit in a software
// version context ("version 1.2.2024" is not a date of birth).
func NewVersionNumberPostFilter() PostFilter {
	return &FuncPostFilter{
		FilterName: "version_number",
		Keep: func(s *span.Span, text string) bool {
			if s.FilterType != span.FilterDate {
				return true
			}
			prefix := span.Slice(text, max(0, s.CharacterStart-12), s.CharacterStart)
			return !versionContext.MatchString(prefix)
		},
	}
}

// NewMinConfidencePostFilter vetoes applied spans below a confidence floor.
// Used to suppress low-certainty heuristic matches in strict deployments.
func NewMinConfidencePostFilter(floor float64) PostFilter {
	return &FuncPostFilter{
		FilterName: "min_confidence",
		Keep: func(s *span.Span, _ string) bool {
			return s.Confidence >= floor
		},
	}
}
