// Package span defines the detection span data model and the conflict
// resolution algorithm that merges overlapping candidate spans into a single
// non-overlapping redaction plan.
package span

import (
	"strings"
	"unicode/utf16"
)

// FilterType identifies the category of identifier a span covers.
type FilterType string

// Known identifier categories.
const (
	FilterSSN     FilterType = "SSN"
	FilterMRN     FilterType = "MRN"
	FilterEmail   FilterType = "EMAIL"
	FilterPhone   FilterType = "PHONE"
	FilterIP      FilterType = "IP"
	FilterURL     FilterType = "URL"
	FilterDate    FilterType = "DATE"
	FilterZipcode FilterType = "ZIPCODE"
	FilterAddress FilterType = "ADDRESS"
	FilterAge     FilterType = "AGE"
	FilterName    FilterType = "NAME"
	FilterCustom  FilterType = "CUSTOM"
)

// DefaultPriority returns the default conflict-resolution priority for a
// filter type. Higher values win ties. Detectors may override per span.
func DefaultPriority(ft FilterType) int {
	switch ft {
	case FilterSSN:
		return 100
	case FilterMRN:
		return 95
	case FilterEmail:
		return 80
	case FilterPhone, FilterIP, FilterURL:
		return 75
	case FilterDate:
		return 60
	case FilterZipcode:
		return 55
	case FilterAddress:
		return 50
	case FilterAge:
		return 40
	case FilterName:
		return 35
	case FilterCustom:
		return 20
	default:
		return 25
	}
}

// Span is a candidate or finalized detection over a text buffer. Offsets are
// UTF-16 code-unit positions, half-open: 0 <= CharacterStart < CharacterEnd.
// Spans live only for the duration of one resolution pass; AmbiguousWith
// holds indices into that pass's candidate slice, not owning references.
type Span struct {
	Text           string     `json:"text"`
	CharacterStart int        `json:"character_start"`
	CharacterEnd   int        `json:"character_end"`
	FilterType     FilterType `json:"filter_type"`
	Confidence     float64    `json:"confidence"`
	// Priority ranks overlapping spans during conflict resolution. HIGHER
	// values win; DefaultPriority and the resolver tie-break both assume
	// that orientation, so do not invert the table to a lower-wins scale.
	Priority int `json:"priority"`
	Pattern        string     `json:"pattern,omitempty"`
	Replacement    *string    `json:"replacement,omitempty"`

	// Set by the resolver.
	Applied             bool    `json:"applied"`
	Ignored             bool    `json:"ignored"`
	AmbiguousWith       []int   `json:"ambiguous_with,omitempty"`
	DisambiguationScore float64 `json:"disambiguation_score,omitempty"`
}

// Length returns the span width in UTF-16 code units.
func (s *Span) Length() int {
	return s.CharacterEnd - s.CharacterStart
}

// Overlaps reports whether the two half-open ranges intersect. Adjacent
// ranges do not overlap.
func (s *Span) Overlaps(o *Span) bool {
	return s.CharacterStart < o.CharacterEnd && o.CharacterStart < s.CharacterEnd
}

// structureWords are field labels that indicate a NAME span over-extended
// into adjacent record structure ("Date of Birth", "SSN:", ...). Such spans
// lose length preference during tie-breaks.
var structureWords = map[string]struct{}{
	"DATE": {}, "BIRTH": {}, "RECORD": {}, "NUMBER": {}, "PHONE": {},
	"ADDRESS": {}, "EMAIL": {}, "MEMBER": {}, "ACCOUNT": {}, "STATUS": {},
	"DOB": {}, "MRN": {}, "SSN": {}, "ID": {},
}

func containsStructureWord(text string) bool {
	for _, w := range strings.Fields(strings.ToUpper(text)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9')
		})
		if _, ok := structureWords[w]; ok {
			return true
		}
	}
	return false
}

// effectiveLength is the length used for tie-breaking. A NAME span that
// swallowed structure words compares as zero-length so a shorter, correct
// span beats it.
func (s *Span) effectiveLength() int {
	if s.FilterType == FilterName && containsStructureWord(s.Text) {
		return 0
	}
	return s.Length()
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// ByteOffset maps a UTF-16 code-unit position to a byte offset in s.
// Positions past the end of s map to len(s); positions inside a surrogate
// pair map to the start of the rune.
func ByteOffset(s string, pos int) int {
	if pos <= 0 {
		return 0
	}
	u16 := 0
	for b, r := range s {
		next := u16 + utf16.RuneLen(r)
		if next > pos {
			return b
		}
		u16 = next
		if u16 == pos {
			return b + len(string(r))
		}
	}
	return len(s)
}

// Slice returns the substring of s covered by the UTF-16 code-unit range
// [start, end).
func Slice(s string, start, end int) string {
	return s[ByteOffset(s, start):ByteOffset(s, end)]
}

// UTF16Offset maps a byte offset in s to a UTF-16 code-unit position.
// Detectors use this to convert regexp match indices into span offsets.
func UTF16Offset(s string, byteOff int) int {
	if byteOff <= 0 {
		return 0
	}
	if byteOff > len(s) {
		byteOff = len(s)
	}
	return UTF16Len(s[:byteOff])
}
