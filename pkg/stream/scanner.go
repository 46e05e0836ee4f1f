package stream

import (
	"context"
	"sort"

	"github.com/vulpeslabs/redaction-plane/pkg/detect"
	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// Scanner is the stateful fast-path identifier scan over a chunk stream.
// Each push rescans only the trailing overlap window plus the new chunk,
// yet still sees identifiers that cross chunk boundaries. Emitted spans
// carry cumulative stream offsets.
type Scanner struct {
	overlap   int
	detectors []detect.Detector

	tail       string
	tailLenU16 int
	totalU16   int
}

// NewScanner creates a scanner with the given overlap window width in
// UTF-16 code units.
func NewScanner(overlap int, detectors []detect.Detector) *Scanner {
	return &Scanner{overlap: overlap, detectors: detectors}
}

// Reset clears all stream state.
func (s *Scanner) Reset() {
	s.tail = ""
	s.tailLenU16 = 0
	s.totalU16 = 0
}

// Push scans the new chunk in context and returns detections that end in or
// after it, at cumulative stream offsets. Detections wholly inside the
// previous overlap tail were already emitted and are suppressed.
func (s *Scanner) Push(ctx context.Context, chunk string) []span.Span {
	if chunk == "" {
		return nil
	}

	chunkStart := s.totalU16
	combined := s.tail + chunk
	combinedStart := chunkStart - s.tailLenU16

	var detections []span.Span
	for _, d := range s.detectors {
		spans, err := d.Detect(ctx, combined)
		if err != nil {
			// Fast-path detectors degrade silently; the batch engine
			// rescans every segment anyway.
			continue
		}
		detections = append(detections, spans...)
	}

	out := detections[:0]
	for _, det := range detections {
		det.CharacterStart += combinedStart
		det.CharacterEnd += combinedStart
		if det.CharacterEnd > chunkStart {
			out = append(out, det)
		}
	}

	s.totalU16 += span.UTF16Len(chunk)
	s.tail = tailByUTF16(combined, s.overlap)
	s.tailLenU16 = span.UTF16Len(s.tail)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CharacterStart < out[j].CharacterStart
	})
	return out
}

// tailByUTF16 returns the last keep code units of s.
func tailByUTF16(s string, keep int) string {
	if keep <= 0 {
		return ""
	}
	total := span.UTF16Len(s)
	if total <= keep {
		return s
	}
	return s[span.ByteOffset(s, total-keep):]
}
