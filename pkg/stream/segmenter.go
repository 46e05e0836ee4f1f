package stream

import (
	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// Segment is a bounded, flush-ready unit of buffered stream text handed to
// the batch engine. Start and End are cumulative UTF-16 code-unit positions
// of the segment within the whole stream.
type Segment struct {
	Text  string
	Start int
	End   int
	// Detections are pre-computed fast-path spans fully covered by this
	// segment, remapped to segment-relative offsets.
	Detections []span.Span
}

// Segmenter turns incrementally arriving text into bounded segments per the
// configured buffering policy, maintaining the pending-segment FIFO and
// remapping pre-computed detections onto finalized segment positions.
// Segmenter is not safe for concurrent use; each stream owns one.
type Segmenter struct {
	kernel  segmentKernel
	mode    string
	emitted int // cumulative code units flushed so far

	// pendingDetections hold fast-path spans at stream offsets, awaiting a
	// covering segment.
	pendingDetections []span.Span
	// carry is text clamped off a previous segment because a pending
	// detection straddled its end; it is prepended to the next segment.
	carry   string
	dropped int
}

// NewSegmenter creates a segmenter. accelerated selects the kernel strategy
// once; the segmenter behaves identically toward callers either way.
func NewSegmenter(mode string, bufferSize, overlap int, accelerated bool) *Segmenter {
	return &Segmenter{
		kernel: newKernel(mode, bufferSize, overlap, accelerated),
		mode:   mode,
	}
}

// Mode returns the configured buffering mode.
func (s *Segmenter) Mode() string { return s.mode }

// BufferedLen returns the currently buffered length in UTF-16 code units,
// including text held back to keep a pending detection whole.
func (s *Segmenter) BufferedLen() int { return span.UTF16Len(s.carry) + s.kernel.Len() }

// DroppedDetections returns how many pre-computed detections were discarded
// because their positions had already flushed. With end clamping in place
// this stays zero unless detections arrive for text pushed before them.
func (s *Segmenter) DroppedDetections() int { return s.dropped }

// AddDetections registers pre-computed fast-path detections at cumulative
// stream offsets. They attach to the segment that fully covers them.
func (s *Segmenter) AddDetections(dets ...span.Span) {
	s.pendingDetections = append(s.pendingDetections, dets...)
}

// Push buffers a chunk and returns all segments that became ready, in
// order. The accelerated kernel may hold back or release several segments
// per push; callers must consume every returned segment before pushing
// more input to preserve output ordering.
func (s *Segmenter) Push(chunk string) []Segment {
	s.kernel.Push(chunk)
	var ready []Segment
	for {
		text, ok := s.kernel.Pop(false)
		if !ok {
			break
		}
		// End clamping can defer the whole pop to the next segment.
		if seg := s.finalize(text, false); seg.Text != "" {
			ready = append(ready, seg)
		}
	}
	return ready
}

// Flush force-emits whatever remains buffered, bypassing all thresholds.
// An empty buffer yields no segment.
func (s *Segmenter) Flush() (Segment, bool) {
	text, ok := s.kernel.Pop(true)
	if !ok && s.carry == "" {
		return Segment{}, false
	}
	return s.finalize(text, true), true
}

// Reset discards buffered text, pending detections, and position state.
func (s *Segmenter) Reset() {
	s.kernel.Reset()
	s.pendingDetections = nil
	s.carry = ""
	s.dropped = 0
	s.emitted = 0
}

// finalize stamps stream positions onto a flushed segment and partitions
// pending detections: fully covered ones are remapped to segment-relative
// offsets and attached, not-yet-covered ones are retained. A detection
// straddling the segment end must not be split, since neither half would
// match on its own and the identifier would pass through unredacted; the
// end is clamped back to the detection start and the remainder deferred to
// the next segment. The terminal flush covers every pending detection, so
// it never clamps.
func (s *Segmenter) finalize(text string, terminal bool) Segment {
	full := s.carry + text
	s.carry = ""

	fullEnd := s.emitted + span.UTF16Len(full)
	seg := Segment{
		Text:  full,
		Start: s.emitted,
		End:   fullEnd,
	}

	if !terminal {
		// Moving the end back can expose new straddlers, so iterate to a
		// fixpoint. The floor at seg.Start guarantees termination.
		for changed := true; changed; {
			changed = false
			for _, det := range s.pendingDetections {
				if det.CharacterStart < seg.End && det.CharacterEnd > seg.End {
					if next := max(seg.Start, det.CharacterStart); next < seg.End {
						seg.End = next
						changed = true
					}
				}
			}
		}
		if seg.End < fullEnd {
			cut := span.ByteOffset(full, seg.End-seg.Start)
			s.carry = full[cut:]
			seg.Text = full[:cut]
		}
	}
	s.emitted = seg.End

	if len(s.pendingDetections) == 0 {
		return seg
	}
	retained := s.pendingDetections[:0]
	for _, det := range s.pendingDetections {
		switch {
		case det.CharacterStart >= seg.Start && det.CharacterEnd <= seg.End:
			det.CharacterStart -= seg.Start
			det.CharacterEnd -= seg.Start
			seg.Detections = append(seg.Detections, det)
		case det.CharacterStart >= seg.End:
			retained = append(retained, det)
		default:
			// The detection points at positions that already flushed. With
			// clamping this needs a detection emitted after its own text
			// left the buffer; count it so the loss is observable.
			s.dropped++
		}
	}
	s.pendingDetections = retained
	return seg
}
