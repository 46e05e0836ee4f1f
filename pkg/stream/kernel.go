// Package stream implements the streaming redaction engine: buffering-policy
// segmentation of unbounded chunk sequences, a stateful fast-path identifier
// scanner, and the streaming redactor that feeds segments to the batch
// engine while preserving position accounting.
package stream

import (
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// Buffering modes.
const (
	ModeImmediate = "immediate"
	ModeSentence  = "sentence"
	ModeSize      = "size"
)

// segmentKernel is the buffering strategy behind the segmenter. Two
// implementations exist: the reference kernel and the accelerated kernel.
// The choice is made once at construction, not re-checked per call.
type segmentKernel interface {
	// Push appends a chunk to the buffer.
	Push(chunk string)
	// Pop returns the next flush-ready prefix, if any. force bypasses all
	// thresholds and returns the entire remaining buffer. Callers loop
	// until ok is false; a kernel may hold several ready segments.
	Pop(force bool) (segment string, ok bool)
	// Reset discards all buffered state.
	Reset()
	// Len returns the buffered length in UTF-16 code units.
	Len() int
}

func newKernel(mode string, bufferSize, overlap int, accelerated bool) segmentKernel {
	if accelerated {
		return newAcceleratedKernel(mode, bufferSize, overlap)
	}
	return &referenceKernel{mode: mode, bufferSize: max(1, bufferSize)}
}

func isSentenceTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// referenceKernel is the plain buffering policy: no overlap retention, the
// buffer is rescanned on each Pop. Correct with the accelerated module
// absent.
type referenceKernel struct {
	mode       string
	bufferSize int
	buf        strings.Builder
	lenU16     int
}

func (k *referenceKernel) Push(chunk string) {
	k.buf.WriteString(chunk)
	k.lenU16 += span.UTF16Len(chunk)
}

func (k *referenceKernel) Pop(force bool) (string, bool) {
	if k.lenU16 == 0 {
		return "", false
	}
	text := k.buf.String()

	if force {
		k.Reset()
		return text, true
	}

	switch k.mode {
	case ModeImmediate:
		// Lowest latency: flush whatever is buffered on every push.
		k.Reset()
		return text, true
	case ModeSentence:
		cut := lastSentenceEnd(text)
		// A terminator at the very end of the buffer closes the sentence
		// even before trailing whitespace arrives.
		if r, ok := lastRune(text); ok && isSentenceTerminator(r) {
			cut = k.lenU16
		}
		if cut > 0 {
			return k.cut(text, cut), true
		}
		// Safety valve: pathological input without terminators still
		// flushes once the buffer doubles the configured size.
		if k.lenU16 >= k.bufferSize*2 {
			return k.cut(text, k.bufferSize), true
		}
		return "", false
	default: // ModeSize
		if k.lenU16 >= k.bufferSize {
			k.Reset()
			return text, true
		}
		return "", false
	}
}

// cut removes and returns the first lenU16 code units of text.
func (k *referenceKernel) cut(text string, lenU16 int) string {
	b := span.ByteOffset(text, lenU16)
	k.buf.Reset()
	k.buf.WriteString(text[b:])
	k.lenU16 -= lenU16
	return text[:b]
}

func (k *referenceKernel) Reset() {
	k.buf.Reset()
	k.lenU16 = 0
}

func (k *referenceKernel) Len() int { return k.lenU16 }

func lastRune(s string) (rune, bool) {
	if s == "" {
		return 0, false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return r, true
}

// lastSentenceEnd returns the UTF-16 position just after the last sentence
// terminator that is followed by whitespace, or 0 if none.
func lastSentenceEnd(text string) int {
	pos := 0
	cut := 0
	var prev rune
	first := true
	for _, r := range text {
		if !first && isSentenceTerminator(prev) && unicode.IsSpace(r) {
			cut = pos
		}
		prev = r
		first = false
		pos += utf16.RuneLen(r)
	}
	return cut
}

// acceleratedKernel tracks flush points incrementally as chunks arrive and
// retains a trailing overlap window between flushes so an identifier
// spanning a chunk boundary stays whole in the buffer for the next flush.
type acceleratedKernel struct {
	mode       string
	bufferSize int
	overlap    int

	buf             strings.Builder
	lenU16          int
	lastSentenceEnd int
	lastWhitespace  int
	prev            rune
	hasPrev         bool
}

func newAcceleratedKernel(mode string, bufferSize, overlap int) *acceleratedKernel {
	return &acceleratedKernel{
		mode:       mode,
		bufferSize: max(1, bufferSize),
		overlap:    overlap,
	}
}

func (k *acceleratedKernel) Push(chunk string) {
	for _, r := range chunk {
		next := k.lenU16 + utf16.RuneLen(r)
		if unicode.IsSpace(r) {
			k.lastWhitespace = next
		}
		if k.hasPrev && isSentenceTerminator(k.prev) && unicode.IsSpace(r) {
			k.lastSentenceEnd = k.lenU16
		}
		k.prev = r
		k.hasPrev = true
		k.lenU16 = next
	}
	k.buf.WriteString(chunk)
}

func (k *acceleratedKernel) Pop(force bool) (string, bool) {
	if k.lenU16 == 0 {
		return "", false
	}

	flushPoint := 0
	switch {
	case force:
		flushPoint = k.lenU16
	case k.mode == ModeSentence:
		flushPoint = k.lastSentenceEnd
		if k.hasPrev && isSentenceTerminator(k.prev) {
			flushPoint = k.lenU16
		}
	default:
		// Immediate and size modes flush at the size threshold, splitting
		// at the last whitespace before it when one exists.
		if k.lenU16 >= k.bufferSize {
			if k.lastWhitespace > 0 && k.lastWhitespace <= k.bufferSize {
				flushPoint = k.lastWhitespace
			} else {
				flushPoint = k.bufferSize
			}
		}
	}

	// Safety valve against unbounded buffering.
	if !force && flushPoint == 0 && k.lenU16 >= k.bufferSize*2 {
		flushPoint = k.bufferSize
	}
	if flushPoint == 0 {
		return "", false
	}

	stableEnd := flushPoint
	if !force {
		stableEnd = max(0, flushPoint-k.overlap)
	}
	if stableEnd == 0 {
		return "", false
	}

	text := k.buf.String()
	cutB := span.ByteOffset(text, stableEnd)
	segment := text[:cutB]
	remaining := text[cutB:]

	k.buf.Reset()
	k.buf.WriteString(remaining)
	k.lenU16 = span.UTF16Len(remaining)

	if force {
		k.lastSentenceEnd = 0
		k.lastWhitespace = 0
	} else {
		k.lastSentenceEnd = max(0, k.lastSentenceEnd-stableEnd)
		k.lastWhitespace = max(0, k.lastWhitespace-stableEnd)
	}
	k.prev, k.hasPrev = lastRune(remaining)

	return segment, true
}

func (k *acceleratedKernel) Reset() {
	k.buf.Reset()
	k.lenU16 = 0
	k.lastSentenceEnd = 0
	k.lastWhitespace = 0
	k.hasPrev = false
}

func (k *acceleratedKernel) Len() int { return k.lenU16 }
