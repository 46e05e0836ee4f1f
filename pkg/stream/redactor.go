package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
	"github.com/vulpeslabs/redaction-plane/pkg/detect"
	"github.com/vulpeslabs/redaction-plane/pkg/redact"
)

// ErrStreamClosed is returned for pushes after Close.
var ErrStreamClosed = errors.New("stream is closed")

// Config contains configuration for one redaction stream.
type Config struct {
	// Mode selects the buffering policy: immediate, sentence, or size.
	Mode string `json:"mode" yaml:"mode" default:"sentence"`
	// BufferSize is the flush threshold in UTF-16 code units.
	BufferSize int `json:"buffer_size" yaml:"buffer_size" default:"1024"`
	// Overlap is the trailing window retained across flushes by the
	// accelerated kernel, in UTF-16 code units. Must be smaller than
	// BufferSize.
	Overlap int `json:"overlap" yaml:"overlap" default:"32"`
	// IdleFlushTimeout force-flushes the buffer when no chunk arrives in
	// time. Zero disables the timer.
	IdleFlushTimeout time.Duration `json:"idle_flush_timeout" yaml:"idle_flush_timeout" default:"500ms"`
	// Accelerated enables the accelerated segmentation kernel and the
	// fast-path identifier scanner.
	Accelerated bool `json:"accelerated" yaml:"accelerated" default:"false"`
}

// Chunk is one unit of redacted stream output. Position is the cumulative
// UTF-16 code-unit offset of this chunk's source within the whole stream.
type Chunk struct {
	Text               string `json:"text"`
	ContainsRedactions bool   `json:"contains_redactions"`
	RedactionCount     int    `json:"redaction_count"`
	Position           int    `json:"position"`
}

// Redactor processes one text stream: chunks are buffered per the
// configured policy, flushed segments run through the batch engine, and
// redacted output chunks are emitted in input order.
//
// All methods are safe for concurrent use with the idle-flush timer; a
// single mutex serializes stream state.
type Redactor struct {
	cfg     *Config
	engine  *redact.Redactor
	log     *logger.Handler
	metric  *metrics.Handler
	scanner *Scanner

	// IdleEmit, when set, receives chunks produced by idle-timer flushes.
	// When nil, such chunks are held and returned by the next call.
	IdleEmit func([]Chunk)

	mu          sync.Mutex
	segmenter   *Segmenter
	timer       *time.Timer
	held        []Chunk
	droppedSeen int
	closed      bool
}

// NewRedactor creates a streaming redactor over the batch engine. When the
// accelerated path is enabled, fastDetectors feed the fast-path scanner;
// the engine still rescans every segment in full.
func NewRedactor(cfg *Config, engine *redact.Redactor, fastDetectors []detect.Detector, log *logger.Handler, metric *metrics.Handler) *Redactor {
	r := &Redactor{
		cfg:       cfg,
		engine:    engine,
		log:       log,
		metric:    metric,
		segmenter: NewSegmenter(cfg.Mode, cfg.BufferSize, cfg.Overlap, cfg.Accelerated),
	}
	if cfg.Accelerated && len(fastDetectors) > 0 {
		r.scanner = NewScanner(cfg.Overlap, fastDetectors)
	}
	return r
}

// PushChunk feeds stream text in. It returns every output chunk that became
// ready, in input order, including any held back by an earlier idle flush.
func (r *Redactor) PushChunk(ctx context.Context, text string) ([]Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrStreamClosed
	}

	r.rearmTimer()

	if r.scanner != nil {
		if dets := r.scanner.Push(ctx, text); len(dets) > 0 {
			r.segmenter.AddDetections(dets...)
		}
	}

	out := r.takeHeld()
	for _, seg := range r.segmenter.Push(text) {
		chunk, err := r.process(ctx, seg)
		if err != nil {
			return out, err
		}
		out = append(out, chunk)
	}
	r.reportDropped()
	return out, nil
}

// Flush force-emits whatever is buffered, bypassing all thresholds. An
// empty buffer yields no chunk.
func (r *Redactor) Flush(ctx context.Context) ([]Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrStreamClosed
	}
	return r.flushLocked(ctx)
}

// Close performs the terminal flush, stops the idle timer, and marks the
// stream closed. Buffered output is returned, never silently discarded.
func (r *Redactor) Close(ctx context.Context) ([]Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrStreamClosed
	}
	r.closed = true
	r.stopTimer()
	return r.flushLocked(ctx)
}

// Reset discards all stream state and reopens the stream.
func (r *Redactor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimer()
	r.segmenter.Reset()
	if r.scanner != nil {
		r.scanner.Reset()
	}
	r.held = nil
	r.droppedSeen = 0
	r.closed = false
}

func (r *Redactor) flushLocked(ctx context.Context) ([]Chunk, error) {
	out := r.takeHeld()
	seg, ok := r.segmenter.Flush()
	if !ok {
		return out, nil
	}
	chunk, err := r.process(ctx, seg)
	if err != nil {
		return out, err
	}
	r.reportDropped()
	return append(out, chunk), nil
}

// reportDropped surfaces fast-path detections the segmenter had to discard.
// Caller holds mu.
func (r *Redactor) reportDropped() {
	d := r.segmenter.DroppedDetections()
	if d == r.droppedSeen {
		return
	}
	for ; r.droppedSeen < d; r.droppedSeen++ {
		if r.metric != nil {
			r.metric.IncSpansIgnored("segment_passed")
		}
	}
	if r.log != nil {
		r.log.Warn().Msg("fast-path detection flushed past its segment")
	}
}

// process runs one segment through the batch engine, folding in any
// pre-computed fast-path detections.
func (r *Redactor) process(ctx context.Context, seg Segment) (Chunk, error) {
	result, err := r.engine.RedactWithSpans(ctx, seg.Text, seg.Detections)
	if err != nil {
		return Chunk{}, err
	}
	if r.metric != nil {
		r.metric.IncSegmentsEmitted(r.segmenter.Mode())
	}
	return Chunk{
		Text:               result.RedactedText,
		ContainsRedactions: result.RedactionCount > 0,
		RedactionCount:     result.RedactionCount,
		Position:           seg.Start,
	}, nil
}

func (r *Redactor) takeHeld() []Chunk {
	out := r.held
	r.held = nil
	return out
}

// rearmTimer cancels and restarts the idle-flush timer. Caller holds mu.
func (r *Redactor) rearmTimer() {
	if r.cfg.IdleFlushTimeout <= 0 {
		return
	}
	r.stopTimer()
	r.timer = time.AfterFunc(r.cfg.IdleFlushTimeout, r.idleFlush)
}

func (r *Redactor) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// idleFlush fires when no chunk arrived within the idle timeout. The buffer
// is flushed as-is so a stalled upstream cannot withhold output forever.
func (r *Redactor) idleFlush() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	chunks, err := r.flushLocked(context.Background())
	emit := r.IdleEmit
	if err != nil {
		if r.log != nil {
			r.log.Warn().Err(err).Msg("idle flush failed")
		}
		r.mu.Unlock()
		return
	}
	if emit == nil {
		r.held = append(r.held, chunks...)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	if len(chunks) > 0 {
		emit(chunks)
	}
}
