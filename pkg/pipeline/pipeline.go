// Package pipeline composes the streaming redactor with the supervision
// primitives: chunks pass through backpressure admission, a circuit breaker
// around each processing call, and a supervised worker, with redacted
// output buffered on a watermarked queue.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/kumarabd/gokit/logger"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
	"github.com/vulpeslabs/redaction-plane/pkg/detect"
	"github.com/vulpeslabs/redaction-plane/pkg/guard"
	"github.com/vulpeslabs/redaction-plane/pkg/redact"
	"github.com/vulpeslabs/redaction-plane/pkg/stream"
)

// ErrPipelineClosed is returned for pushes after Close.
var ErrPipelineClosed = errors.New("pipeline is closed")

// Config contains configuration for one supervised pipeline.
type Config struct {
	Stream     stream.Config          `json:"stream" yaml:"stream"`
	Breaker    guard.BreakerConfig    `json:"breaker" yaml:"breaker"`
	Queue      guard.QueueConfig      `json:"queue" yaml:"queue"`
	Supervisor guard.SupervisorConfig `json:"supervisor" yaml:"supervisor"`
}

// Pipeline is the supervised streaming entry point. Each pushed chunk waits
// for backpressure admission, then runs through the breaker-guarded
// streaming redactor on a supervised worker. A circuit-open rejection skips
// the chunk, counted, rather than failing the stream.
type Pipeline struct {
	id     string
	cfg    *Config
	log    *logger.Handler
	metric *metrics.Handler

	stream  *stream.Redactor
	breaker *guard.Breaker
	out     *guard.Queue[stream.Chunk]
	sup     *guard.Supervisor

	in       chan job
	chunksIn *metrics.Counter

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a pipeline over the batch engine. Every pipeline owns its
// breaker, queue, and stream state; nothing is shared across pipelines.
func New(cfg *Config, engine *redact.Redactor, fastDetectors []detect.Detector, log *logger.Handler, metric *metrics.Handler) *Pipeline {
	p := &Pipeline{
		id:      uuid.NewString(),
		cfg:     cfg,
		log:     log,
		metric:  metric,
		stream:  stream.NewRedactor(&cfg.Stream, engine, fastDetectors, log, metric),
		breaker: guard.NewBreaker(&cfg.Breaker, metric),
		out:     guard.NewQueue[stream.Chunk](&cfg.Queue, "pipeline_out", metric),
		sup:     guard.NewSupervisor(&cfg.Supervisor, nil, log, metric),
		in:      make(chan job),
	}
	if metric != nil {
		p.chunksIn = metric.NewCounter("pipeline_chunks_in_total", "Chunks accepted by the pipeline")
	}
	// Idle-flush output goes straight onto the queue so a stalled upstream
	// still sees its buffered tail surface.
	p.stream.IdleEmit = func(chunks []stream.Chunk) { p.enqueue(chunks) }
	return p
}

// ID returns the pipeline's run identifier.
func (p *Pipeline) ID() string { return p.id }

// Start launches the supervised worker.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pipeline already started")
	}
	p.started = true

	if err := p.sup.Add(guard.ChildSpec{Name: "stream-worker", Run: p.work}); err != nil {
		return err
	}
	return p.sup.Start(ctx)
}

// job is one unit of worker input. done, when non-nil, is closed once the
// chunk has been processed or skipped.
type job struct {
	text string
	done chan struct{}
}

// Push submits one input chunk. It blocks while the output queue holds
// producers paused, then hands the chunk to the worker.
func (p *Pipeline) Push(ctx context.Context, text string) error {
	return p.push(ctx, text, false)
}

// PushWait is Push that additionally waits until the worker has finished
// the chunk, so a following Collect observes its output.
func (p *Pipeline) PushWait(ctx context.Context, text string) error {
	return p.push(ctx, text, true)
}

func (p *Pipeline) push(ctx context.Context, text string, wait bool) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPipelineClosed
	}

	if err := p.out.Await(ctx); err != nil {
		return err
	}
	j := job{text: text}
	if wait {
		j.done = make(chan struct{})
	}
	select {
	case p.in <- j:
		if p.chunksIn != nil {
			p.chunksIn.Inc()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	if !wait {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Collect removes and returns every output chunk currently queued, in input
// order.
func (p *Pipeline) Collect() []stream.Chunk {
	var chunks []stream.Chunk
	for {
		c, ok := p.out.Pop()
		if !ok {
			return chunks
		}
		chunks = append(chunks, c)
	}
}

// Dropped returns how many output chunks the queue has dropped.
func (p *Pipeline) Dropped() int { return p.out.Dropped() }

// Paused reports whether the output queue is holding producers back.
func (p *Pipeline) Paused() bool { return p.out.Paused() }

// Events surfaces supervision events for this pipeline's worker.
func (p *Pipeline) Events() <-chan guard.Event { return p.sup.Events() }

// Close stops the worker, performs the terminal stream flush, and returns
// everything still buffered. Accepted chunks are either returned here or
// already counted as dropped.
func (p *Pipeline) Close(ctx context.Context) ([]stream.Chunk, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPipelineClosed
	}
	p.closed = true
	p.mu.Unlock()

	stopErr := p.sup.Stop()

	tail, err := p.stream.Close(ctx)
	if err != nil && !errors.Is(err, stream.ErrStreamClosed) {
		return p.out.Drain(), err
	}
	p.enqueue(tail)
	return p.out.Drain(), stopErr
}

// work is the supervised worker body. A processing failure returns the
// error so the supervisor restarts the worker; the stream itself stays
// live.
func (p *Pipeline) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-p.in:
			err := p.process(ctx, j.text)
			if j.done != nil {
				close(j.done)
			}
			if err != nil {
				return err
			}
		}
	}
}

// process runs one chunk through the breaker-guarded streaming redactor.
// Circuit-open rejections skip the chunk to preserve stream liveness.
func (p *Pipeline) process(ctx context.Context, text string) error {
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		chunks, err := p.stream.PushChunk(ctx, text)
		p.enqueue(chunks)
		return err
	})
	if err == nil {
		return nil
	}

	var open *guard.CircuitOpenError
	if errors.As(err, &open) {
		if p.metric != nil {
			p.metric.IncChunksSkipped("circuit_open")
		}
		if p.log != nil {
			p.log.Debug().Str("pipeline", p.id).Time("retry_at", open.RetryAt).Msg("chunk skipped, circuit open")
		}
		return nil
	}
	if p.metric != nil {
		p.metric.IncChunksSkipped("processing_error")
	}
	return err
}

func (p *Pipeline) enqueue(chunks []stream.Chunk) {
	for _, c := range chunks {
		p.out.Push(c)
	}
}
