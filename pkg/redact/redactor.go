package redact

import (
	"context"
	"time"

	"github.com/kumarabd/gokit/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
	"github.com/vulpeslabs/redaction-plane/pkg/detect"
	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// Config contains configuration for the batch redaction engine.
type Config struct {
	// EnabledDetectors limits the detector set; empty enables all.
	EnabledDetectors []string `json:"enabled_detectors" yaml:"enabled_detectors"`
	// MinConfidence, when positive, vetoes applied spans below the floor.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence" default:"0"`
	// CacheTTL bounds the lifetime of cached detector output. Zero
	// disables the cache.
	CacheTTL     time.Duration `json:"cache_ttl" yaml:"cache_ttl" default:"5m"`
	CacheCleanup time.Duration `json:"cache_cleanup" yaml:"cache_cleanup" default:"10m"`
}

// ExecutionReport summarizes one redaction call for observability
// collaborators.
type ExecutionReport struct {
	Detectors     []DetectorReport `json:"detectors"`
	TotalSpans    int              `json:"total_spans"`
	SpansResolved int              `json:"spans_resolved"`
	SpansApplied  int              `json:"spans_applied"`
	Elapsed       time.Duration    `json:"elapsed"`
}

// Result is the outcome of one batch redaction.
type Result struct {
	RedactedText   string          `json:"redacted_text"`
	RedactionCount int             `json:"redaction_count"`
	Spans          []span.Span     `json:"spans"`
	Report         ExecutionReport `json:"report"`
}

// Redactor composes the orchestrator, the conflict resolver, and the
// post-filter veto stage into the batch redaction engine.
type Redactor struct {
	config       *Config
	orchestrator *Orchestrator
	postFilters  []detect.PostFilter
	log          *logger.Handler
	metric       *metrics.Handler
	tracer       trace.Tracer
}

// New creates a batch redactor. postFilters run in order after conflict
// resolution; they are the only stage that vetoes applied spans.
func New(config *Config, registry *detect.Registry, postFilters []detect.PostFilter, log *logger.Handler, metric *metrics.Handler) *Redactor {
	var cache *Cache
	if config.CacheTTL > 0 {
		cache = NewCache(config.CacheTTL, config.CacheCleanup)
	}
	if config.MinConfidence > 0 {
		postFilters = append(postFilters, detect.NewMinConfidencePostFilter(config.MinConfidence))
	}
	return &Redactor{
		config:       config,
		orchestrator: NewOrchestrator(registry, cache, log, metric),
		postFilters:  postFilters,
		log:          log,
		metric:       metric,
		tracer:       otel.Tracer("redaction-plane/redact"),
	}
}

// Redact runs the full batch pipeline over one text. It returns a complete,
// consistent result or an error; it never returns a partially applied
// redaction. Individual detector failures degrade to report entries.
func (r *Redactor) Redact(ctx context.Context, text string) (*Result, error) {
	return r.RedactWithSpans(ctx, text, nil)
}

// RedactWithSpans is Redact with additional pre-computed candidate spans
// folded in before conflict resolution. The streaming fast path uses it to
// attach scanner detections remapped onto a segment.
func (r *Redactor) RedactWithSpans(ctx context.Context, text string, precomputed []span.Span) (*Result, error) {
	ctx, tspan := r.tracer.Start(ctx, "redact.Redact")
	defer tspan.End()

	started := time.Now()

	candidates, reports, err := r.orchestrator.Run(ctx, text, r.config.EnabledDetectors)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, precomputed...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolution := span.Plan(candidates)
	resolved := len(resolution.Applied)

	vetoed := r.applyPostFilters(&resolution, text)
	resolution.Materialize(text)

	elapsed := time.Since(started)
	result := &Result{
		RedactedText:   resolution.RedactedText,
		RedactionCount: resolution.RedactionCount,
		Spans:          resolution.Spans,
		Report: ExecutionReport{
			Detectors:     reports,
			TotalSpans:    len(candidates),
			SpansResolved: resolved,
			SpansApplied:  len(resolution.Applied),
			Elapsed:       elapsed,
		},
	}

	if r.metric != nil {
		r.metric.ObserveRedactionLatency("batch", elapsed)
		for _, idx := range resolution.Applied {
			r.metric.IncSpansApplied(string(resolution.Spans[idx].FilterType))
		}
		for i := 0; i < vetoed; i++ {
			r.metric.IncSpansIgnored("postfilter")
		}
		for i := 0; i < len(candidates)-resolved; i++ {
			r.metric.IncSpansIgnored("overlap")
		}
	}

	tspan.SetAttributes(
		attribute.Int("spans.detected", len(candidates)),
		attribute.Int("spans.applied", len(resolution.Applied)),
		attribute.Int64("elapsed_us", elapsed.Microseconds()),
	)

	return result, nil
}

// applyPostFilters runs the veto stage over the applied set and returns the
// number of vetoed spans.
func (r *Redactor) applyPostFilters(res *span.Resolution, text string) int {
	if len(r.postFilters) == 0 {
		return 0
	}
	vetoed := 0
	// Collect first: Veto mutates the applied list.
	var drop []int
	for _, idx := range res.Applied {
		for _, pf := range r.postFilters {
			if !pf.ShouldKeep(&res.Spans[idx], text) {
				drop = append(drop, idx)
				break
			}
		}
	}
	for _, idx := range drop {
		res.Veto(idx)
		vetoed++
	}
	return vetoed
}
