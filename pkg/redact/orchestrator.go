// Package redact implements the batch redaction engine: a detector
// orchestrator feeding the span conflict resolver, with post-filter veto
// and an execution report for observability collaborators.
package redact

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
	"github.com/vulpeslabs/redaction-plane/pkg/detect"
	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// DetectorReport is the per-detector outcome of one orchestrator run.
type DetectorReport struct {
	Detector  string        `json:"detector"`
	SpanCount int           `json:"span_count"`
	Elapsed   time.Duration `json:"elapsed"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Orchestrator fans one text out to every enabled detector. Detector
// invocations run concurrently and are mutually isolated: a detector that
// fails or panics is recorded in its report and excluded from the
// aggregate, never aborting the run.
type Orchestrator struct {
	registry *detect.Registry
	cache    *Cache
	log      *logger.Handler
	metric   *metrics.Handler
}

// NewOrchestrator creates an orchestrator over a detector registry. The
// cache is optional.
func NewOrchestrator(registry *detect.Registry, cache *Cache, log *logger.Handler, metric *metrics.Handler) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		cache:    cache,
		log:      log,
		metric:   metric,
	}
}

// Run invokes the named detectors over text and aggregates their spans.
// An empty name list runs every registered detector. The aggregate
// excludes output from failed detectors; their reports carry Success=false.
func (o *Orchestrator) Run(ctx context.Context, text string, enabled []string) ([]span.Span, []DetectorReport, error) {
	detectors, err := o.registry.Select(enabled)
	if err != nil {
		return nil, nil, fmt.Errorf("selecting detectors: %w", err)
	}

	type outcome struct {
		spans []span.Span
		err   error
	}
	outcomes := make([]outcome, len(detectors))
	reports := make([]DetectorReport, len(detectors))

	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func(i int, d detect.Detector) {
			defer wg.Done()
			started := time.Now()
			// Timing lives in the defer so panicking invocations are timed
			// like failing ones.
			defer func() {
				reports[i].Elapsed = time.Since(started)
				if r := recover(); r != nil {
					outcomes[i] = outcome{err: fmt.Errorf("detector %s panicked: %v", d.Name(), r)}
				}
			}()

			spans, derr := o.invoke(ctx, d, text)
			outcomes[i] = outcome{spans: spans, err: derr}
		}(i, d)
	}
	wg.Wait()

	// Join results synchronously so the resolver never sees a partial set.
	var all []span.Span
	for i, d := range detectors {
		reports[i].Detector = d.Name()
		if outcomes[i].err != nil {
			reports[i].Success = false
			reports[i].Error = outcomes[i].err.Error()
			if o.metric != nil {
				o.metric.IncDetectorFailures(d.Name())
				o.metric.ObserveDetectorLatency(d.Name(), reports[i].Elapsed, false)
			}
			if o.log != nil {
				o.log.Warn().Err(outcomes[i].err).Msgf("detector %s failed", d.Name())
			}
			continue
		}
		reports[i].Success = true
		reports[i].SpanCount = len(outcomes[i].spans)
		if o.metric != nil {
			o.metric.ObserveDetectorLatency(d.Name(), reports[i].Elapsed, true)
			for _, s := range outcomes[i].spans {
				o.metric.IncSpansDetected(string(s.FilterType))
			}
		}
		all = append(all, outcomes[i].spans...)
	}

	return all, reports, nil
}

// invoke runs one detector, consulting the cache first.
func (o *Orchestrator) invoke(ctx context.Context, d detect.Detector, text string) ([]span.Span, error) {
	if o.cache != nil {
		if spans, ok := o.cache.Get(d.Name(), text); ok {
			return spans, nil
		}
	}
	spans, err := d.Detect(ctx, text)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		o.cache.Put(d.Name(), text, spans)
	}
	return spans, nil
}
