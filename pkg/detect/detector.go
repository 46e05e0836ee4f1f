// Package detect defines the detector and post-filter contracts consumed by
// the redaction engine, plus the reference regex detectors.
package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vulpeslabs/redaction-plane/pkg/span"
)

// Detector proposes candidate spans over a text. Implementations must be
// pure with respect to their input and safe for concurrent invocation
// alongside other detectors.
type Detector interface {
	// Name identifies the detector in reports and metrics.
	Name() string
	// Detect scans text and returns candidate spans. Offsets are UTF-16
	// code units into text.
	Detect(ctx context.Context, text string) ([]span.Span, error)
}

// PostFilter vetoes applied spans after conflict resolution. This is the
// only stage permitted to flip an applied span to ignored.
type PostFilter interface {
	Name() string
	// ShouldKeep reports whether the applied span survives. The full source
	// text is provided for context checks.
	ShouldKeep(s *span.Span, text string) bool
}

// Registry holds the set of available detectors keyed by name.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]Detector
}

// NewRegistry creates an empty detector registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]Detector)}
}

// Register adds a detector. Registering a duplicate name is an error.
func (r *Registry) Register(d Detector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.detectors[d.Name()]; ok {
		return fmt.Errorf("detector %q already registered", d.Name())
	}
	r.detectors[d.Name()] = d
	return nil
}

// Get returns the named detector, or nil if absent.
func (r *Registry) Get(name string) Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.detectors[name]
}

// Names returns the registered detector names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.detectors))
	for name := range r.detectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves a list of detector names to detectors. An empty list
// selects every registered detector. Unknown names are an error.
func (r *Registry) Select(names []string) ([]Detector, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make([]Detector, 0, len(names))
	for _, name := range names {
		d := r.Get(name)
		if d == nil {
			return nil, fmt.Errorf("unknown detector %q", name)
		}
		out = append(out, d)
	}
	return out, nil
}
