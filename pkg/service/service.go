// Package service composes the batch redaction engine and the supervised
// stream sessions behind a single handler consumed by the HTTP server.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kumarabd/gokit/logger"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
	"github.com/vulpeslabs/redaction-plane/pkg/detect"
	"github.com/vulpeslabs/redaction-plane/pkg/pipeline"
	"github.com/vulpeslabs/redaction-plane/pkg/redact"
	"github.com/vulpeslabs/redaction-plane/pkg/stream"
)

// ErrStreamNotFound is returned for operations on unknown stream sessions.
var ErrStreamNotFound = errors.New("stream not found")

// Config contains configuration for the service layer.
type Config struct {
	Engine   *redact.Config   `json:"engine" yaml:"engine"`
	Pipeline *pipeline.Config `json:"pipeline" yaml:"pipeline"`
}

// StreamOptions are per-session overrides of the configured stream
// defaults. Zero values keep the defaults.
type StreamOptions struct {
	Mode        string `json:"mode"`
	BufferSize  int    `json:"buffer_size"`
	Overlap     int    `json:"overlap"`
	Accelerated bool   `json:"accelerated"`
}

// Session is one live stream redaction session.
type Session struct {
	ID        string
	CreatedAt time.Time
	pipe      *pipeline.Pipeline
}

// Handler is the service facade: one shared batch engine plus the stream
// session registry.
type Handler struct {
	log    *logger.Handler
	config *Config
	metric *metrics.Handler

	registry *detect.Registry
	engine   *redact.Redactor

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates the service handler with the reference detector set and the
// version-number post-filter installed.
func New(l *logger.Handler, m *metrics.Handler, sConfig *Config) (*Handler, error) {
	registry := detect.DefaultRegistry()
	postFilters := []detect.PostFilter{detect.NewVersionNumberPostFilter()}
	engine := redact.New(sConfig.Engine, registry, postFilters, l, m)

	return &Handler{
		log:      l,
		config:   sConfig,
		metric:   m,
		registry: registry,
		engine:   engine,
		sessions: make(map[string]*Session),
	}, nil
}

// Registry exposes the detector registry for custom detector registration.
func (h *Handler) Registry() *detect.Registry { return h.registry }

// Redact runs one batch redaction.
func (h *Handler) Redact(ctx context.Context, text string) (*redact.Result, error) {
	return h.engine.Redact(ctx, text)
}

// CreateStream opens a new supervised stream session and returns it. The
// session outlives the request; it runs until closed or until service
// shutdown.
func (h *Handler) CreateStream(opts StreamOptions) (*Session, error) {
	cfg := *h.config.Pipeline
	if opts.Mode != "" {
		cfg.Stream.Mode = opts.Mode
	}
	if opts.BufferSize > 0 {
		cfg.Stream.BufferSize = opts.BufferSize
	}
	if opts.Overlap > 0 {
		cfg.Stream.Overlap = opts.Overlap
	}
	if opts.Accelerated {
		cfg.Stream.Accelerated = true
	}

	var fast []detect.Detector
	if cfg.Stream.Accelerated {
		fast = fastPathDetectors()
	}
	p := pipeline.New(&cfg, h.engine, fast, h.log, h.metric)
	if err := p.Start(context.Background()); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		pipe:      p,
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	if h.log != nil {
		h.log.Info().Str("stream_id", s.ID).Str("mode", cfg.Stream.Mode).Msg("stream session created")
	}
	return s, nil
}

// PushChunk feeds text into a stream session and returns every output
// chunk ready afterwards, in input order.
func (h *Handler) PushChunk(ctx context.Context, id, text string) ([]stream.Chunk, error) {
	s, err := h.session(id)
	if err != nil {
		return nil, err
	}
	if err := s.pipe.PushWait(ctx, text); err != nil {
		return nil, err
	}
	return s.pipe.Collect(), nil
}

// CloseStream performs the terminal flush and removes the session. It
// returns the remaining output and how many chunks the session dropped
// under backpressure.
func (h *Handler) CloseStream(ctx context.Context, id string) ([]stream.Chunk, int, error) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return nil, 0, ErrStreamNotFound
	}

	chunks, err := s.pipe.Close(ctx)
	return chunks, s.pipe.Dropped(), err
}

// Shutdown closes every live session.
func (h *Handler) Shutdown(ctx context.Context) {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		if _, err := s.pipe.Close(ctx); err != nil && h.log != nil {
			h.log.Warn().Str("stream_id", s.ID).Err(err).Msg("session close failed during shutdown")
		}
	}
}

func (h *Handler) session(id string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return s, nil
}

// fastPathDetectors are the cheap structured-identifier detectors worth
// running incrementally on the chunk stream. Contextual detectors stay on
// the full-segment pass.
func fastPathDetectors() []detect.Detector {
	return []detect.Detector{
		detect.NewSSNDetector(),
		detect.NewEmailDetector(),
		detect.NewPhoneDetector(),
		detect.NewIPDetector(),
		detect.NewURLDetector(),
	}
}
