package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kumarabd/gokit/logger"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
)

// ErrRestartBudgetExhausted signals that a supervised child failed
// repeatedly beyond its restart budget and will not be restarted again.
var ErrRestartBudgetExhausted = errors.New("restart budget exhausted")

// Restart policies.
const (
	// PolicyPermanent restarts the child whenever it exits, error or not.
	PolicyPermanent = "permanent"
	// PolicyTemporary never restarts the child.
	PolicyTemporary = "temporary"
)

// SupervisorConfig contains configuration for the supervisor.
type SupervisorConfig struct {
	// MaxRestarts bounds restarts per child within RestartWindow.
	MaxRestarts int `json:"max_restarts" yaml:"max_restarts" default:"3"`
	// RestartWindow is the sliding window the restart budget is counted
	// over.
	RestartWindow time.Duration `json:"restart_window" yaml:"restart_window" default:"60s"`
	// ShutdownGrace bounds how long Stop waits for children to exit.
	ShutdownGrace time.Duration `json:"shutdown_grace" yaml:"shutdown_grace" default:"5s"`
}

// ChildSpec describes one supervised worker.
type ChildSpec struct {
	Name string
	// Policy defaults to PolicyPermanent.
	Policy string
	// Run is the child body. It must return promptly once its context is
	// cancelled.
	Run func(ctx context.Context) error
}

// Event is one supervision occurrence surfaced to the caller: a child
// failure, or ErrRestartBudgetExhausted when the child is given up on.
type Event struct {
	Child string
	RunID string
	Err   error
}

// Strategy decides which children are affected by one child's failure.
type Strategy interface {
	Affected(failed string, siblings []string) []string
}

// OneForOne restarts only the failed child; siblings are unaffected.
type OneForOne struct{}

func (OneForOne) Affected(failed string, _ []string) []string {
	return []string{failed}
}

// Supervisor owns named child workers and restarts them on failure under a
// sliding-window budget. Coordination across children happens only through
// the restart strategy, never through shared data.
type Supervisor struct {
	cfg      *SupervisorConfig
	strategy Strategy
	log      *logger.Handler
	metric   *metrics.Handler

	mu       sync.Mutex
	children map[string]*child
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	events   chan Event
}

type child struct {
	spec      ChildSpec
	restarts  []time.Time
	cancelRun context.CancelFunc
}

// NewSupervisor creates a supervisor. A nil strategy defaults to OneForOne.
func NewSupervisor(cfg *SupervisorConfig, strategy Strategy, log *logger.Handler, metric *metrics.Handler) *Supervisor {
	if strategy == nil {
		strategy = OneForOne{}
	}
	return &Supervisor{
		cfg:      cfg,
		strategy: strategy,
		log:      log,
		metric:   metric,
		children: make(map[string]*child),
		events:   make(chan Event, 16),
	}
}

// Add registers a child. All children must be added before Start.
func (s *Supervisor) Add(spec ChildSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("supervisor already started")
	}
	if spec.Name == "" || spec.Run == nil {
		return errors.New("child spec requires a name and a run function")
	}
	if _, exists := s.children[spec.Name]; exists {
		return fmt.Errorf("duplicate child %q", spec.Name)
	}
	if spec.Policy == "" {
		spec.Policy = PolicyPermanent
	}
	s.children[spec.Name] = &child{spec: spec}
	return nil
}

// Events surfaces child failures and budget exhaustion. The channel is
// buffered; the supervisor never blocks on a slow consumer.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Start launches every child. The supervisor runs until Stop or until ctx
// is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	children := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()

	for _, c := range children {
		s.wg.Add(1)
		go s.runLoop(ctx, c)
	}
	return nil
}

// Stop cancels every child and waits up to the shutdown grace period.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownGrace):
		return errors.New("children did not exit within the shutdown grace period")
	}
}

// runLoop runs one child to completion, restarting per policy and budget.
func (s *Supervisor) runLoop(ctx context.Context, c *child) {
	defer s.wg.Done()
	name := c.spec.Name

	for {
		runID := uuid.NewString()
		runCtx, cancelRun := context.WithCancel(ctx)
		s.setRunCancel(c, cancelRun)
		err := c.spec.Run(runCtx)
		cancelRun()

		if ctx.Err() != nil {
			return
		}
		if s.log != nil {
			s.log.Warn().Str("child", name).Str("run_id", runID).Err(err).Msg("supervised child exited")
		}
		if err != nil {
			s.emit(Event{Child: name, RunID: runID, Err: err})
			// A cancellation is a restart we triggered ourselves; poking
			// siblings for it would cascade forever.
			if !errors.Is(err, context.Canceled) {
				s.pokeSiblings(name)
			}
		}
		if c.spec.Policy == PolicyTemporary {
			return
		}
		if !s.chargeRestart(c) {
			s.emit(Event{Child: name, RunID: runID, Err: ErrRestartBudgetExhausted})
			return
		}
		if s.metric != nil {
			s.metric.IncRestarts(name)
		}
	}
}

// chargeRestart consumes one unit of the sliding-window budget, reporting
// false when it is exhausted.
func (s *Supervisor) chargeRestart(c *child) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-s.cfg.RestartWindow)
	kept := c.restarts[:0]
	for _, t := range c.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.restarts = kept
	if len(c.restarts) >= s.cfg.MaxRestarts {
		return false
	}
	c.restarts = append(c.restarts, now)
	return true
}

// pokeSiblings cancels the current run of every sibling the strategy names,
// so its own loop restarts it.
func (s *Supervisor) pokeSiblings(failed string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	siblings := make([]string, 0, len(s.children))
	for name := range s.children {
		siblings = append(siblings, name)
	}
	for _, name := range s.strategy.Affected(failed, siblings) {
		if name == failed {
			continue
		}
		if c, ok := s.children[name]; ok && c.cancelRun != nil {
			c.cancelRun()
		}
	}
}

func (s *Supervisor) setRunCancel(c *child, cancel context.CancelFunc) {
	s.mu.Lock()
	c.cancelRun = cancel
	s.mu.Unlock()
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
