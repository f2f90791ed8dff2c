// Package scheduler owns the process-wide recurring scrape slot: a single
// cron timer, armed and disarmed at runtime, reconciled once per process
// with the persisted schedule configuration.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"goldwatch/internal/gold"
)

// ErrInvalidExpression is returned by Start for unparseable cron syntax.
var ErrInvalidExpression = errors.New("invalid cron expression")

// DefaultSource is the source scraped on each timer firing.
const DefaultSource = gold.SourceCCB

// Pipeline scrapes one source and persists the observation.
type Pipeline interface {
	Scrape(ctx context.Context, source gold.Source) (*gold.Observation, error)
}

// ConfigStore reads the persisted schedule configuration.
type ConfigStore interface {
	CronConfig(ctx context.Context) (enabled bool, expression string, err error)
}

const (
	bootstrapNotStarted int32 = iota
	bootstrapInProgress
	bootstrapDone
)

// Scheduler holds at most one active cron timer. Arming replaces any prior
// timer, never stacks. Instances are independent; all state sits behind the
// mutex.
type Scheduler struct {
	ctx      context.Context
	pipeline Pipeline
	config   ConfigStore

	mu         sync.Mutex
	cron       *cron.Cron
	expression string

	bootstrap atomic.Int32
}

// New creates a disarmed scheduler. The ctx outlives individual requests and
// is handed to every scheduled and bootstrap scrape.
func New(ctx context.Context, pipeline Pipeline, config ConfigStore) *Scheduler {
	return &Scheduler{
		ctx:      ctx,
		pipeline: pipeline,
		config:   config,
	}
}

// Start validates the expression, disarms any existing timer, and arms a new
// recurring one. Validation failure leaves a previously armed schedule
// untouched.
func (s *Scheduler) Start(expression string) error {
	expression = strings.TrimSpace(expression)
	if _, err := cron.ParseStandard(expression); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expression, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	c := cron.New()
	if _, err := c.AddFunc(expression, s.tick); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expression, err)
	}
	c.Start()

	s.cron = c
	s.expression = expression
	slog.Info("scheduler armed", "expression", expression)
	return nil
}

// Stop disarms the timer. Calling it while already disarmed is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
		slog.Info("scheduler disarmed")
	}
	s.expression = ""
}

// Status reports the current armed flag and expression.
func (s *Scheduler) Status() (armed bool, expression string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil, s.expression
}

// tick is the timer body: a missed scrape is logged and swallowed so a
// failure never crashes the scheduler or stops future firings.
func (s *Scheduler) tick() {
	if _, err := s.pipeline.Scrape(s.ctx, DefaultSource); err != nil {
		slog.Error("scheduled scrape failed", "error", err)
	}
}

// EnsureStartedFromPersisted reconciles the scheduler with the persisted
// configuration at most once per process. The first caller reads the config,
// arms the timer when enabled, and performs one immediate scrape regardless
// of arming outcome, swallowing its failure. Concurrent and later callers
// return immediately without blocking on completion.
func (s *Scheduler) EnsureStartedFromPersisted() {
	if !s.bootstrap.CompareAndSwap(bootstrapNotStarted, bootstrapInProgress) {
		return
	}
	defer s.bootstrap.Store(bootstrapDone)

	enabled, expression, err := s.config.CronConfig(s.ctx)
	if err != nil {
		slog.Error("bootstrap: read cron config", "error", err)
	} else if enabled && expression != "" {
		if armed, _ := s.Status(); !armed {
			if err := s.Start(expression); err != nil {
				slog.Error("bootstrap: start scheduler", "error", err)
			}
		}
	}

	if _, err := s.pipeline.Scrape(s.ctx, DefaultSource); err != nil {
		slog.Error("bootstrap scrape failed", "error", err)
	}
}
