// Package flush provides the debounced metadata sync scheduler.
//
// A Scheduler coalesces bursts of dirty signals into a single delayed flush.
// The delay is measured from the first signal of a burst: N mutations inside
// the window produce exactly one flush covering all N. A signal arriving
// while a flush is running re-arms a follow-up job so the final in-memory
// state is always eventually persisted.
package flush

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/projmeta/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/projmeta/internal/flush"

// DefaultDelay is the debounce window used when none is configured.
const DefaultDelay = 100 * time.Millisecond

// Func performs the actual flush. It runs on a background goroutine, never
// on the caller of Request.
type Func func(ctx context.Context) error

// Scheduler debounces dirty signals into single flush executions.
//
// State machine: idle -> pending (first Request) -> flushing -> idle.
// Requests in pending state coalesce into the already-armed timer. Requests
// during flushing set a re-arm flag which schedules a follow-up job once the
// in-flight flush returns.
type Scheduler struct {
	delay  time.Duration
	fn     Func
	logger *logging.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	flushCounter   metric.Int64Counter
	coalesceCount  metric.Int64Counter
	failureCounter metric.Int64Counter

	mu       sync.Mutex
	pending  bool
	flushing bool
	rearm    bool
	closed   bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler invoking fn after delay.
// A non-positive delay falls back to DefaultDelay.
func NewScheduler(delay time.Duration, fn Func, logger *logging.Logger) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Scheduler{
		delay:  delay,
		fn:     fn,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s
}

func (s *Scheduler) initMetrics() {
	var err error

	s.flushCounter, err = s.meter.Int64Counter(
		"projmeta.flush.runs_total",
		metric.WithDescription("Total number of metadata flush executions"),
		metric.WithUnit("{flush}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create flush counter", zap.Error(err))
	}

	s.coalesceCount, err = s.meter.Int64Counter(
		"projmeta.flush.coalesced_total",
		metric.WithDescription("Dirty signals absorbed into an already-pending flush"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create coalesce counter", zap.Error(err))
	}

	s.failureCounter, err = s.meter.Int64Counter(
		"projmeta.flush.failures_total",
		metric.WithDescription("Flush executions that returned an error"),
		metric.WithUnit("{flush}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create failure counter", zap.Error(err))
	}
}

// Request records a dirty signal. The first signal of a burst arms the delay
// timer; later signals inside the window coalesce into the same job. Safe to
// call from any goroutine. After Close it is a no-op.
func (s *Scheduler) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.flushing {
		// Data mutated during an in-flight flush must not be lost.
		s.rearm = true
		s.count(s.coalesceCount)
		return
	}

	if s.pending {
		// Delay is measured from the first signal of the burst.
		s.count(s.coalesceCount)
		return
	}

	s.arm()
}

// arm schedules the delayed flush. Caller must hold s.mu. The armed job is
// never cancelled; Close waits for it via wg.
func (s *Scheduler) arm() {
	s.pending = true
	s.wg.Add(1)
	time.AfterFunc(s.delay, s.run)
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.mu.Lock()
	s.pending = false
	s.flushing = true
	s.mu.Unlock()

	ctx, span := s.tracer.Start(context.Background(), "flush.run")
	err := s.fn(ctx)
	span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushing = false

	if err != nil {
		s.count(s.failureCounter)
		// In-memory state is still dirty; the next natural dirty signal
		// schedules the retry.
		s.logger.Error(ctx, "metadata flush failed", zap.Error(err))
	} else {
		s.count(s.flushCounter)
	}

	if s.rearm && !s.closed {
		s.rearm = false
		s.arm()
	}
}

// Close stops accepting new dirty signals and waits for pending and in-flight
// flushes to complete. Pending jobs are not cancelled: state already marked
// dirty still reaches disk.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.rearm = false
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) count(c metric.Int64Counter) {
	if c != nil {
		c.Add(context.Background(), 1)
	}
}
