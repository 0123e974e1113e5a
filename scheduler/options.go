package scheduler

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultWorkers      = 4
	defaultPollInterval = 500 * time.Millisecond
)

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the size of the worker pool, i.e. the maximum number
// of nodes executing concurrently. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithFailFast controls the failure policy. When enabled (the default),
// the first node failure stops all further submission and cancels the
// run context; running work is allowed to wind down cooperatively before
// the pool is torn down. When disabled, independent branches continue to
// completion and all node errors are reported together.
func WithFailFast(enabled bool) Option {
	return func(s *Scheduler) {
		s.failFast = enabled
	}
}

// WithPollInterval sets the coordinator's heartbeat interval. Completions
// are delivered on a channel, so the interval does not bound result
// latency; it paces progress logging and liveness checks. Values of zero
// or below are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the structured logger used by the coordinator and
// workers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer enables OpenTelemetry tracing: one span per run plus one
// span per node execution.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// WithResultEviction releases an interior node's result value once every
// successor has consumed it, bounding the memory held by a run to the
// in-flight work plus still-needed results. Node statuses are always
// retained; only values of fully consumed nodes are dropped from the
// returned Result.
func WithResultEviction(enabled bool) Option {
	return func(s *Scheduler) {
		s.evictResults = enabled
	}
}
