package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// task is one unit of work handed to the pool: a node, its opaque
// descriptor and a snapshot of its dependency results in declared order.
type task struct {
	node       string
	descriptor any
	inputs     []any
}

// completion is a worker's report for one finished task.
type completion struct {
	node        string
	value       any
	err         error
	startedAt   time.Time
	completedAt time.Time
}

// pool is a fixed-size pool of worker goroutines. It is a scoped
// resource: Start spawns the workers and Close stops intake and joins
// every worker, on all exit paths. Both channels are buffered to the
// pool size, so neither the coordinator (which never keeps more than
// size tasks in flight) nor a worker ever blocks on them.
type pool struct {
	size        int
	executor    Executor
	logger      *slog.Logger
	tracer      trace.Tracer
	tasks       chan task
	completions chan completion
	wg          sync.WaitGroup
}

func newPool(size int, executor Executor, logger *slog.Logger, tracer trace.Tracer) *pool {
	return &pool{
		size:        size,
		executor:    executor,
		logger:      logger,
		tracer:      tracer,
		tasks:       make(chan task, size),
		completions: make(chan completion, size),
	}
}

// Start spawns the worker goroutines. Workers live until Close is
// called and the task channel drains.
func (p *pool) Start(ctx context.Context) {
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.worker(ctx, i)
	}
}

// Submit hands a task to the pool. The coordinator bounds in-flight work
// to the pool size, so this never blocks.
func (p *pool) Submit(t task) {
	p.tasks <- t
}

// Close stops intake and joins every worker.
func (p *pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}

// worker executes tasks until the task channel is closed and drained.
// A cancelled context short-circuits queued tasks into failures without
// invoking the executor.
func (p *pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for t := range p.tasks {
		if err := ctx.Err(); err != nil {
			now := time.Now()
			p.completions <- completion{node: t.node, err: err, startedAt: now, completedAt: now}
			continue
		}

		p.logger.DebugContext(ctx, "worker picked up node",
			"worker", id,
			"node", t.node,
		)

		startedAt := time.Now()
		value, err := p.execute(ctx, t)
		p.completions <- completion{
			node:        t.node,
			value:       value,
			err:         err,
			startedAt:   startedAt,
			completedAt: time.Now(),
		}
	}
}

// execute invokes the executor for one task, converting a panic into a
// node failure so a crashing executor surfaces as a failed task rather
// than taking down the run.
func (p *pool) execute(ctx context.Context, t task) (value any, err error) {
	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "dagrunner.node",
			trace.WithAttributes(
				attribute.String("node.id", t.node),
				attribute.Int("node.input_count", len(t.inputs)),
			),
		)
		defer func() {
			if err != nil && !errors.Is(err, ErrSkipBranch) && !errors.Is(err, ErrIgnoreResult) {
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			}
			span.End()
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()

	return p.executor.Execute(ctx, t.node, t.descriptor, t.inputs)
}
