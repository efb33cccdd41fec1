package starlark

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"
)

// ThreadPool manages a pool of Starlark threads for parallel execution.
type ThreadPool struct {
	mu      sync.Mutex
	threads []*starlark.Thread
	maxSize int
}

// NewThreadPool creates a new thread pool with the specified maximum size.
func NewThreadPool(maxSize int) *ThreadPool {
	if maxSize <= 0 {
		maxSize = 10 // default pool size
	}
	return &ThreadPool{
		threads: make([]*starlark.Thread, 0, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a thread from the pool or creates a new one.
// The thread name is used for error reporting.
func (p *ThreadPool) Get(name string) *starlark.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) > 0 {
		thread := p.threads[len(p.threads)-1]
		p.threads = p.threads[:len(p.threads)-1]
		thread.Name = name
		return thread
	}
	return newThread(name)
}

// Put returns a thread to the pool for reuse.
// If the pool is full, the thread is discarded.
func (p *ThreadPool) Put(thread *starlark.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) < p.maxSize {
		thread.Name = ""
		SetEvalContext(thread, nil)
		p.threads = append(p.threads, thread)
	}
}

// Size returns the current number of threads in the pool.
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// EvalTask is one row-wise script run.
type EvalTask struct {
	Script *Script
	Table  core.ValueTable
	Entity core.VariableEntity
}

// EvalResult is the outcome of one task. Entities without a row in the
// task table get a None value.
type EvalResult struct {
	Entity core.VariableEntity
	Value  starlark.Value
	Error  error
}

// ParallelExecutor runs scripts row-wise over many entities concurrently,
// each run with its own evaluation context.
type ParallelExecutor struct {
	pool   *ThreadPool
	limit  int
	logger *slog.Logger
}

// NewParallelExecutor creates an executor running at most maxConcurrency
// tasks at a time. A nil logger discards output.
func NewParallelExecutor(maxConcurrency int, logger *slog.Logger) *ParallelExecutor {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ParallelExecutor{
		pool:   NewThreadPool(maxConcurrency),
		limit:  maxConcurrency,
		logger: logger,
	}
}

// Execute runs every task and returns the results in task order. Failed
// tasks carry their error; the other tasks still run.
func (e *ParallelExecutor) Execute(ctx context.Context, tasks []EvalTask) []EvalResult {
	results := make([]EvalResult, len(tasks))
	var g errgroup.Group
	g.SetLimit(e.limit)

	for i, task := range tasks {
		g.Go(func() error {
			v, err := e.run(ctx, task)
			results[i] = EvalResult{Entity: task.Entity, Value: v, Error: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Values runs the script for each entity and stops at the first error.
func (e *ParallelExecutor) Values(ctx context.Context, script *Script, table core.ValueTable, entities []core.VariableEntity) ([]starlark.Value, error) {
	out := make([]starlark.Value, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for i, entity := range entities {
		g.Go(func() error {
			v, err := e.run(gctx, EvalTask{Script: script, Table: table, Entity: entity})
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *ParallelExecutor) run(ctx context.Context, task EvalTask) (starlark.Value, error) {
	vs, err := task.Table.ValueSet(ctx, task.Entity)
	if err != nil {
		var missing *core.NoSuchValueSetError
		if errors.As(err, &missing) {
			return starlark.None, nil
		}
		return nil, err
	}

	ec := eval.NewContext(ctx, e.logger.With("entity", task.Entity.Identifier))
	leave := ec.Enter(eval.RowFrames(task.Table, vs)...)
	defer leave()

	thread := e.pool.Get(task.Script.Name())
	v, err := task.Script.run(thread, ec)
	if ctx.Err() == nil {
		e.pool.Put(thread)
	}
	return v, err
}
