package netcore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/server-client-editor/ClientSide/internal/shared"
)

// taskRecord is owned exclusively by the Registry, keyed by generation.
type taskRecord struct {
	abort    context.CancelFunc
	callback func(NetworkResult)
	traceID  string
}

// Registry allocates generations, owns task handles, routes results to user
// callbacks, and enforces cancellation. It generalizes the teacher's
// cancels map (string task IDs) to uint64 generations under the same
// leaf-lock discipline: never hold mu while doing I/O or invoking a
// callback.
type Registry struct {
	mu    sync.Mutex
	tasks map[Generation]*taskRecord

	gen atomic.Uint64

	rootCtx context.Context
	cancel  context.CancelFunc

	shuttingDown atomic.Bool
	results      chan WithGeneration[NetworkResult]

	wg       sync.WaitGroup
	pumpDone chan struct{}
	stopPump chan struct{}

	logger *slog.Logger
}

// NewRegistry constructs a Registry and starts its result pump. Callers must
// call Shutdown to release the pump goroutine.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		tasks:    make(map[Generation]*taskRecord),
		rootCtx:  ctx,
		cancel:   cancel,
		results:  make(chan WithGeneration[NetworkResult], 64),
		pumpDone: make(chan struct{}),
		stopPump: make(chan struct{}),
		logger:   logger,
	}
	go r.pump()
	return r
}

// Spawn allocates a generation, launches fn under a cancellation+timeout
// envelope, records {abort, callback}, and returns the generation
// immediately. The spawned goroutine awaits a one-shot start gate before
// doing any work, so it cannot post a result before the TaskRecord is
// inserted into the map — closing the exact race the teacher's
// insert-before-publish ordering exists to prevent.
func (r *Registry) Spawn(timeout time.Duration, fn TaskFunc, callback func(NetworkResult)) Generation {
	gen := Generation(r.gen.Add(1))
	traceID := shared.NewTraceID()

	taskCtx, abort := context.WithTimeout(r.rootCtx, timeout)
	taskCtx = shared.WithTraceID(taskCtx, traceID)
	gate := make(chan struct{})

	r.mu.Lock()
	r.tasks[gen] = &taskRecord{abort: abort, callback: callback, traceID: traceID}
	r.mu.Unlock()

	r.logger.Debug("task spawned", "generation", gen, "trace_id", traceID, "timeout", timeout)

	r.wg.Add(1)
	go r.run(gen, taskCtx, abort, gate, fn)
	close(gate) // trip only after insertion; run() is already blocked on it

	return gen
}

func (r *Registry) run(gen Generation, ctx context.Context, abort context.CancelFunc, gate <-chan struct{}, fn TaskFunc) {
	defer r.wg.Done()
	<-gate

	event, err := fn(ctx)

	// Priority check: ctx may already be done even though fn returned a
	// value (e.g. the inner work raced the deadline). A non-blocking check
	// first lets Timeout/SysCancelled win the common case deterministically.
	select {
	case <-ctx.Done():
		r.postTerminal(gen, ctx)
		return
	default:
	}

	if err != nil {
		select {
		case r.results <- WithGeneration[NetworkResult]{Generation: gen, Payload: NetworkResult{Err: &NetworkError{Kind: ErrAborted}}}:
		case <-ctx.Done():
			r.postTerminal(gen, ctx)
		}
		return
	}

	select {
	case r.results <- WithGeneration[NetworkResult]{Generation: gen, Payload: NetworkResult{Event: event}}:
	case <-ctx.Done():
		r.postTerminal(gen, ctx)
	}
}

// postTerminal disambiguates ctx.Err() into Timeout vs SysCancelled. A
// context canceled for any reason other than the registry's own shutdown is
// not reported here: explicit Cancel() already delivered UsrCancelled
// directly and removed the record, so this send will simply find no
// matching entry and be dropped by the pump.
func (r *Registry) postTerminal(gen Generation, ctx context.Context) {
	var kind NetworkErrorKind
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = ErrTimeout
	case r.shuttingDown.Load():
		kind = ErrSysCancelled
	default:
		return
	}
	select {
	case r.results <- WithGeneration[NetworkResult]{Generation: gen, Payload: NetworkResult{Err: &NetworkError{Kind: kind}}}:
	default:
		// Pump is draining elsewhere; a blocked send here would deadlock
		// Shutdown's drain wait. Best-effort only.
	}
}

// pump is the single serialization point between spawned tasks and user
// callbacks: it removes the matching record (dropping results for
// already-cancelled generations), aborts the task handle (idempotent,
// covers the timeout branch where the goroutine is still technically
// live), and invokes the callback with panic isolation.
func (r *Registry) pump() {
	defer close(r.pumpDone)
	for {
		select {
		case wg := <-r.results:
			r.handleResult(wg)
		case <-r.stopPump:
			r.drainRemaining()
			return
		}
	}
}

// drainRemaining flushes any results already queued at shutdown time without
// blocking for new ones; run() goroutines that ignore context cancellation
// and post afterward simply find a closed recipient and their send blocks
// forever inside an otherwise-dead goroutine, a known limitation of tasks
// that don't honor ctx.
func (r *Registry) drainRemaining() {
	for {
		select {
		case wg := <-r.results:
			r.handleResult(wg)
		default:
			return
		}
	}
}

func (r *Registry) handleResult(wg WithGeneration[NetworkResult]) {
	r.mu.Lock()
	rec, ok := r.tasks[wg.Generation]
	if ok {
		delete(r.tasks, wg.Generation)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	rec.abort()
	if wg.Payload.Err != nil {
		r.logger.Debug("task completed", "generation", wg.Generation, "trace_id", rec.traceID, "err_kind", wg.Payload.Err.Kind)
	} else {
		r.logger.Debug("task completed", "generation", wg.Generation, "trace_id", rec.traceID)
	}
	r.dispatch(rec.callback, wg.Payload)
}

func (r *Registry) dispatch(callback func(NetworkResult), result NetworkResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("callback panicked", "panic", rec)
		}
	}()
	callback(result)
}

// Cancel removes the record and aborts the underlying task. Per the binding
// resolution of the cancellation semantics question, a successful cancel
// delivers NetworkError{Kind: ErrUsrCancelled} to the error callback rather
// than dropping it silently. Returns false if the generation is unknown
// (already delivered, or never existed).
func (r *Registry) Cancel(gen Generation) bool {
	r.mu.Lock()
	rec, ok := r.tasks[gen]
	if ok {
		delete(r.tasks, gen)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	rec.abort()
	r.dispatch(rec.callback, NetworkResult{Err: &NetworkError{Kind: ErrUsrCancelled}})
	return true
}

// Shutdown aborts every outstanding task, lets the already-running pump
// drain any results that land within the grace window (so a task that
// manages to post lands through the normal SysCancelled path), then force-
// removes and logs whatever stragglers remain.
func (r *Registry) Shutdown(drain time.Duration) {
	r.shuttingDown.Store(true)
	r.cancel()

	waitDone := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(drain):
	}

	close(r.stopPump)
	<-r.pumpDone

	r.mu.Lock()
	undelivered := len(r.tasks)
	r.tasks = make(map[Generation]*taskRecord)
	r.mu.Unlock()

	if undelivered > 0 {
		r.logger.Warn("shutdown dropped undelivered results", "count", undelivered)
	}
}
