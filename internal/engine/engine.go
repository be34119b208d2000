// Package engine owns the single process-wide wazero runtime and its
// optional epoch-based deadline ticker (spec §4.A). Grounded on the
// teacher's internal/infrastructure/wasm/runtime.go, which keeps one
// package-level wazero.CompilationCache and a refcount-free
// compile/instantiate flow; this package adds the refcounted
// global init/deinit lifecycle and epoch ticker the spec requires.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

var (
	mu      sync.Mutex
	current *Engine
)

// Engine is the process-wide wazero runtime plus its epoch ticker.
// Exactly one Engine exists while refcount > 0 (spec §3).
type Engine struct {
	Runtime wazero.Runtime
	Cache   wazero.CompilationCache

	deadlineMillis uint32
	budgetTicks    uint32 // ceil(deadlineMillis/10)+2, precomputed

	refcount    int
	liveModules int

	tickerStop chan struct{}
	tickerDone chan struct{}
}

// GlobalInit creates the process-wide engine on the first call and
// increments its refcount on every call. Calling again with a different
// deadlineMillis while live modules exist fails (spec §4.A). Calling
// again with the same deadline is idempotent. memoryLimitPages caps
// every Instance's linear memory (BridgeConfig's memoryLimitPages, spec
// §3); it is a runtime-wide wazero setting so only the call that
// actually creates the engine applies it — later callers sharing the
// already-live engine cannot change it, the same one-writer-wins rule
// deadlineMillis already follows.
func GlobalInit(ctx context.Context, deadlineMillis, memoryLimitPages uint32) (*Engine, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		if current.liveModules > 0 && current.deadlineMillis != deadlineMillis {
			return nil, fmt.Errorf("engine: cannot change deadline from %dms to %dms while %d module(s) are live",
				current.deadlineMillis, deadlineMillis, current.liveModules)
		}
		current.refcount++
		return current, nil
	}

	cache := wazero.NewCompilationCache()
	config := wazero.NewRuntimeConfig().WithCompilationCache(cache)
	if deadlineMillis > 0 {
		config = config.WithCloseOnContextDone(true)
	}
	if memoryLimitPages > 0 {
		config = config.WithMemoryLimitPages(memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, config)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("engine: failed to instantiate WASI: %w", err)
	}

	e := &Engine{
		Runtime:        rt,
		Cache:          cache,
		deadlineMillis: deadlineMillis,
		refcount:       1,
	}
	if deadlineMillis > 0 {
		e.budgetTicks = budgetTicks(deadlineMillis)
		e.startTicker()
	}

	current = e
	return e, nil
}

// budgetTicks computes ceil(deadlineMillis/10)+2 (spec §3).
func budgetTicks(deadlineMillis uint32) uint32 {
	ticks := deadlineMillis / 10
	if deadlineMillis%10 != 0 {
		ticks++
	}
	return ticks + 2
}

func (e *Engine) startTicker() {
	e.tickerStop = make(chan struct{})
	e.tickerDone = make(chan struct{})
	go func() {
		defer close(e.tickerDone)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Runtime.IncrementEpoch()
			case <-e.tickerStop:
				return
			}
		}
	}()
}

// BudgetTicks returns the number of epoch ticks a single call should be
// granted before it is considered timed out, or 0 if no deadline is
// configured (in which case callers must not set an epoch deadline at all).
func (e *Engine) BudgetTicks() uint32 { return e.budgetTicks }

// HasDeadline reports whether a deadline was configured for this engine.
func (e *Engine) HasDeadline() bool { return e.deadlineMillis > 0 }

// acquireModule registers a live Module against this engine so that a
// later GlobalInit with a conflicting deadline is rejected (spec §3
// invariant: "deadline cannot be changed while any live Module exists").
func (e *Engine) acquireModule() {
	mu.Lock()
	e.liveModules++
	mu.Unlock()
}

// releaseModule is the mirror of acquireModule, called when a Module is
// no longer referenced.
func (e *Engine) releaseModule() {
	mu.Lock()
	if e.liveModules > 0 {
		e.liveModules--
	}
	mu.Unlock()
}

// AcquireModule and ReleaseModule are the exported forms used by the
// module package, which cannot reach into engine's unexported fields.
func (e *Engine) AcquireModule() { e.acquireModule() }
func (e *Engine) ReleaseModule() { e.releaseModule() }

// GlobalDeinit decrements the engine's refcount, stopping the epoch
// ticker and releasing the runtime once it reaches zero.
func GlobalDeinit(ctx context.Context) error {
	mu.Lock()
	e := current
	if e == nil {
		mu.Unlock()
		return fmt.Errorf("engine: GlobalDeinit called without a matching GlobalInit")
	}
	e.refcount--
	if e.refcount > 0 {
		mu.Unlock()
		return nil
	}
	current = nil
	mu.Unlock()

	if e.tickerStop != nil {
		close(e.tickerStop)
		<-e.tickerDone
	}
	return e.Runtime.Close(ctx)
}

// Current returns the live engine, if any. Used by tests and by code
// paths that need to confirm GlobalInit has already run.
func Current() (*Engine, bool) {
	mu.Lock()
	defer mu.Unlock()
	return current, current != nil
}
