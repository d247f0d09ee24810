package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"go.uber.org/zap"
)

// BytecodeFetcher is the object-store collaborator the Store depends on for
// admission (fetching a CID's Wasm bytes on cache miss).
type BytecodeFetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// dispatchTimeout bounds how long Run waits for a free worker token before
// giving up, per spec.md §5's "Inner layer ... dispatched to a blocking
// worker thread so the reactor is not stalled."
const dispatchTimeout = 30 * time.Second

// Store is the process-wide runtime store (C7): a concurrency-safe,
// write-once-per-CID cache of compiled modules and ready instances, fronting
// admission and dispatch. Grounded on pkg/serverless/registry.go's
// Register/Get/GetWASMBytes and pkg/serverless/cache/module_cache.go's
// double-checked-locking GetOrCompute.
//
// Dispatch is bounded by a fixed-size pool of worker tokens — a ring buffer
// of empty structs, generalized from wapc-wapc-go's Pool (which pools whole
// Instances) down to a pool of goroutine-dispatch permits, since this
// store's cache already guarantees one live Instance per CID (spec.md §3's
// "write-once per CID" invariant): what needs bounding here is concurrent
// CPU-bound dispatch, not instance lifetime.
type Store struct {
	engine   *Engine
	fetcher  BytecodeFetcher
	logger   *zap.Logger
	tokens   *queue.RingBuffer

	mu        sync.RWMutex
	instances map[string]*Instance
	inflight  map[string]chan struct{}
}

// NewStore constructs a Store dispatching at most concurrency invocations at
// once.
func NewStore(engine *Engine, fetcher BytecodeFetcher, logger *zap.Logger, concurrency uint64) (*Store, error) {
	tokens := queue.NewRingBuffer(concurrency)
	for i := uint64(0); i < concurrency; i++ {
		if ok, err := tokens.Offer(struct{}{}); err != nil || !ok {
			return nil, fmt.Errorf("failed to prime dispatch token pool: %w", err)
		}
	}

	return &Store{
		engine:    engine,
		fetcher:   fetcher,
		logger:    logger,
		tokens:    tokens,
		instances: make(map[string]*Instance),
		inflight:  make(map[string]chan struct{}),
	}, nil
}

// Add admits cid: fetches its bytecode (if not already cached), compiles it,
// and instantiates it into the store's cache. Concurrent Add calls for the
// same cid are safe and idempotent — a second caller observes the first
// caller's outcome rather than triggering a redundant fetch-and-compile,
// resolving spec.md §4.7's "at-most-once compile is a quality-of-
// implementation goal, not a correctness requirement" toward idempotent
// coalescing rather than racing independent compiles.
func (s *Store) Add(ctx context.Context, cid string) error {
	if s.hasInstance(cid) {
		return nil
	}

	done, leader := s.claimInflight(cid)
	if !leader {
		select {
		case <-done:
			return s.addOutcome(cid)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer s.releaseInflight(cid, done)

	wasmBytes, err := s.fetcher.Fetch(ctx, cid)
	if err != nil {
		return &IpfsError{Message: fmt.Sprintf("failed to fetch bytecode for %s: %v", cid, err)}
	}

	if _, err := s.engine.CompileModule(ctx, cid, wasmBytes); err != nil {
		return err
	}

	inst, err := s.engine.Instantiate(ctx, cid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.instances[cid] = inst
	s.mu.Unlock()

	s.logger.Info("module admitted", zap.String("cid", cid), zap.Int("size_bytes", len(wasmBytes)))
	return nil
}

func (s *Store) addOutcome(cid string) error {
	if s.hasInstance(cid) {
		return nil
	}
	return &CacheError{Message: fmt.Sprintf("admission of %s failed in a concurrent caller", cid)}
}

func (s *Store) hasInstance(cid string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.instances[cid]
	return ok
}

func (s *Store) claimInflight(cid string) (done chan struct{}, leader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.inflight[cid]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	s.inflight[cid] = ch
	return ch, true
}

func (s *Store) releaseInflight(cid string, done chan struct{}) {
	s.mu.Lock()
	delete(s.inflight, cid)
	s.mu.Unlock()
	close(done)
}

// Run resolves cid against the cache (fetching and compiling on miss, per
// spec.md §4.7's resolution policy), then dispatches the invocation on a
// bounded worker token so the caller's goroutine is not itself blocked on
// CPU-bound guest execution. Cancellation of ctx before dispatch completes
// causes Run to return ctx.Err() immediately; the in-flight worker goroutine
// is allowed to run to completion and its result is discarded, per spec.md
// §5's cancellation semantics.
func (s *Store) Run(ctx context.Context, cid string, req *Request) (*CallResult, error) {
	inst, err := s.resolve(ctx, cid)
	if err != nil {
		return nil, err
	}

	token, err := s.acquireToken(ctx)
	if err != nil {
		return nil, &TaskJoinError{Message: fmt.Sprintf("failed to acquire dispatch token for %s: %v", cid, err)}
	}
	defer s.releaseToken(token)

	type outcome struct {
		result *CallResult
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		result, err := CallFetch(ctx, inst, req, s.logger)
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case o := <-resultCh:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) resolve(ctx context.Context, cid string) (*Instance, error) {
	s.mu.RLock()
	inst, ok := s.instances[cid]
	s.mu.RUnlock()
	if ok {
		return inst, nil
	}

	if err := s.Add(ctx, cid); err != nil {
		return nil, err
	}

	s.mu.RLock()
	inst, ok = s.instances[cid]
	s.mu.RUnlock()
	if !ok {
		return nil, &IpfsError{Message: fmt.Sprintf("no bytecode available for %s", cid)}
	}
	return inst, nil
}

func (s *Store) acquireToken(ctx context.Context) (interface{}, error) {
	deadline := dispatchTimeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}
	return s.tokens.Poll(deadline)
}

func (s *Store) releaseToken(token interface{}) {
	_, _ = s.tokens.Offer(token)
}

// Invalidate drops cid's cached instance and compiled module.
func (s *Store) Invalidate(ctx context.Context, cid string) error {
	s.mu.Lock()
	inst, ok := s.instances[cid]
	if ok {
		delete(s.instances, cid)
	}
	s.mu.Unlock()

	if ok {
		_ = inst.Close(ctx)
	}
	return s.engine.Invalidate(ctx, cid)
}

// Close releases every cached instance and the underlying engine.
func (s *Store) Close(ctx context.Context) error {
	s.tokens.Dispose()

	s.mu.Lock()
	instances := s.instances
	s.instances = make(map[string]*Instance)
	s.mu.Unlock()

	for cid, inst := range instances {
		if err := inst.Close(ctx); err != nil {
			s.logger.Warn("store: failed to close instance", zap.String("cid", cid), zap.Error(err))
		}
	}
	return s.engine.Close(ctx)
}
