package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type erroringFetcher struct {
	calls int32
	mu    sync.Mutex
	delay time.Duration
}

func (f *erroringFetcher) Fetch(ctx context.Context, cid string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	time.Sleep(f.delay)
	return nil, errors.New("network unreachable")
}

func (f *erroringFetcher) callCount() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStoreAddWrapsFetchFailureAsIpfsError(t *testing.T) {
	fetcher := &erroringFetcher{}
	s, err := NewStore(&Engine{compiled: make(map[string]*compiledEntry)}, fetcher, zap.NewNop(), 4)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	err = s.Add(context.Background(), "cid1")
	if err == nil {
		t.Fatalf("expected Add to fail when the fetcher errors")
	}
	if !IsNotFound(err) {
		t.Fatalf("expected an IpfsError (IsNotFound), got %T: %v", err, err)
	}
}

// TestStoreAddCoalescesConcurrentCallers asserts that many concurrent Add
// calls for the same cid must not each independently
// invoke the fetcher — exactly one leader fetches, and every follower
// observes its outcome. The fetcher is slowed down so every caller arrives
// while the leader's fetch is still in flight.
func TestStoreAddCoalescesConcurrentCallers(t *testing.T) {
	fetcher := &erroringFetcher{delay: 200 * time.Millisecond}
	s, err := NewStore(&Engine{compiled: make(map[string]*compiledEntry)}, fetcher, zap.NewNop(), 4)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = s.Add(context.Background(), "shared-cid")
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		if e == nil {
			t.Fatalf("caller %d: expected an error since the fetcher always fails", i)
		}
	}
	if got := fetcher.callCount(); got != 1 {
		t.Fatalf("expected exactly one fetch call across %d concurrent Add callers, got %d", callers, got)
	}
}

func TestStoreAddIsANoopOnceInstanceIsCached(t *testing.T) {
	s, err := NewStore(&Engine{compiled: make(map[string]*compiledEntry)}, &erroringFetcher{}, zap.NewNop(), 1)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	s.instances["already-here"] = &Instance{cid: "already-here"}

	if err := s.Add(context.Background(), "already-here"); err != nil {
		t.Fatalf("expected Add to be a no-op for an already-cached cid, got: %v", err)
	}
}

func TestStoreTokenPoolBoundsConcurrency(t *testing.T) {
	s, err := NewStore(&Engine{compiled: make(map[string]*compiledEntry)}, &erroringFetcher{}, zap.NewNop(), 1)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	token, err := s.acquireToken(context.Background())
	if err != nil {
		t.Fatalf("acquireToken failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.acquireToken(ctx); err == nil {
		t.Fatalf("expected acquiring a second token from a pool of size 1 to time out")
	}

	s.releaseToken(token)
	if _, err := s.acquireToken(context.Background()); err != nil {
		t.Fatalf("expected the token to become available again after release, got: %v", err)
	}
}

func TestStoreInvalidateDropsCachedInstance(t *testing.T) {
	s, err := NewStore(&Engine{compiled: make(map[string]*compiledEntry)}, &erroringFetcher{}, zap.NewNop(), 1)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	s.instances["cid"] = &Instance{cid: "cid", mod: &fakeModule{mem: newFakeMemory(64)}}

	if err := s.Invalidate(context.Background(), "cid"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if s.hasInstance("cid") {
		t.Fatalf("expected the instance to be dropped after Invalidate")
	}
}
