package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	c := New[float64](LiveQuoteTTL, zap.NewNop())
	var calls int32
	release := make(chan struct{})

	const waiters = 50
	var wg sync.WaitGroup
	results := make([]float64, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(context.Background(), "crypto:BTCUSDT", 0, func(context.Context) (float64, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return 42, nil
			})
		}(i)
	}

	// let every goroutine reach the flight before the fetch completes
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", got)
	}
	for i := range results {
		if errs[i] != nil || results[i] != 42 {
			t.Fatalf("waiter %d got %v, %v", i, results[i], errs[i])
		}
	}
}

func TestTTLBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New[int](LiveQuoteTTL, zap.NewNop(), WithClock[int](clock.Now))
	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	if v, _ := c.GetOrFetch(context.Background(), "k", 0, fetch); v != 1 {
		t.Fatalf("first read should fetch, got %d", v)
	}

	clock.Advance(4999 * time.Millisecond)
	if v, _ := c.GetOrFetch(context.Background(), "k", 0, fetch); v != 1 || calls != 1 {
		t.Fatalf("read at 4999ms should hit, got value %d after %d calls", v, calls)
	}

	clock.Advance(2 * time.Millisecond)
	if v, _ := c.GetOrFetch(context.Background(), "k", 0, fetch); v != 2 || calls != 2 {
		t.Fatalf("read at 5001ms should refetch once, got value %d after %d calls", v, calls)
	}
}

func TestFetchErrorReachesAllWaitersAndIsNotCached(t *testing.T) {
	c := New[int](LiveQuoteTTL, zap.NewNop())
	upstream := errors.New("upstream down")
	release := make(chan struct{})
	var calls int32

	const waiters = 10
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrFetch(context.Background(), "k", 0, func(context.Context) (int, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return 0, upstream
			})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		var fe *FetchError
		if !errors.As(err, &fe) || !errors.Is(err, upstream) {
			t.Fatalf("waiter %d: expected FetchError wrapping upstream, got %v", i, err)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one failed upstream call, got %d", calls)
	}

	v, err := c.GetOrFetch(context.Background(), "k", 0, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("failure must not be cached, got %d, %v", v, err)
	}
}

func TestWaiterCancellationDoesNotAbortFetch(t *testing.T) {
	c := New[int](LiveQuoteTTL, zap.NewNop())
	release := make(chan struct{})
	fetched := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.GetOrFetch(ctx, "k", 0, func(fctx context.Context) (int, error) {
		defer close(fetched)
		<-release
		if fctx.Err() != nil {
			return 0, fctx.Err()
		}
		return 5, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled waiter, got %v", err)
	}
	close(release)
	<-fetched

	if e, ok := c.Peek(context.Background(), "k"); !ok || e.Value != 5 {
		t.Fatalf("detached fetch should still populate the cache, got %+v %v", e, ok)
	}
}

func TestSweepAndInvalidate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	store := NewMemoryStore[string]()
	c := New[string](time.Second, zap.NewNop(), WithStore[string](store), WithClock[string](clock.Now))

	_, _ = c.GetOrFetch(context.Background(), "a", 0, func(context.Context) (string, error) { return "a", nil })
	_, _ = c.GetOrFetch(context.Background(), "b", 10*time.Second, func(context.Context) (string, error) { return "b", nil })

	clock.Advance(2 * time.Second)
	if n := store.Sweep(clock.Now()); n != 1 {
		t.Fatalf("expected one expired entry swept, got %d", n)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one remaining entry, got %d", store.Len())
	}

	if err := c.Invalidate(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Peek(context.Background(), "b"); ok {
		t.Fatalf("invalidated key must be gone")
	}

	st := c.Stats()
	if st.Fetches != 2 || st.Misses != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestEntryFetchedAtIdentifiesUpstreamValue(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := New[int](LiveQuoteTTL, zap.NewNop(), WithClock[int](clock.Now))
	fetch := func(context.Context) (int, error) { return 7, nil }

	first, err := c.GetOrFetchEntry(context.Background(), "k", 0, fetch)
	if err != nil || first.Value != 7 {
		t.Fatalf("first read: %+v %v", first, err)
	}
	clock.Advance(2 * time.Second)
	hit, _ := c.GetOrFetchEntry(context.Background(), "k", 0, fetch)
	if !hit.FetchedAt.Equal(first.FetchedAt) {
		t.Fatalf("a cache hit must keep the original FetchedAt, got %v want %v", hit.FetchedAt, first.FetchedAt)
	}
	clock.Advance(4 * time.Second)
	fresh, _ := c.GetOrFetchEntry(context.Background(), "k", 0, fetch)
	if fresh.FetchedAt.Equal(first.FetchedAt) {
		t.Fatal("a refetch must carry a new FetchedAt")
	}
}
