package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// Many goroutines race for the same absent key: the loader runs once
// and every caller observes the same value.
func TestCache_GetOrLoad_Singleflight(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[string, string](Options[string, string]{
		Capacity: 64,
		Loader: func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(20 * time.Millisecond) // hold the flight open
			return "v:" + k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	gate := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			<-gate
			v, err := c.GetOrLoad(context.Background(), "k")
			if err != nil {
				return err
			}
			if v != "v:k" {
				t.Errorf("GetOrLoad = %q, want v:k", v)
			}
			return nil
		})
	}
	close(gate)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("loader calls = %d, want 1", n)
	}
	if st := c.Stats(); st.LoadSuccesses != 1 {
		t.Fatalf("LoadSuccesses = %d, want 1", st.LoadSuccesses)
	}
}

// Two callers, slow loader: one leads, one joins the flight. Exactly
// one load success; afterwards the value is resident.
func TestCache_GetOrLoad_TwoCallersOneLoad(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int64

	c := New[string, int](Options[string, int]{
		Capacity: 8,
		Loader: func(_ context.Context, _ string) (int, error) {
			if atomic.AddInt64(&calls, 1) == 1 {
				close(entered)
			}
			<-release
			return 42, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	var g errgroup.Group
	g.Go(func() error {
		v, err := c.GetOrLoad(context.Background(), "k")
		if err == nil && v != 42 {
			t.Errorf("leader got %d, want 42", v)
		}
		return err
	})
	<-entered // the leader is inside the loader
	g.Go(func() error {
		v, err := c.GetOrLoad(context.Background(), "k")
		if err == nil && v != 42 {
			t.Errorf("follower got %d, want 42", v)
		}
		return err
	})
	time.Sleep(10 * time.Millisecond) // let the follower join the flight
	close(release)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("loader calls = %d, want 1", n)
	}
	if v, ok := c.GetIfPresent("k"); !ok || v != 42 {
		t.Fatalf("post-load GetIfPresent = %v ok=%v, want 42", v, ok)
	}
}

// A resident value short-circuits Get: the per-call loader never runs.
func TestCache_Get_HitSkipsLoader(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 8})
	t.Cleanup(func() { _ = c.Close() })

	c.Put("k", 1)
	v, err := c.Get(context.Background(), "k", func(context.Context, string) (int, error) {
		t.Error("loader must not run on a hit")
		return 0, nil
	})
	if err != nil || v != 1 {
		t.Fatalf("Get = %v, %v; want 1, nil", v, err)
	}
}

// GetOrLoad without a configured loader fails fast.
func TestCache_GetOrLoad_NoLoader(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 8})
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.GetOrLoad(context.Background(), "k"); !errors.Is(err, ErrNoLoader) {
		t.Fatalf("err = %v, want ErrNoLoader", err)
	}
}

// A failed load propagates the same wrapped error to every waiter and
// caches nothing; a later attempt starts a fresh flight.
func TestCache_Load_FailureFanOut(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("backend down")
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int64

	c := New[string, int](Options[string, int]{
		Capacity: 8,
		Loader: func(_ context.Context, _ string) (int, error) {
			if atomic.AddInt64(&calls, 1) == 1 {
				close(entered)
			}
			<-release
			return 0, sentinel
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	errs := make(chan error, 4)
	go func() { _, err := c.GetOrLoad(context.Background(), "k"); errs <- err }()
	<-entered
	for i := 0; i < 3; i++ {
		go func() { _, err := c.GetOrLoad(context.Background(), "k"); errs <- err }()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)

	for i := 0; i < 4; i++ {
		err := <-errs
		if !errors.Is(err, sentinel) {
			t.Fatalf("waiter %d: err = %v, want wrapped %v", i, err, sentinel)
		}
		var le *LoadError
		if !errors.As(err, &le) {
			t.Fatalf("waiter %d: err %T is not *LoadError", i, err)
		}
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("loader calls = %d, want 1", n)
	}

	// Nothing was cached; the error was not either.
	if _, ok := c.GetIfPresent("k"); ok {
		t.Fatal("failed load must not install a value")
	}
	if st := c.Stats(); st.LoadExceptions != 1 || st.LoadSuccesses != 0 {
		t.Fatalf("stats = %+v, want 1 exception, 0 successes", st)
	}

	// A fresh flight after the failure can succeed.
	v, err := c.Get(context.Background(), "k", func(context.Context, string) (int, error) {
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Fatalf("retry Get = %v, %v; want 7, nil", v, err)
	}
}

// A loader returning a nil reference with a nil error is a contract
// violation: the caller gets ErrInvalidLoadResult and nothing is cached.
func TestCache_Load_NilResultRejected(t *testing.T) {
	t.Parallel()

	c := New[string, *int](Options[string, *int]{Capacity: 8})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Get(context.Background(), "k", func(context.Context, string) (*int, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrInvalidLoadResult) {
		t.Fatalf("err = %v, want ErrInvalidLoadResult", err)
	}
	if _, ok := c.GetIfPresent("k"); ok {
		t.Fatal("nil result must not be cached")
	}
	if st := c.Stats(); st.LoadExceptions != 1 {
		t.Fatalf("LoadExceptions = %d, want 1", st.LoadExceptions)
	}
}

// Put during an in-flight load wins: the load completes and returns its
// value to the waiting caller, but the cache keeps the explicit write.
func TestCache_PutWinsOverCompletingLoad(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})

	c := New[string, string](Options[string, string]{
		Capacity: 8,
		Loader: func(_ context.Context, _ string) (string, error) {
			close(entered)
			<-release
			return "loaded", nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	done := make(chan struct{})
	var got string
	var gotErr error
	go func() {
		got, gotErr = c.GetOrLoad(context.Background(), "k")
		close(done)
	}()

	<-entered
	c.Put("k", "put") // newer write; the in-flight result is now stale
	close(release)
	<-done

	if gotErr != nil || got != "loaded" {
		t.Fatalf("GetOrLoad = %q, %v; want loaded, nil", got, gotErr)
	}
	if v, ok := c.GetIfPresent("k"); !ok || v != "put" {
		t.Fatalf("GetIfPresent = %q ok=%v, want put (the write wins)", v, ok)
	}
	if st := c.Stats(); st.LoadSuccesses != 1 {
		t.Fatalf("LoadSuccesses = %d, want 1", st.LoadSuccesses)
	}
}

// Invalidate during an in-flight load discards the loaded value: the
// key stays absent after the flight completes.
func TestCache_InvalidateDiscardsLoadResult(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})

	c := New[string, string](Options[string, string]{
		Capacity: 8,
		Loader: func(_ context.Context, _ string) (string, error) {
			close(entered)
			<-release
			return "loaded", nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	done := make(chan struct{})
	go func() {
		_, _ = c.GetOrLoad(context.Background(), "k")
		close(done)
	}()

	<-entered
	c.Invalidate("k")
	close(release)
	<-done

	if _, ok := c.GetIfPresent("k"); ok {
		t.Fatal("invalidated key must stay absent after the load completes")
	}
}

// While a load is in flight there is no phantom entry: passive reads
// miss and the map view does not observe the key.
func TestCache_NoPhantomDuringLoad(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})

	c := New[string, string](Options[string, string]{
		Capacity: 8,
		Loader: func(_ context.Context, _ string) (string, error) {
			close(entered)
			<-release
			return "loaded", nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	done := make(chan struct{})
	go func() {
		_, _ = c.GetOrLoad(context.Background(), "k")
		close(done)
	}()

	<-entered
	if _, ok := c.GetIfPresent("k"); ok {
		t.Fatal("in-flight key must not be visible to GetIfPresent")
	}
	seen := false
	c.AsMap().Range(func(k string, _ string) bool {
		if k == "k" {
			seen = true
		}
		return true
	})
	if seen {
		t.Fatal("in-flight key must not be visible to Range")
	}
	close(release)
	<-done

	if v, ok := c.GetIfPresent("k"); !ok || v != "loaded" {
		t.Fatalf("post-flight GetIfPresent = %q ok=%v, want loaded", v, ok)
	}
}

// A follower whose context is cancelled abandons the wait; the flight
// itself keeps running and installs the value.
func TestCache_Load_FollowerCancel(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})

	c := New[string, string](Options[string, string]{
		Capacity: 8,
		Loader: func(_ context.Context, _ string) (string, error) {
			close(entered)
			<-release
			return "loaded", nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	leaderDone := make(chan struct{})
	go func() {
		_, _ = c.GetOrLoad(context.Background(), "k")
		close(leaderDone)
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	followerDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctx, "k")
		followerDone <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-followerDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("follower err = %v, want context.Canceled", err)
	}

	close(release)
	<-leaderDone
	if v, ok := c.GetIfPresent("k"); !ok || v != "loaded" {
		t.Fatalf("the flight must still install the value, got %q ok=%v", v, ok)
	}
}

// A panicking loader must not wedge its key: the panic reaches the
// caller, the in-flight marker is dropped, and the next request starts
// a fresh load.
func TestCache_Load_PanicDoesNotWedgeKey(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 8})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	recovered := func() (r any) {
		defer func() { r = recover() }()
		_, _ = c.Get(ctx, "k", func(context.Context, string) (int, error) {
			panic("loader exploded")
		})
		return nil
	}()
	if recovered == nil {
		t.Fatal("the loader's panic must propagate to the calling goroutine")
	}

	// The key recovers: a fresh loader runs and installs.
	v, err := c.Get(ctx, "k", func(context.Context, string) (int, error) { return 9, nil })
	if err != nil || v != 9 {
		t.Fatalf("post-panic Get = %v, %v; want 9, nil", v, err)
	}
	if st := c.Stats(); st.LoadExceptions != 1 || st.LoadSuccesses != 1 {
		t.Fatalf("stats = %+v, want 1 exception and 1 success", st)
	}
}

// Followers coalesced onto a panicking leader observe a load failure
// instead of hanging or receiving a foreign panic.
func TestCache_Load_PanicFanOut(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})

	c := New[string, int](Options[string, int]{
		Capacity: 8,
		Loader: func(_ context.Context, _ string) (int, error) {
			close(entered)
			<-release
			panic("boom")
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	leaderDone := make(chan any, 1)
	go func() {
		defer func() { leaderDone <- recover() }()
		_, _ = c.GetOrLoad(context.Background(), "k")
	}()
	<-entered

	followerDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(context.Background(), "k")
		followerDone <- err
	}()
	time.Sleep(10 * time.Millisecond) // let the follower join the flight
	close(release)

	if r := <-leaderDone; r == nil {
		t.Fatal("the leader must re-panic")
	}
	err := <-followerDone
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("follower err %T (%v) is not *LoadError", err, err)
	}

	// Nothing was cached and the key is usable again.
	if _, ok := c.GetIfPresent("k"); ok {
		t.Fatal("a panicking load must not install a value")
	}
	v, err := c.Get(context.Background(), "k", func(context.Context, string) (int, error) {
		return 5, nil
	})
	if err != nil || v != 5 {
		t.Fatalf("recovery Get = %v, %v; want 5, nil", v, err)
	}
}

// GetOrLoad on a closed cache fails with ErrClosed.
func TestCache_GetOrLoad_Closed(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{
		Capacity: 8,
		Loader:   func(context.Context, string) (int, error) { return 1, nil },
	})
	_ = c.Close()

	if _, err := c.GetOrLoad(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
