// Package singleflight coalesces concurrent loads for the same key so
// that the loader runs at most once while every caller observes the
// shared outcome.
package singleflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PanicError wraps a value recovered from a panicking leader fn so that
// followers waiting on the flight fail instead of hanging forever. The
// leader itself re-panics with the same wrapper.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("singleflight: fn panicked: %v", e.Value)
}

// errGoexit reports a leader fn that exited via runtime.Goexit (for
// example t.Fatal inside a test loader) without returning a result.
var errGoexit = errors.New("singleflight: fn exited without returning")

// Group arbitrates in-flight calls per key K. The first caller for a
// key becomes the leader and runs fn; concurrent callers for the same
// key become followers and wait for the leader's result.
//
// Concurrency notes:
//   - Followers wait on c.done. Publishing (val, err) happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - Cancelling ctx in a follower abandons only that follower's wait;
//     it never interrupts the leader's fn. The computation runs to
//     completion so a later request for the key does not redo the work.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
}

// Do runs fn at most once per key across all concurrent callers.
// The leader's ctx is passed through to fn; a follower whose ctx is
// cancelled returns ctx.Err() while the leader keeps running.
//
// A panic in fn is re-raised on the leader's goroutine after followers
// have been released with a *PanicError; the flight is unregistered
// either way, so the next request for the key starts fresh.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(ctx context.Context) (V, error)) (V, error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		// Follower: an in-flight call exists, wait (respecting ctx).
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.val, c.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	// Leader for this key.
	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// Publish and unregister no matter how fn ends — normal return,
	// panic, or runtime.Goexit. A follower must never wait on a flight
	// whose leader is gone.
	defer func() {
		close(c.done)
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
	}()

	// fn must run outside the group lock: it may be arbitrarily slow.
	var panicked bool
	normal := false
	func() {
		defer func() {
			if normal {
				return
			}
			if r := recover(); r != nil {
				panicked = true
				c.err = &PanicError{Value: r}
				return
			}
			// runtime.Goexit: nothing to re-raise, the flight just
			// fails. The deferred cleanup above still runs as the
			// goroutine unwinds.
			c.err = errGoexit
		}()
		c.val, c.err = fn(ctx)
		normal = true
	}()

	if panicked {
		panic(c.err)
	}
	return c.val, c.err
}
