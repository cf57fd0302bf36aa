package cache

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// notifyBuffer bounds the pending removal queue. Overflow drops the
// notification: delivery is best-effort and must never block an
// evicting goroutine.
const notifyBuffer = 1024

type removal[K comparable, V any] struct {
	key   K
	val   V
	cause RemovalCause
}

// notifier delivers removal notifications on a dedicated goroutine so
// the listener never runs under a shard lock and cannot stall the
// request path.
type notifier[K comparable, V any] struct {
	fn     RemovalListener[K, V]
	logger log.Logger

	ch   chan removal[K, V]
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newNotifier[K comparable, V any](fn RemovalListener[K, V], logger log.Logger) *notifier[K, V] {
	n := &notifier[K, V]{
		fn:     fn,
		logger: logger,
		ch:     make(chan removal[K, V], notifyBuffer),
		stop:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// enqueue hands off a removal without blocking. Shards call this while
// holding their lock, so a full queue drops the notification instead of
// waiting.
func (n *notifier[K, V]) enqueue(k K, v V, cause RemovalCause) {
	select {
	case n.ch <- removal[K, V]{key: k, val: v, cause: cause}:
	default:
		level.Debug(n.logger).Log("msg", "removal notification dropped", "cause", cause)
	}
}

func (n *notifier[K, V]) run() {
	defer n.wg.Done()
	for {
		select {
		case r := <-n.ch:
			n.deliver(r)
		case <-n.stop:
			// Drain what is already queued, then exit.
			for {
				select {
				case r := <-n.ch:
					n.deliver(r)
				default:
					return
				}
			}
		}
	}
}

// deliver shields the cache from a panicking listener.
func (n *notifier[K, V]) deliver(r removal[K, V]) {
	defer func() {
		if p := recover(); p != nil {
			level.Error(n.logger).Log("msg", "removal listener panicked", "panic", p)
		}
	}()
	n.fn(r.key, r.val, r.cause)
}

// close stops the dispatcher after draining queued notifications.
// Idempotent.
func (n *notifier[K, V]) close() {
	n.once.Do(func() { close(n.stop) })
	n.wg.Wait()
}
