// Package queue implements the per-provider request queue: FIFO admission,
// bounded concurrency, inter-dispatch rate spacing, per-item deadlines with
// a janitor for stale waiters, and bounded retry with backoff.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cogitohq/cogito/internal/metrics"
	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/types"
)

// Task is one unit of queued work.
type Task func(ctx context.Context) (*types.LLMResponse, error)

// Options configures the queue.
type Options struct {
	MaxConcurrent   int           // workers per provider lane
	RateLimitDelay  time.Duration // spacing between dispatches per lane
	RequestTimeout  time.Duration // per-item deadline
	MaxRetries      int           // retry budget for retryable errors
	RetryBaseDelay  time.Duration // first retry backoff, doubled per retry
	MaxQueueSize    int           // per-lane high-water mark
	JanitorInterval time.Duration
	Logger          *slog.Logger
}

func (o *Options) fill() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 3
	}
	if o.RateLimitDelay <= 0 {
		o.RateLimitDelay = 100 * time.Millisecond
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 100 * time.Millisecond
	}
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = 100
	}
	if o.JanitorInterval <= 0 {
		o.JanitorInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type result struct {
	resp *types.LLMResponse
	err  error
}

// item is one queued request. The taken flag arbitrates between the worker,
// the janitor, and an abandoning submitter; whoever claims it delivers.
type item struct {
	fn       Task
	deadline time.Time
	retries  int
	done     chan result
	taken    atomic.Bool
}

func (it *item) deliver(resp *types.LLMResponse, err error) {
	it.done <- result{resp: resp, err: err}
}

// lane is one provider's FIFO queue plus its workers and rate limiter.
type lane struct {
	name    string
	ch      chan *item
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[*item]struct{}
}

func (l *lane) remember(it *item) {
	l.mu.Lock()
	l.pending[it] = struct{}{}
	l.mu.Unlock()
	metrics.QueueDepth.WithLabelValues(l.name).Set(float64(l.depth()))
}

func (l *lane) forget(it *item) {
	l.mu.Lock()
	delete(l.pending, it)
	l.mu.Unlock()
	metrics.QueueDepth.WithLabelValues(l.name).Set(float64(l.depth()))
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Queue manages per-provider lanes. Safe for concurrent use.
type Queue struct {
	opts Options

	mu    sync.RWMutex
	lanes map[string]*lane

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue and starts its janitor.
func New(opts Options) *Queue {
	opts.fill()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:   opts,
		lanes:  make(map[string]*lane),
		ctx:    ctx,
		cancel: cancel,
	}

	q.wg.Add(1)
	go q.janitor()
	return q
}

// Close stops all workers and the janitor. Queued items are abandoned.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}

// Submit enqueues a task for the provider and blocks until it resolves or
// the context ends. A full lane blocks admission.
func (q *Queue) Submit(ctx context.Context, providerName string, fn Task) (*types.LLMResponse, error) {
	return q.submit(ctx, providerName, fn, true)
}

// TrySubmit is Submit without backpressure blocking: a full lane rejects
// immediately with a queue-full error.
func (q *Queue) TrySubmit(ctx context.Context, providerName string, fn Task) (*types.LLMResponse, error) {
	return q.submit(ctx, providerName, fn, false)
}

func (q *Queue) submit(ctx context.Context, providerName string, fn Task, block bool) (*types.LLMResponse, error) {
	l := q.laneFor(providerName)

	it := &item{
		fn:       fn,
		deadline: time.Now().Add(q.opts.RequestTimeout),
		done:     make(chan result, 1),
	}
	if d, ok := ctx.Deadline(); ok && d.Before(it.deadline) {
		it.deadline = d
	}

	l.remember(it)
	if block {
		select {
		case l.ch <- it:
		case <-ctx.Done():
			l.forget(it)
			return nil, ctx.Err()
		case <-q.ctx.Done():
			l.forget(it)
			return nil, fmt.Errorf("queue is shut down")
		}
	} else {
		select {
		case l.ch <- it:
		default:
			l.forget(it)
			metrics.QueueRejected.WithLabelValues(providerName, "backpressure").Inc()
			return nil, cogitoerrors.ErrQueueFull
		}
	}

	select {
	case r := <-it.done:
		return r.resp, r.err
	case <-ctx.Done():
		if it.taken.CompareAndSwap(false, true) {
			// Still waiting; abandon it before a worker picks it up.
			l.forget(it)
			return nil, ctx.Err()
		}
		// Already running; the result is imminent.
		r := <-it.done
		return r.resp, r.err
	}
}

func (q *Queue) laneFor(name string) *lane {
	q.mu.RLock()
	l, ok := q.lanes[name]
	q.mu.RUnlock()
	if ok {
		return l
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok = q.lanes[name]; ok {
		return l
	}

	l = &lane{
		name:    name,
		ch:      make(chan *item, q.opts.MaxQueueSize),
		limiter: rate.NewLimiter(rate.Every(q.opts.RateLimitDelay), 1),
		pending: make(map[*item]struct{}),
	}
	q.lanes[name] = l

	for i := 0; i < q.opts.MaxConcurrent; i++ {
		q.wg.Add(1)
		go q.worker(l)
	}
	return l
}

func (q *Queue) worker(l *lane) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case it := <-l.ch:
			if !it.taken.CompareAndSwap(false, true) {
				// Janitor or submitter already resolved it.
				continue
			}
			l.forget(it)

			if time.Now().After(it.deadline) {
				metrics.QueueRejected.WithLabelValues(l.name, "deadline").Inc()
				it.deliver(nil, cogitoerrors.NewTimeoutError(l.name, "", "deadline elapsed in queue"))
				continue
			}

			if err := l.limiter.Wait(q.ctx); err != nil {
				it.deliver(nil, err)
				return
			}

			q.run(l, it)
		}
	}
}

func (q *Queue) run(l *lane, it *item) {
	runCtx, cancel := context.WithDeadline(q.ctx, it.deadline)
	resp, err := it.fn(runCtx)
	cancel()

	if err != nil && cogitoerrors.IsRetryable(err) && it.retries < q.opts.MaxRetries &&
		time.Now().Before(it.deadline) {
		it.retries++
		backoff := q.opts.RetryBaseDelay * (1 << (it.retries - 1))
		q.opts.Logger.Debug("requeueing after retryable failure",
			"provider", l.name, "retry", it.retries, "backoff", backoff)

		it.taken.Store(false)
		l.remember(it)
		lastErr := err
		time.AfterFunc(backoff, func() {
			select {
			case l.ch <- it: // retries join the tail
			default:
				if it.taken.CompareAndSwap(false, true) {
					l.forget(it)
					metrics.QueueRejected.WithLabelValues(l.name, "backpressure").Inc()
					it.deliver(nil, lastErr)
				}
			}
		})
		return
	}

	it.deliver(resp, err)
}

// janitor periodically rejects items whose deadline elapsed while queued.
func (q *Queue) janitor() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

func (q *Queue) sweep() {
	now := time.Now()

	q.mu.RLock()
	lanes := make([]*lane, 0, len(q.lanes))
	for _, l := range q.lanes {
		lanes = append(lanes, l)
	}
	q.mu.RUnlock()

	for _, l := range lanes {
		l.mu.Lock()
		var expired []*item
		for it := range l.pending {
			if now.After(it.deadline) {
				expired = append(expired, it)
			}
		}
		l.mu.Unlock()

		for _, it := range expired {
			if it.taken.CompareAndSwap(false, true) {
				l.forget(it)
				metrics.QueueRejected.WithLabelValues(l.name, "deadline").Inc()
				it.deliver(nil, cogitoerrors.NewTimeoutError(l.name, "", "deadline elapsed in queue"))
			}
		}
	}
}

// Depth reports the number of waiting items for one provider.
func (q *Queue) Depth(providerName string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if l, ok := q.lanes[providerName]; ok {
		return l.depth()
	}
	return 0
}
