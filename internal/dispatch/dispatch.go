// Package dispatch implements the fallback dispatcher: providers are tried
// in ranked order with bounded retry rounds, stats drive the ranking, and
// call outcomes are published on the event bus.
package dispatch

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cogitohq/cogito/internal/events"
	"github.com/cogitohq/cogito/internal/metrics"
	cogitoerrors "github.com/cogitohq/cogito/pkg/errors"
	"github.com/cogitohq/cogito/pkg/provider"
	"github.com/cogitohq/cogito/pkg/types"
)

// ProviderStats tracks per-provider outcome counters. Counters are monotone;
// the response time is a running mean over successes only.
type ProviderStats struct {
	Successes       int64         `json:"successes"`
	Failures        int64         `json:"failures"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastSuccess     time.Time     `json:"last_success"`
}

// SuccessRate returns successes/(successes+failures), or 1 when no calls
// have completed yet so new providers rank ahead of failing ones.
func (s *ProviderStats) SuccessRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 1
	}
	return float64(s.Successes) / float64(total)
}

// Dispatcher routes requests across registered providers.
type Dispatcher struct {
	mu        sync.RWMutex
	providers map[string]provider.Descriptor
	stats     map[string]*ProviderStats
	ranked    []string

	maxRetries int
	bus        *events.Bus
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

// Options configures the dispatcher.
type Options struct {
	MaxRetries int
	Bus        *events.Bus
	Logger     *slog.Logger
}

// New creates an empty dispatcher.
func New(opts Options) *Dispatcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		providers:  make(map[string]provider.Descriptor),
		stats:      make(map[string]*ProviderStats),
		maxRetries: opts.MaxRetries,
		bus:        opts.Bus,
		logger:     opts.Logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Register adds a provider. A duplicate name replaces the previous
// registration and resets its stats.
func (d *Dispatcher) Register(desc provider.Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.providers[desc.Name]; exists {
		d.logger.Warn("replacing registered provider", "provider", desc.Name)
	} else {
		d.ranked = append(d.ranked, desc.Name)
	}
	d.providers[desc.Name] = desc
	d.stats[desc.Name] = &ProviderStats{}
	d.rerankLocked()
}

// Unregister removes a provider and its stats.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.providers, name)
	delete(d.stats, name)
	for i, n := range d.ranked {
		if n == name {
			d.ranked = append(d.ranked[:i], d.ranked[i+1:]...)
			break
		}
	}
}

// Rerank recomputes the provider order immediately.
func (d *Dispatcher) Rerank() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rerankLocked()
}

// rerankLocked sorts by priority, then success rate, then weight, all
// descending. Stable so equal providers keep registration order.
func (d *Dispatcher) rerankLocked() {
	sort.SliceStable(d.ranked, func(i, j int) bool {
		a, b := d.providers[d.ranked[i]], d.providers[d.ranked[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ra, rb := d.stats[a.Name].SuccessRate(), d.stats[b.Name].SuccessRate()
		if ra != rb {
			return ra > rb
		}
		return a.Weight > b.Weight
	})
}

// Ranked returns the current provider order.
func (d *Dispatcher) Ranked() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.ranked...)
}

// Stats returns a copy of the stats for one provider.
func (d *Dispatcher) Stats(name string) (ProviderStats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.stats[name]
	if !ok {
		return ProviderStats{}, false
	}
	return *s, true
}

// AllStats returns a snapshot of every provider's stats.
func (d *Dispatcher) AllStats() map[string]ProviderStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ProviderStats, len(d.stats))
	for name, s := range d.stats {
		out[name] = *s
	}
	return out
}

// Dispatch tries providers in ranked order across retry rounds. Rounds are
// separated by an exponential backoff and a fresh ranking. Failure of every
// round yields AllProvidersFailedError with the last error observed.
func (d *Dispatcher) Dispatch(ctx context.Context, req *types.LLMRequest) (*types.LLMResponse, error) {
	var lastErr error
	attempts := 0

	for round := 0; round < d.maxRetries; round++ {
		if ctx.Err() != nil {
			break
		}

		for _, name := range d.Ranked() {
			d.mu.RLock()
			desc, ok := d.providers[name]
			d.mu.RUnlock()
			if !ok {
				continue
			}

			resp, err := d.callProvider(ctx, desc, req)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			attempts++

			if ctx.Err() != nil {
				return nil, &cogitoerrors.AllProvidersFailedError{Attempts: attempts, LastErr: lastErr}
			}
		}

		if round < d.maxRetries-1 {
			d.sleep(ctx, time.Duration(math.Pow(2, float64(round)))*time.Second)
			d.Rerank()
		}
	}

	return nil, &cogitoerrors.AllProvidersFailedError{Attempts: attempts, LastErr: lastErr}
}

// callProvider races one provider call against the tighter of its own
// timeout and the remaining request deadline, then updates stats.
func (d *Dispatcher) callProvider(ctx context.Context, desc provider.Descriptor, req *types.LLMRequest) (*types.LLMResponse, error) {
	callCtx := ctx
	timeout := desc.MaxTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := desc.Client.Query(callCtx, req)
	elapsed := time.Since(start)

	if err == nil {
		d.recordSuccess(desc.Name, elapsed)
		metrics.ProviderRequests.WithLabelValues(desc.Name, "success").Inc()
		d.bus.Publish(events.Event{
			Kind:    events.KindQuerySuccess,
			Service: desc.Name,
			Payload: resp.Usage.TotalTokens,
		})
		return resp, nil
	}

	// Auth and other authoritative rejections move on to the next provider
	// without tanking the provider's success rate.
	if cogitoerrors.IsRetryable(err) {
		d.recordFailure(desc.Name)
	}
	metrics.ProviderRequests.WithLabelValues(desc.Name, "error").Inc()
	d.bus.Publish(events.Event{
		Kind:    events.KindQueryError,
		Service: desc.Name,
		Payload: cogitoerrors.ErrorType(err),
	})
	d.logger.Debug("provider call failed",
		"provider", desc.Name, "error", err, "elapsed", elapsed)
	return nil, err
}

func (d *Dispatcher) recordSuccess(name string, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stats[name]
	if !ok {
		return
	}
	s.Successes++
	// Running mean over successes only.
	s.AvgResponseTime += (elapsed - s.AvgResponseTime) / time.Duration(s.Successes)
	s.LastSuccess = time.Now()
}

func (d *Dispatcher) recordFailure(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.stats[name]; ok {
		s.Failures++
	}
}

// StartHealthChecks probes every provider at the given interval until the
// context ends, publishing health updates on the bus.
func (d *Dispatcher) StartHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.probeAll(ctx)
			}
		}
	}()
}

func (d *Dispatcher) probeAll(ctx context.Context) {
	d.mu.RLock()
	descs := make([]provider.Descriptor, 0, len(d.providers))
	for _, desc := range d.providers {
		descs = append(descs, desc)
	}
	d.mu.RUnlock()

	for _, desc := range descs {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := desc.Client.Probe(probeCtx)
		cancel()

		healthy := err == nil
		d.bus.Publish(events.Event{
			Kind:    events.KindHealthUpdate,
			Service: desc.Name,
			Payload: healthy,
		})
		if err != nil {
			d.logger.Warn("provider probe failed", "provider", desc.Name, "error", err)
		}
	}
}
