package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// LimiterStats is a snapshot of limiter activity
type LimiterStats struct {
	TotalAcquired   int64
	TotalReleased   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter bounds the number of concurrently running worker tasks
type Limiter struct {
	sem     chan struct{}
	active  atomic.Int64
	breaker *CircuitBreaker

	acquired  atomic.Int64
	released  atomic.Int64
	peak      atomic.Int64
	waitTotal atomic.Int64
}

// NewLimiter creates a limiter with the specified maximum concurrent operations.
// breaker may be nil.
func NewLimiter(maxConcurrent int, breaker *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:     make(chan struct{}, maxConcurrent),
		breaker: breaker,
	}
}

// Acquire waits for a free slot. It fails if ctx ends first or the circuit
// breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.breaker.Allow(); err != nil {
		return err
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		l.waitTotal.Add(time.Since(start).Nanoseconds())
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the limiter
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
	}
}

// Record forwards the outcome of an operation to the circuit breaker
func (l *Limiter) Record(err error) {
	if l.breaker != nil {
		l.breaker.Record(err)
	}
}

// Capacity returns the maximum number of concurrent slots
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// CurrentActive returns the number of held slots
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// Stats returns a snapshot of the limiter counters
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		TotalAcquired:   l.acquired.Load(),
		TotalReleased:   l.released.Load(),
		PeakConcurrent:  l.peak.Load(),
		TotalWaitTimeNs: l.waitTotal.Load(),
	}
}

// AverageWaitTime calculates the average wait time for acquiring a slot
func (l *Limiter) AverageWaitTime() time.Duration {
	stats := l.Stats()
	if stats.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(stats.TotalWaitTimeNs / stats.TotalAcquired)
}

// BreakerState returns the state of the attached circuit breaker
func (l *Limiter) BreakerState() CircuitBreakerState {
	return l.breaker.State()
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
