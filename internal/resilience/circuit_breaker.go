package resilience

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker is an adaptive sliding-window failure-rate breaker,
// adapted from libs/go/core/resilience/circuit_breaker.go: fixed time
// buckets of success/failure counts, a dynamic threshold that smooths
// toward the observed failure rate, and a half-open probe after
// openDuration elapses.
type CircuitBreaker struct {
	mu sync.Mutex

	state       breakerState
	openedAt    time.Time
	openDuration time.Duration

	windowSize time.Duration
	buckets    map[int64]*bucket

	failureThreshold float64
	dynamicThreshold float64
	minSamples       int
}

type bucket struct {
	successes int
	failures  int
}

// NewCircuitBreaker constructs a breaker that opens once the windowed
// failure rate exceeds failureThreshold (after at least minSamples
// observations) and probes again after openDuration.
func NewCircuitBreaker(windowSize, openDuration time.Duration, failureThreshold float64, minSamples int) *CircuitBreaker {
	return &CircuitBreaker{
		windowSize:       windowSize,
		openDuration:     openDuration,
		buckets:          make(map[int64]*bucket),
		failureThreshold: failureThreshold,
		dynamicThreshold: failureThreshold,
		minSamples:       minSamples,
	}
}

// Allow reports whether a call should proceed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) >= b.openDuration {
			b.state = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordResult feeds the outcome of the most recent Allow()'d call back into
// the sliding window, possibly opening or closing the breaker.
func (b *CircuitBreaker) RecordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	key := now.Unix() / int64(b.windowSize.Seconds()+1)
	buck, ok := b.buckets[key]
	if !ok {
		buck = &bucket{}
		b.buckets[key] = buck
	}
	if success {
		buck.successes++
	} else {
		buck.failures++
	}
	b.evictOldLocked(now)

	if b.state == stateHalfOpen {
		if success {
			b.state = stateClosed
		} else {
			b.state = stateOpen
			b.openedAt = now
		}
		return
	}

	total, failures := b.windowTotalsLocked()
	if total < b.minSamples {
		return
	}
	rate := float64(failures) / float64(total)
	// Smooth the dynamic threshold toward the observed rate so a
	// persistently flaky dependency doesn't flap the breaker every window.
	b.dynamicThreshold = 0.8*b.dynamicThreshold + 0.2*rate

	if rate > b.dynamicThreshold && b.state == stateClosed {
		b.state = stateOpen
		b.openedAt = now
	}
}

func (b *CircuitBreaker) windowTotalsLocked() (total, failures int) {
	for _, buck := range b.buckets {
		total += buck.successes + buck.failures
		failures += buck.failures
	}
	return
}

func (b *CircuitBreaker) evictOldLocked(now time.Time) {
	cutoff := now.Add(-b.windowSize).Unix() / int64(b.windowSize.Seconds()+1)
	for key := range b.buckets {
		if key < cutoff {
			delete(b.buckets, key)
		}
	}
}
