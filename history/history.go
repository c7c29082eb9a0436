package history

import (
	"sync"

	"github.com/signalsfoundry/chirp-ranging/ranging"
)

// DefaultSmoothingAlpha is the EMA weight applied to each new distance
// sample; ranging counts are noisy tick quantities, so the smoothed value
// is what UIs should display.
const DefaultSmoothingAlpha = 0.3

// Log is a thread-safe ring of recent measurements with an EMA-smoothed
// distance and subscriber callbacks. The ranging session is the only
// writer; UIs and the HTTP surface read snapshots.
type Log struct {
	mu       sync.RWMutex
	ring     []ranging.Measurement
	next     int
	filled   bool
	total    uint64
	smoothed float64
	alpha    float64

	subs    map[uint64]func(ranging.Measurement)
	nextSub uint64
}

// NewLog constructs a log holding the most recent capacity measurements.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{
		ring:  make([]ranging.Measurement, capacity),
		alpha: DefaultSmoothingAlpha,
		subs:  make(map[uint64]func(ranging.Measurement)),
	}
}

// SetSmoothingAlpha overrides the EMA weight. Values outside (0,1] are
// ignored.
func (l *Log) SetSmoothingAlpha(alpha float64) {
	if alpha <= 0 || alpha > 1 {
		return
	}
	l.mu.Lock()
	l.alpha = alpha
	l.mu.Unlock()
}

// Append records a measurement, updates the smoothed distance and notifies
// subscribers. Subscribers run outside the lock.
func (l *Log) Append(m ranging.Measurement) {
	l.mu.Lock()
	l.ring[l.next] = m
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.filled = true
	}
	if l.total == 0 {
		l.smoothed = m.DistanceMeters
	} else {
		l.smoothed = l.smoothed*(1-l.alpha) + m.DistanceMeters*l.alpha
	}
	l.total++
	subs := make([]func(ranging.Measurement), 0, len(l.subs))
	for _, sub := range l.subs {
		subs = append(subs, sub)
	}
	l.mu.Unlock()

	for _, sub := range subs {
		sub(m)
	}
}

// Snapshot returns the retained measurements, newest first.
func (l *Log) Snapshot() []ranging.Measurement {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.filled {
		n = len(l.ring)
	}
	out := make([]ranging.Measurement, 0, n)
	for i := 0; i < n; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.ring)
		}
		out = append(out, l.ring[idx])
	}
	return out
}

// SmoothedDistance returns the EMA-smoothed distance in metres; ok is
// false before the first measurement.
func (l *Log) SmoothedDistance() (meters float64, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.smoothed, l.total > 0
}

// Total is the lifetime count of appended measurements, including ones the
// ring has already evicted.
func (l *Log) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Subscribe registers a callback invoked for every appended measurement.
// It returns an unsubscribe function. Subscribers are keyed by id so that
// unsubscribing one never disturbs the others.
func (l *Log) Subscribe(fn func(ranging.Measurement)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}
}
