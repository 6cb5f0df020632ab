// Package metrics is an event-driven tap: it observes the same events
// every consensus task already publishes (QC/TC formation, commits, view
// changes) and periodically logs summary statistics, rather than
// intercepting or altering any task's behavior. Grounded on
// TTorgersen-Hotstuff_Repbased_Leader/metrics/clientlatency.go's
// ClientLatency, which does the same thing for one event
// (LatencyMeasurementEvent) on a tick-driven report cadence; generalized
// here from the client-latency-only original to QC/TC formation counts,
// commit count and latency, and view duration (commit depth is not
// tracked). The online mean/variance accumulator (a Welford running
// accumulator) is hand-rolled: no statistics library appears in any
// example's go.mod, and the algorithm is a few lines long enough that
// reaching for a dependency for it would be its own kind of over-import.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/modules"
)

// welford is an online mean/variance accumulator (Welford's algorithm),
// matching the corpus's clientlatency.go Welford usage without needing
// to buffer every sample.
type welford struct {
	n    int
	mean float64
	m2   float64
}

func (w *welford) update(x float64) {
	w.n++
	d := x - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (x - w.mean)
}

func (w *welford) get() (mean, variance float64) {
	if w.n == 0 {
		return 0, 0
	}
	if w.n < 2 {
		return w.mean, 0
	}
	return w.mean, w.m2 / float64(w.n-1)
}

// Metrics counts QC/TC formation, commit latency, and view duration,
// logging a summary on every TickEvent.
type Metrics struct {
	loop   *eventloop.EventLoop
	opts   *modules.Options
	logger logging.Logger

	mut            sync.Mutex
	qcCount        uint64
	tcCount        uint64
	commitCount    uint64
	commitLatency  welford
	viewDuration   welford
	lastViewChange time.Time
}

// New returns an unwired Metrics module.
func New() *Metrics { return &Metrics{} }

func (m *Metrics) InitModule(mods *modules.Core) {
	mods.Get(&m.loop, &m.opts, &m.logger)

	m.loop.RegisterObserver(hotshot.QCFormedEvent{}, func(event any) {
		m.mut.Lock()
		m.qcCount++
		m.mut.Unlock()
	})
	m.loop.RegisterObserver(hotshot.TCFormedEvent{}, func(event any) {
		m.mut.Lock()
		m.tcCount++
		m.mut.Unlock()
	})
	m.loop.RegisterObserver(hotshot.CommitEvent{}, func(event any) {
		c := event.(hotshot.CommitEvent)
		m.mut.Lock()
		m.commitCount++
		m.commitLatency.update(float64(c.Latency) / float64(time.Millisecond))
		m.mut.Unlock()
	})
	m.loop.RegisterObserver(hotshot.ViewChangeEvent{}, func(event any) {
		now := time.Now()
		m.mut.Lock()
		if !m.lastViewChange.IsZero() {
			m.viewDuration.update(float64(now.Sub(m.lastViewChange)) / float64(time.Millisecond))
		}
		m.lastViewChange = now
		m.mut.Unlock()
	})
	m.loop.RegisterObserver(hotshot.TickEvent{}, func(event any) {
		m.report()
	})

	m.logger.Info("metrics: tap enabled")
}

func (m *Metrics) report() {
	m.mut.Lock()
	qc, tc, commits := m.qcCount, m.tcCount, m.commitCount
	commitMean, commitVar := m.commitLatency.get()
	viewMean, viewVar := m.viewDuration.get()
	m.mut.Unlock()

	m.logger.Infof(
		"metrics: replica=%d qc_formed=%d tc_formed=%d commits=%d commit_latency_ms=%.2f±%.2f view_duration_ms=%.2f±%.2f",
		m.opts.ID(), qc, tc, commits, commitMean, math.Sqrt(commitVar), viewMean, math.Sqrt(viewVar),
	)
}

var _ modules.Module = (*Metrics)(nil)
