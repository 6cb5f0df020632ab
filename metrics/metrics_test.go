package metrics_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/eventloop"
	"github.com/hkey0/HotShot/logging"
	"github.com/hkey0/HotShot/metrics"
	"github.com/hkey0/HotShot/modules"
)

// recordingLogger captures every formatted Infof line so tests can assert
// on the report's content without depending on a real sink.
type recordingLogger struct {
	mut   sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(args ...any)                 {}
func (l *recordingLogger) Debugf(format string, args ...any) {}
func (l *recordingLogger) Info(args ...any)                  {}
func (l *recordingLogger) Infof(format string, args ...any) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}
func (l *recordingLogger) Warn(args ...any)                  {}
func (l *recordingLogger) Warnf(format string, args ...any)  {}
func (l *recordingLogger) Error(args ...any)                 {}
func (l *recordingLogger) Errorf(format string, args ...any) {}
func (l *recordingLogger) Panic(args ...any)                 {}
func (l *recordingLogger) Panicf(format string, args ...any) {}
func (l *recordingLogger) Named(name string) logging.Logger  { return l }
func (l *recordingLogger) Sync() error                       { return nil }

func (l *recordingLogger) last() string {
	l.mut.Lock()
	defer l.mut.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	return l.lines[len(l.lines)-1]
}

var _ logging.Logger = (*recordingLogger)(nil)

func newMetrics(t *testing.T) (*metrics.Metrics, *eventloop.EventLoop, *recordingLogger) {
	t.Helper()
	loop := eventloop.New(16)
	logger := &recordingLogger{}
	core := modules.NewCore()
	m := metrics.New()
	core.Register(m, loop, modules.NewOptions(7), logger)
	core.Build()
	return m, loop, logger
}

func TestReportIncludesReplicaIDAndZeroedCounters(t *testing.T) {
	_, loop, logger := newMetrics(t)

	loop.AddEvent(hotshot.TickEvent{})
	require.True(t, loop.Tick())

	line := logger.last()
	assert.Contains(t, line, "replica=7")
	assert.Contains(t, line, "qc_formed=0")
	assert.Contains(t, line, "tc_formed=0")
	assert.Contains(t, line, "commits=0")
}

func TestReportCountsQCAndTCFormation(t *testing.T) {
	_, loop, logger := newMetrics(t)

	loop.AddEvent(hotshot.QCFormedEvent{QC: hotshot.GenesisQC()})
	loop.AddEvent(hotshot.QCFormedEvent{QC: hotshot.GenesisQC()})
	loop.AddEvent(hotshot.TCFormedEvent{TC: hotshot.NewTimeoutCert(1, 0, nil, hotshot.NewIDSet(0))})
	for i := 0; i < 3; i++ {
		loop.Tick()
	}

	loop.AddEvent(hotshot.TickEvent{})
	loop.Tick()

	line := logger.last()
	assert.True(t, strings.Contains(line, "qc_formed=2"))
	assert.True(t, strings.Contains(line, "tc_formed=1"))
}

func TestReportCountsCommitsAndLatency(t *testing.T) {
	_, loop, logger := newMetrics(t)

	loop.AddEvent(hotshot.CommitEvent{Block: hotshot.GetGenesis(), Latency: 0})
	loop.Tick()
	loop.AddEvent(hotshot.TickEvent{})
	loop.Tick()

	assert.Contains(t, logger.last(), "commits=1")
	assert.Contains(t, logger.last(), "commit_latency_ms=0.00±0.00")
}

func TestReportTracksViewDurationAfterSecondChange(t *testing.T) {
	_, loop, logger := newMetrics(t)

	loop.AddEvent(hotshot.ViewChangeEvent{View: 1})
	loop.Tick()
	loop.AddEvent(hotshot.ViewChangeEvent{View: 2})
	loop.Tick()

	loop.AddEvent(hotshot.TickEvent{})
	loop.Tick()

	assert.Contains(t, logger.last(), "view_duration_ms=")
}
