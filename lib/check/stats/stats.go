// Package stats aggregates the outcome of the data checks of a run: lag
// observations, unexpected results, unexpected exceptions and results that
// could only be explained by a retried operation.
//
// All counters are updated atomically so the aggregator can be shared by
// every exercise thread and check worker of a run. Besides the plain
// counters the aggregator keeps a sampled lag histogram for percentile
// reports and a Prometheus metric set that the status server exposes.
package stats

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("stats")

// maxKeptMessages bounds the number of anomaly messages kept for the report
const maxKeptMessages = 32

// Stats is the lag/result aggregator of a run.
type Stats struct {
	checks               atomic.Int64
	lagCount             atomic.Int64
	lagSum               atomic.Int64
	lagMax               atomic.Int64
	unexpectedResults    atomic.Int64
	unexpectedExceptions atomic.Int64
	otherRetryResults    atomic.Int64

	lagSample gometrics.Histogram

	set             *vmetrics.Set
	vmChecks        *vmetrics.Counter
	vmLag           *vmetrics.Histogram
	vmUnexpected    *vmetrics.Counter
	vmExceptions    *vmetrics.Counter
	vmOtherRetry    *vmetrics.Counter
	messagesMu      sync.Mutex
	messages        []string
	droppedMessages int
}

// New creates an empty aggregator with its own metric set.
func New() *Stats {
	s := &Stats{
		lagSample: gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
		set:       vmetrics.NewSet(),
	}
	s.vmChecks = s.set.NewCounter("dkvcheck_checks_total")
	s.vmLag = s.set.NewHistogram("dkvcheck_lag")
	s.vmUnexpected = s.set.NewCounter("dkvcheck_unexpected_results_total")
	s.vmExceptions = s.set.NewCounter("dkvcheck_unexpected_exceptions_total")
	s.vmOtherRetry = s.set.NewCounter("dkvcheck_other_retry_results_total")
	s.set.NewGauge("dkvcheck_lag_max", func() float64 {
		return float64(s.lagMax.Load())
	})
	return s
}

// --------------------------------------------------------------------------
// Recording
// --------------------------------------------------------------------------

// RecordCheck counts one oracle invocation.
func (s *Stats) RecordCheck() {
	s.checks.Add(1)
	s.vmChecks.Inc()
}

// RecordLag records a lag observation. Non-positive values are ignored.
func (s *Stats) RecordLag(lag int64) {
	if lag <= 0 {
		return
	}
	s.lagCount.Add(1)
	s.lagSum.Add(lag)
	for {
		current := s.lagMax.Load()
		if lag <= current || s.lagMax.CompareAndSwap(current, lag) {
			break
		}
	}
	s.lagSample.Update(lag)
	s.vmLag.Update(float64(lag))
}

// RecordUnexpectedResult records an observed value no legal ordering can
// explain.
func (s *Stats) RecordUnexpectedResult(msg string) {
	s.unexpectedResults.Add(1)
	s.vmUnexpected.Inc()
	Logger.Errorf("unexpected result: %s", msg)
	s.keep("result: " + msg)
}

// RecordUnexpectedException records a store failure that could not be
// retried away.
func (s *Stats) RecordUnexpectedException(err error) {
	s.unexpectedExceptions.Add(1)
	s.vmExceptions.Inc()
	Logger.Errorf("unexpected exception: %v", err)
	s.keep(fmt.Sprintf("exception: %v", err))
}

// RecordOtherRetryResult records a value that is only explainable because
// the operation was retried.
func (s *Stats) RecordOtherRetryResult(msg string) {
	s.otherRetryResults.Add(1)
	s.vmOtherRetry.Inc()
	Logger.Warningf("other retry result: %s", msg)
}

func (s *Stats) keep(msg string) {
	s.messagesMu.Lock()
	defer s.messagesMu.Unlock()
	if len(s.messages) < maxKeptMessages {
		s.messages = append(s.messages, msg)
		return
	}
	s.droppedMessages++
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (s *Stats) CheckCount() int64               { return s.checks.Load() }
func (s *Stats) LagCount() int64                 { return s.lagCount.Load() }
func (s *Stats) LagSum() int64                   { return s.lagSum.Load() }
func (s *Stats) LagMax() int64                   { return s.lagMax.Load() }
func (s *Stats) UnexpectedResultCount() int64    { return s.unexpectedResults.Load() }
func (s *Stats) UnexpectedExceptionCount() int64 { return s.unexpectedExceptions.Load() }
func (s *Stats) OtherRetryResultCount() int64    { return s.otherRetryResults.Load() }

// Passed reports the verdict of the run: no unexpected exceptions and no
// unexpected results.
func (s *Stats) Passed() bool {
	return s.UnexpectedExceptionCount() == 0 && s.UnexpectedResultCount() == 0
}

// Messages returns the kept anomaly messages and the number of messages
// that were dropped because the buffer was full.
func (s *Stats) Messages() ([]string, int) {
	s.messagesMu.Lock()
	defer s.messagesMu.Unlock()
	return append([]string(nil), s.messages...), s.droppedMessages
}

// WritePrometheus writes the metric set in Prometheus text format.
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}
