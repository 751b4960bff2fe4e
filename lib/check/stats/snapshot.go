package stats

import (
	"fmt"
	"strings"
)

// Snapshot is a point in time copy of the aggregator, used for the status
// endpoint and the final report.
type Snapshot struct {
	Checks               int64   `json:"checks"`
	LagCount             int64   `json:"lag_count"`
	LagSum               int64   `json:"lag_sum"`
	LagMax               int64   `json:"lag_max"`
	LagMean              float64 `json:"lag_mean"`
	LagP50               float64 `json:"lag_p50"`
	LagP99               float64 `json:"lag_p99"`
	UnexpectedResults    int64   `json:"unexpected_results"`
	UnexpectedExceptions int64   `json:"unexpected_exceptions"`
	OtherRetryResults    int64   `json:"other_retry_results"`
	Passed               bool    `json:"passed"`
}

// Snapshot copies the current counters. The lag percentiles are estimated
// from an exponentially decaying sample of the recorded lags.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Checks:               s.CheckCount(),
		LagCount:             s.LagCount(),
		LagSum:               s.LagSum(),
		LagMax:               s.LagMax(),
		UnexpectedResults:    s.UnexpectedResultCount(),
		UnexpectedExceptions: s.UnexpectedExceptionCount(),
		OtherRetryResults:    s.OtherRetryResultCount(),
	}
	snap.Passed = snap.UnexpectedResults == 0 && snap.UnexpectedExceptions == 0
	if snap.LagCount > 0 {
		snap.LagMean = float64(snap.LagSum) / float64(snap.LagCount)
		ps := s.lagSample.Percentiles([]float64{0.5, 0.99})
		snap.LagP50, snap.LagP99 = ps[0], ps[1]
	}
	return snap
}

// String renders the snapshot as the multi line summary printed at the end
// of a phase.
func (snap Snapshot) String() string {
	var sb strings.Builder
	verdict := "PASSED"
	if !snap.Passed {
		verdict = "FAILED"
	}
	sb.WriteString(fmt.Sprintf("Result: %s\n", verdict))
	addField(&sb, "Checks", snap.Checks)
	addField(&sb, "Unexpected Results", snap.UnexpectedResults)
	addField(&sb, "Unexpected Exceptions", snap.UnexpectedExceptions)
	addField(&sb, "Other Retry Results", snap.OtherRetryResults)
	addField(&sb, "Lag Count", snap.LagCount)
	if snap.LagCount > 0 {
		addField(&sb, "Lag Max", snap.LagMax)
		addField(&sb, "Lag Mean", fmt.Sprintf("%.2f", snap.LagMean))
		addField(&sb, "Lag P50/P99", fmt.Sprintf("%.0f/%.0f", snap.LagP50, snap.LagP99))
	}
	return sb.String()
}

func addField(sb *strings.Builder, name string, value interface{}) {
	sb.WriteString(fmt.Sprintf("  %-22s %v\n", name+":", value))
}
