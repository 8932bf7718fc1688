// Package stats summarizes the run ledger.
package stats

import (
	"sort"
	"time"

	"github.com/livinlefevreloca/refresher/internal/db"
)

// Summary aggregates a window of job runs
type Summary struct {
	Runs       int
	Finished   int
	InProgress int

	// Outcomes counts finished runs by outcome
	Outcomes map[string]int

	Succeeded int
	Failed    int

	MinDuration time.Duration
	MaxDuration time.Duration
	AvgDuration time.Duration

	LastProposal *db.JobRun
	LastFailure  *db.JobRun
}

// SuccessRate is the share of finished runs that did not fail or get cancelled
func (s Summary) SuccessRate() float64 {
	if s.Finished == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Finished)
}

// OutcomeNames returns the observed outcomes in stable order
func (s Summary) OutcomeNames() []string {
	names := make([]string, 0, len(s.Outcomes))
	for name := range s.Outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summarize aggregates runs. The input is expected newest first, the order
// the ledger returns them in.
func Summarize(runs []db.JobRun) Summary {
	s := Summary{
		Runs:     len(runs),
		Outcomes: make(map[string]int),
	}

	durations := make([]time.Duration, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		if run.CompletedAt == nil || run.Outcome == "" {
			s.InProgress++
			continue
		}

		s.Finished++
		s.Outcomes[run.Outcome]++

		switch run.Outcome {
		case "failed", "cancelled":
			s.Failed++
			if s.LastFailure == nil {
				s.LastFailure = run
			}
		default:
			s.Succeeded++
		}

		if run.Outcome == "proposed" && s.LastProposal == nil {
			s.LastProposal = run
		}

		if run.StartedAt != nil {
			durations = append(durations, run.CompletedAt.Sub(*run.StartedAt))
		}
	}

	s.MinDuration, s.MaxDuration, s.AvgDuration = calculateMinMaxAvgDuration(durations)
	return s
}

func calculateMinMaxAvgDuration(values []time.Duration) (min, max, avg time.Duration) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	min = values[0]
	max = values[0]
	var sum time.Duration

	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	avg = sum / time.Duration(len(values))
	return min, max, avg
}
