package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"m3u8conv/core/media"
)

// ErrOutputExists is the job error under PolicyFail when the playlist is already there.
var ErrOutputExists = errors.New("output playlist already exists")

// OverwritePolicy decides what happens when a job's playlist already exists.
type OverwritePolicy string

const (
	PolicyAsk       OverwritePolicy = "ask"
	PolicySkip      OverwritePolicy = "skip"
	PolicyOverwrite OverwritePolicy = "overwrite"
	PolicyFail      OverwritePolicy = "fail"
)

// ParsePolicy accepts the policy names case-insensitively; empty means ask.
func ParsePolicy(s string) (OverwritePolicy, error) {
	switch p := OverwritePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAsk, nil
	case PolicyAsk, PolicySkip, PolicyOverwrite, PolicyFail:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overwrite policy %q (want ask, skip, overwrite or fail)", s)
	}
}

// Outcome is how a single job ended.
type Outcome string

const (
	OutcomeConverted Outcome = "converted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ProgressState counts finished jobs out of the batch total.
type ProgressState struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Percent is Completed/Total*100. An empty batch is 100% done.
func (p ProgressState) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// JobResult records how one ConversionJob ended.
type JobResult struct {
	Job             media.ConversionJob
	Outcome         Outcome
	Err             error
	Segments        int
	DurationSeconds float64
	Elapsed         time.Duration
}

// Batch is one unit of work for the orchestrator.
type Batch struct {
	ID      string
	Request media.BatchRequest
	// Policy overrides the orchestrator default when non-empty.
	Policy          OverwritePolicy
	ContinueOnError bool
}

// BatchResult is returned when a batch finishes, successfully or not.
type BatchResult struct {
	ID         string
	Request    media.BatchRequest
	Jobs       []JobResult
	Progress   ProgressState
	StartedAt  time.Time
	FinishedAt time.Time
}

// Count returns the number of jobs that ended with o.
func (r BatchResult) Count(o Outcome) int {
	n := 0
	for _, j := range r.Jobs {
		if j.Outcome == o {
			n++
		}
	}
	return n
}
