package domain

import "time"

// Stage is the phase reported in an IngestionProgress event.
type Stage string

// Progress stages in emission order.
const (
	StageStarting    Stage = "starting"
	StageParsing     Stage = "parsing"
	StageVectorizing Stage = "vectorizing"
	StageStoring     Stage = "storing"
	StageDone        Stage = "done"
	StageError       Stage = "error"
)

// IsValid returns true if the stage is recognised.
func (s Stage) IsValid() bool {
	switch s {
	case StageStarting, StageParsing, StageVectorizing, StageStoring, StageDone, StageError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for done and error.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageError
}

// Order returns the position of the stage in the pipeline.
// Error shares the terminal position with done.
func (s Stage) Order() int {
	switch s {
	case StageStarting:
		return 0
	case StageParsing:
		return 1
	case StageVectorizing:
		return 2
	case StageStoring:
		return 3
	case StageDone, StageError:
		return 4
	default:
		return -1
	}
}

// String returns the string representation.
func (s Stage) String() string {
	return string(s)
}

// IngestionProgress is a best-effort progress event for one in-flight file.
// The authoritative outcome is always DocumentMeta.Status in the store.
type IngestionProgress struct {
	// FileID correlates to DocumentMeta.ID.
	FileID string `json:"fileId"`

	// Stage is the pipeline phase.
	Stage Stage `json:"stage"`

	// Current and Total count work units within the stage.
	Current int `json:"current"`
	Total   int `json:"total"`

	// ETR is the estimated seconds remaining in the current stage.
	// Zero when no estimate is available.
	ETR float64 `json:"etr"`

	// Reason is set on error events.
	Reason string `json:"reason,omitempty"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

// EstimateRemaining computes the seconds left in a stage from the time spent
// so far and the units completed. It returns 0 when nothing is done yet.
func EstimateRemaining(elapsed time.Duration, current, total int) float64 {
	if current <= 0 || total <= current {
		return 0
	}
	perUnit := elapsed.Seconds() / float64(current)
	return perUnit * float64(total-current)
}

// IngestionState is the orchestrator's per-file pipeline state.
type IngestionState string

// Ingestion states.
const (
	StateQueued      IngestionState = "queued"
	StateParsing     IngestionState = "parsing"
	StateVectorizing IngestionState = "vectorizing"
	StateStoring     IngestionState = "storing"
	StateIndexed     IngestionState = "indexed"
	StateFailed      IngestionState = "failed"
)

// IsTerminal returns true for indexed and failed.
func (s IngestionState) IsTerminal() bool {
	return s == StateIndexed || s == StateFailed
}

// CanTransitionTo reports whether the pipeline may move from s to next.
// Stages advance strictly in order; failed is reachable from any non-terminal state.
func (s IngestionState) CanTransitionTo(next IngestionState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	switch s {
	case StateQueued:
		return next == StateParsing
	case StateParsing:
		return next == StateVectorizing
	case StateVectorizing:
		return next == StateStoring
	case StateStoring:
		return next == StateIndexed
	default:
		return false
	}
}

// String returns the string representation.
func (s IngestionState) String() string {
	return string(s)
}

// IngestionStatus is a snapshot of an in-flight file.
type IngestionStatus struct {
	FileID    string         `json:"fileId"`
	State     IngestionState `json:"state"`
	Embedded  int            `json:"embedded"`
	Total     int            `json:"total"`
	StartedAt time.Time      `json:"startedAt"`
	Reason    string         `json:"reason,omitempty"`
}
