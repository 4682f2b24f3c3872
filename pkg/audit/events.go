package audit

import "time"

// Kind identifies the type of an audit event.
type Kind string

const (
	KindSessionStarted   Kind = "session-started"
	KindSessionCompleted Kind = "session-completed"
	KindSessionStopped   Kind = "session-stopped"
	KindSessionFailed    Kind = "session-failed"

	KindPhaseStarted   Kind = "phase-started"
	KindPhaseSkipped   Kind = "phase-skipped"
	KindPhaseCompleted Kind = "phase-completed"
	KindPhaseFailed    Kind = "phase-failed"
	KindPhaseStopped   Kind = "phase-stopped"

	KindTaskStarted   Kind = "task-started"
	KindTaskRetry     Kind = "task-retry"
	KindTaskSucceeded Kind = "task-succeeded"
	KindTaskFailed    Kind = "task-failed"
	KindTaskCancelled Kind = "task-cancelled"

	// KindCharge records one accepted cost charge. The running total is
	// carried on the event so the full cost ledger folds out of the log.
	KindCharge Kind = "charge"
	// KindBudgetWarning records the governor's threshold warning.
	KindBudgetWarning Kind = "budget-warning"

	KindFindingDiscovered Kind = "finding-discovered"
	KindFindingMerged     Kind = "finding-merged"
	KindFindingClaimed    Kind = "finding-claimed"
	KindVerdictAssigned   Kind = "verdict-assigned"

	// KindScopeExcluded records a candidate skipped by scope rules.
	// Exclusion is observability, not an error.
	KindScopeExcluded Kind = "scope-excluded"
)

// Event is one immutable, ordered record of a state-affecting
// occurrence. Events are flat so that replay needs no per-kind payload
// decoding; unused fields are omitted from the JSON line.
type Event struct {
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	Kind    Kind      `json:"kind"`
	Session string    `json:"session"`

	Phase     string  `json:"phase,omitempty"`
	Task      string  `json:"task,omitempty"`
	Role      string  `json:"role,omitempty"`
	Finding   string  `json:"finding,omitempty"`
	Verdict   string  `json:"verdict,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Total     float64 `json:"total,omitempty"`
	Attempt   int     `json:"attempt,omitempty"`
	Candidate string  `json:"candidate,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	Error     string  `json:"error,omitempty"`
}
