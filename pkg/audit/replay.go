package audit

// PhaseState is the replayed status of one phase.
type PhaseState struct {
	Status  string `json:"status"`
	Started string `json:"started,omitempty"`
	Ended   string `json:"ended,omitempty"`
}

// TaskState is the replayed terminal state of one agent task.
type TaskState struct {
	Phase    string  `json:"phase"`
	Role     string  `json:"role"`
	Status   string  `json:"status"`
	Attempts int     `json:"attempts"`
	CostUSD  float64 `json:"cost_usd"`
}

// SessionState is the projection of a session's event sequence: the
// ground truth a crashed process recovers from. Any cached summary is
// derived from this, never the other way around.
type SessionState struct {
	SessionID string                `json:"session_id"`
	Status    string                `json:"status"`
	Phase     string                `json:"phase,omitempty"`
	Phases    map[string]PhaseState `json:"phases"`
	Tasks     map[string]TaskState  `json:"tasks"`
	Findings  int                   `json:"findings"`
	CostUSD   float64               `json:"cost_usd"`
	LastSeq   uint64                `json:"last_seq"`
}

// Reconstruct folds an event sequence into session state. Events whose
// sequence number does not advance past the last applied one are
// skipped, so replaying the same sequence twice yields the same state.
func Reconstruct(events []Event) *SessionState {
	s := &SessionState{
		Status: "running",
		Phases: make(map[string]PhaseState),
		Tasks:  make(map[string]TaskState),
	}
	for _, e := range events {
		if e.Seq <= s.LastSeq {
			continue
		}
		s.LastSeq = e.Seq
		s.apply(e)
	}
	return s
}

func (s *SessionState) apply(e Event) {
	if s.SessionID == "" {
		s.SessionID = e.Session
	}
	switch e.Kind {
	case KindSessionStarted:
		s.Status = "running"
	case KindSessionCompleted:
		s.Status = "completed"
	case KindSessionStopped:
		s.Status = "stopped"
	case KindSessionFailed:
		s.Status = "failed"

	case KindPhaseStarted:
		s.Phase = e.Phase
		s.Phases[e.Phase] = PhaseState{Status: "running", Started: e.At.Format("2006-01-02T15:04:05.000Z07:00")}
	case KindPhaseSkipped:
		s.Phases[e.Phase] = PhaseState{Status: "skipped"}
	case KindPhaseCompleted:
		s.setPhaseEnd(e, "completed")
	case KindPhaseFailed:
		s.setPhaseEnd(e, "failed")
	case KindPhaseStopped:
		s.setPhaseEnd(e, "stopped")

	case KindTaskStarted:
		t := s.Tasks[e.Task]
		t.Phase = e.Phase
		t.Role = e.Role
		t.Status = "running"
		if t.Attempts == 0 {
			t.Attempts = 1
		}
		s.Tasks[e.Task] = t
	case KindTaskRetry:
		t := s.Tasks[e.Task]
		t.Attempts = e.Attempt
		s.Tasks[e.Task] = t
	case KindTaskSucceeded:
		s.setTaskEnd(e, "succeeded")
	case KindTaskFailed:
		s.setTaskEnd(e, "failed")
	case KindTaskCancelled:
		s.setTaskEnd(e, "cancelled")

	case KindCharge:
		s.CostUSD += e.Amount
		t := s.Tasks[e.Task]
		t.CostUSD += e.Amount
		s.Tasks[e.Task] = t

	case KindFindingDiscovered:
		s.Findings++
	}
}

func (s *SessionState) setPhaseEnd(e Event, status string) {
	p := s.Phases[e.Phase]
	p.Status = status
	p.Ended = e.At.Format("2006-01-02T15:04:05.000Z07:00")
	s.Phases[e.Phase] = p
}

func (s *SessionState) setTaskEnd(e Event, status string) {
	t := s.Tasks[e.Task]
	t.Status = status
	s.Tasks[e.Task] = t
}

// CostEntries extracts the cost ledger from an event sequence: one
// entry per accepted charge, in log order. Summing the amounts must
// always equal the governor's reported total.
func CostEntries(events []Event) []Event {
	var entries []Event
	for _, e := range events {
		if e.Kind == KindCharge {
			entries = append(entries, e)
		}
	}
	return entries
}
