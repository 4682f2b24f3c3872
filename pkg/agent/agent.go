// Package agent defines the unit of pipeline work: a task executed by
// a role-bound agent against the shared session environment. Agents
// reason through the LLM layer, act through the bounded tool pool, and
// record everything they spend and find.
package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vulnpilot/vulnpilot/pkg/finding"
)

// Kind is the broad agent role.
type Kind string

const (
	KindWhitebox     Kind = "whitebox"
	KindRecon        Kind = "recon"
	KindAnalysis     Kind = "analysis"
	KindExploitation Kind = "exploitation"
	KindReporting    Kind = "reporting"
)

// Role binds a kind to the weakness category it covers. Category is
// set only for analysis and exploitation roles.
type Role struct {
	Kind     Kind
	Category finding.Category
}

func (r Role) String() string {
	if r.Category != "" {
		return fmt.Sprintf("%s:%s", r.Kind, r.Category)
	}
	return string(r.Kind)
}

// PromptName returns the prompt key for the role.
func (r Role) PromptName() string { return string(r.Kind) }

// Task is one scheduled agent run.
type Task struct {
	ID      string
	Session string
	Phase   string
	Role    Role
}

// NewTask creates a task with a fresh id.
func NewTask(sessionID, phase string, role Role) Task {
	return Task{
		ID:      uuid.NewString(),
		Session: sessionID,
		Phase:   phase,
		Role:    role,
	}
}

// Status is the state of a task. All but StatusRunning are terminal.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is what a finished task reports back to the pipeline.
type Result struct {
	Task     Task
	Status   Status
	Err      error
	Duration time.Duration
	// BudgetExhausted marks failures caused by the cost ceiling rather
	// than the task itself.
	BudgetExhausted bool
}

// Succeeded reports whether the task completed its work.
func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }
