package agent

import (
	"context"
	"errors"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/audit"
)

// Work is the body of an agent: one role's procedure over the
// environment. It returns nil when the task achieved its goal.
type Work func(ctx context.Context, env *Env, task Task) error

// Executor runs tasks with a per-task timeout and uniform audit
// bracketing.
type Executor struct {
	env     *Env
	timeout time.Duration
}

// NewExecutor creates an executor. timeout bounds each task; zero
// means no per-task limit.
func NewExecutor(env *Env, timeout time.Duration) *Executor {
	return &Executor{env: env, timeout: timeout}
}

// Env returns the executor's environment.
func (x *Executor) Env() *Env { return x.env }

// Execute runs one task to a terminal status. Every outcome is written
// to the audit log before it is returned.
func (x *Executor) Execute(ctx context.Context, task Task, work Work) Result {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	x.env.Audit.Append(audit.Event{
		Kind:    audit.KindTaskStarted,
		Session: task.Session,
		Phase:   task.Phase,
		Task:    task.ID,
		Role:    task.Role.String(),
	})
	x.env.Logger.Info("task started", "task", task.ID, "role", task.Role.String(), "phase", task.Phase)

	start := time.Now()
	err := work(ctx, x.env, task)
	res := Result{Task: task, Duration: time.Since(start)}

	switch {
	case err == nil:
		res.Status = StatusSucceeded
	case errors.Is(err, context.Canceled):
		res.Status = StatusCancelled
		res.Err = err
	default:
		res.Status = StatusFailed
		res.Err = err
		res.BudgetExhausted = IsBudgetExhausted(err)
	}

	ev := audit.Event{
		Session: task.Session,
		Phase:   task.Phase,
		Task:    task.ID,
		Role:    task.Role.String(),
	}
	switch res.Status {
	case StatusSucceeded:
		ev.Kind = audit.KindTaskSucceeded
	case StatusCancelled:
		ev.Kind = audit.KindTaskCancelled
	default:
		ev.Kind = audit.KindTaskFailed
		ev.Error = err.Error()
		if res.BudgetExhausted {
			ev.Detail = "budget exhausted"
		}
	}
	x.env.Audit.Append(ev)

	if res.Err != nil {
		x.env.Logger.Warn("task finished",
			"task", task.ID, "status", res.Status, "err", res.Err, "duration", res.Duration)
	} else {
		x.env.Logger.Info("task finished",
			"task", task.ID, "status", res.Status, "duration", res.Duration)
	}
	return res
}
