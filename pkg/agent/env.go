package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vulnpilot/vulnpilot/pkg/audit"
	"github.com/vulnpilot/vulnpilot/pkg/budget"
	"github.com/vulnpilot/vulnpilot/pkg/deliverable"
	"github.com/vulnpilot/vulnpilot/pkg/finding"
	"github.com/vulnpilot/vulnpilot/pkg/ledger"
	"github.com/vulnpilot/vulnpilot/pkg/llm"
	"github.com/vulnpilot/vulnpilot/pkg/metrics"
	"github.com/vulnpilot/vulnpilot/pkg/retry"
	"github.com/vulnpilot/vulnpilot/pkg/scope"
	"github.com/vulnpilot/vulnpilot/pkg/session"
	"github.com/vulnpilot/vulnpilot/pkg/techniques"
)

// Env is the shared session environment every agent works against.
// All of it is safe for concurrent use.
type Env struct {
	Session      *session.Session
	Provider     llm.Provider
	LLM          *llm.Registry
	Prompts      *llm.PromptLoader
	Tools        *techniques.Pool
	Techniques   *techniques.Library
	Scope        *scope.RuleSet
	Ledger       *ledger.Store
	Budget       *budget.Governor
	Audit        *audit.Log
	Deliverables *deliverable.Writer
	// Metrics is optional; nil disables telemetry.
	Metrics *metrics.Server
	Logger  *slog.Logger
}

// Complete runs one LLM completion for a task: transient failures are
// retried, the response's cost is charged against the budget, and the
// accepted charge is written to the audit log. A charge denied by the
// governor surfaces as budget.ErrExceeded.
func (e *Env) Complete(ctx context.Context, task Task, prompt string) (*llm.Response, error) {
	if r := e.Budget.Remaining(); r == 0 {
		return nil, fmt.Errorf("agent: %w before completion", budget.ErrExceeded)
	}

	system, err := e.Prompts.Load(task.Role.PromptName())
	if err != nil {
		return nil, err
	}

	// An in-flight completion is allowed to finish after a stop so its
	// cost and result are still recorded; the retry loop checks ctx at
	// its own suspension points and starts no further attempts.
	callCtx := context.WithoutCancel(ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(callCtx, dl)
		defer cancel()
	}

	var resp *llm.Response
	attempt := 0
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		attempt++
		if attempt > 1 {
			e.Audit.Append(audit.Event{
				Kind:    audit.KindTaskRetry,
				Session: task.Session,
				Phase:   task.Phase,
				Task:    task.ID,
				Role:    task.Role.String(),
				Attempt: attempt,
			})
		}
		var cerr error
		resp, cerr = e.LLM.Complete(callCtx, e.Provider, &llm.Request{System: system, Prompt: prompt})
		return cerr
	})
	if err != nil {
		return nil, err
	}

	entry, err := e.Budget.Charge(task.ID, resp.CostUSD)
	if err != nil {
		return nil, err
	}
	if _, aerr := e.Audit.Append(audit.Event{
		Kind:    audit.KindCharge,
		Session: task.Session,
		Phase:   task.Phase,
		Task:    task.ID,
		Amount:  entry.Amount,
		Total:   entry.Total,
	}); aerr != nil {
		return nil, fmt.Errorf("agent: record charge: %w", aerr)
	}
	if e.Metrics != nil {
		e.Metrics.Charge(entry.Amount, e.Budget.Remaining())
	}
	return resp, nil
}

// RunTool invokes a technique through the bounded pool after checking
// the candidate endpoint against scope. Out-of-scope candidates are
// audited and skipped, not errors.
func (e *Env) RunTool(ctx context.Context, task Task, inv techniques.Invocation) (*techniques.Output, error) {
	dec := e.Scope.Evaluate(inv.Target)
	if !dec.Allowed {
		e.Audit.Append(audit.Event{
			Kind:      audit.KindScopeExcluded,
			Session:   task.Session,
			Phase:     task.Phase,
			Task:      task.ID,
			Candidate: inv.Target,
			Detail:    dec.Reason,
		})
		e.Logger.Debug("candidate excluded by scope",
			"task", task.ID, "candidate", inv.Target, "reason", dec.Reason)
		return nil, nil
	}
	return e.Tools.Invoke(ctx, inv)
}

// Report submits a discovered finding. Candidates outside scope are
// audited and dropped; in-scope ones are de-duplicated by the ledger,
// with duplicates merged as extra evidence.
func (e *Env) Report(task Task, f finding.Finding) (id string, accepted bool) {
	dec := e.Scope.Evaluate(f.Endpoint)
	if !dec.Allowed {
		e.Audit.Append(audit.Event{
			Kind:      audit.KindScopeExcluded,
			Session:   task.Session,
			Phase:     task.Phase,
			Task:      task.ID,
			Candidate: f.Endpoint,
			Detail:    dec.Reason,
		})
		return "", false
	}

	id, merged := e.Ledger.Add(f)
	kind := audit.KindFindingDiscovered
	if merged {
		kind = audit.KindFindingMerged
	}
	e.Audit.Append(audit.Event{
		Kind:      kind,
		Session:   task.Session,
		Phase:     task.Phase,
		Task:      task.ID,
		Finding:   id,
		Candidate: f.Endpoint,
		Detail:    string(f.Category),
	})
	if e.Metrics != nil {
		e.Metrics.FindingAccepted(string(f.Category))
	}
	e.Logger.Info("finding reported",
		"task", task.ID, "finding", id, "category", f.Category, "merged", merged)
	return id, true
}

// Claim takes exclusive ownership of a queued finding for a task.
func (e *Env) Claim(task Task, findingID string) error {
	if err := e.Ledger.Claim(findingID, task.ID, task.Role.Category); err != nil {
		return err
	}
	e.Audit.Append(audit.Event{
		Kind:    audit.KindFindingClaimed,
		Session: task.Session,
		Phase:   task.Phase,
		Task:    task.ID,
		Finding: findingID,
	})
	return nil
}

// AssignVerdict records a task's exploitation outcome for its claimed
// finding.
func (e *Env) AssignVerdict(task Task, findingID string, v finding.Verdict, proof string) error {
	if err := e.Ledger.AssignVerdict(findingID, task.ID, v, proof); err != nil {
		return err
	}
	_, err := e.Audit.Append(audit.Event{
		Kind:    audit.KindVerdictAssigned,
		Session: task.Session,
		Phase:   task.Phase,
		Task:    task.ID,
		Finding: findingID,
		Verdict: string(v),
	})
	if e.Metrics != nil {
		e.Metrics.VerdictAssigned(string(v))
	}
	return err
}

// IsBudgetExhausted reports whether err traces back to the cost
// ceiling.
func IsBudgetExhausted(err error) bool {
	return errors.Is(err, budget.ErrExceeded)
}

// BudgetWarn returns a governor warning callback that records the
// threshold crossing as a non-fatal audit event.
func BudgetWarn(log *audit.Log, sessionID string, logger *slog.Logger) budget.WarnFunc {
	return func(spent, ceiling float64) {
		log.Append(audit.Event{
			Kind:    audit.KindBudgetWarning,
			Session: sessionID,
			Amount:  spent,
			Total:   ceiling,
			Detail:  fmt.Sprintf("spend %.4f crossed the warning threshold of ceiling %.4f", spent, ceiling),
		})
		logger.Warn("budget warning", "spent_usd", spent, "ceiling_usd", ceiling)
	}
}
