package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vulnpilot/vulnpilot/pkg/agent"
	"github.com/vulnpilot/vulnpilot/pkg/audit"
	"github.com/vulnpilot/vulnpilot/pkg/deliverable"
	"github.com/vulnpilot/vulnpilot/pkg/finding"
	"github.com/vulnpilot/vulnpilot/pkg/metrics"
	"github.com/vulnpilot/vulnpilot/pkg/session"
)

// ErrStopped indicates the session was stopped cooperatively before it
// could complete.
var ErrStopped = errors.New("pipeline: session stopped")

// ErrPhaseFailed indicates a phase finished with no successful task.
var ErrPhaseFailed = errors.New("pipeline: phase failed")

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches a metrics server.
func WithMetrics(m *metrics.Server) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTaskTimeout bounds each agent task.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.taskTimeout = d }
}

// Orchestrator runs the phase pipeline over one session environment.
type Orchestrator struct {
	env         *agent.Env
	metrics     *metrics.Server
	taskTimeout time.Duration
	tracer      trace.Tracer

	mu      sync.Mutex
	results []agent.Result
	phase   Phase
	agents  map[string]*AgentState
}

// AgentState is one task's progress within the current phase.
type AgentState struct {
	Task   string
	Role   string
	Status agent.Status
}

// Snapshot is a point-in-time view of session progress.
type Snapshot struct {
	Phase    Phase
	Status   session.Status
	Agents   []AgentState
	SpentUSD float64
	Findings int
}

// New creates an orchestrator for a prepared environment.
func New(env *agent.Env, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		env:         env,
		taskTimeout: 15 * time.Minute,
		tracer:      otel.Tracer("vulnpilot/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Results returns the terminal results of every task run so far.
func (o *Orchestrator) Results() []agent.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]agent.Result, len(o.results))
	copy(out, o.results)
	return out
}

// Snapshot reports the current phase, per-agent task statuses,
// cumulative spend, and findings count. It never blocks the pipeline.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	agents := make([]AgentState, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, *a)
	}
	snap := Snapshot{
		Phase:  o.phase,
		Status: o.env.Session.Status,
		Agents: agents,
	}
	o.mu.Unlock()

	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].Task < snap.Agents[j].Task })
	snap.SpentUSD = o.env.Budget.Spent()
	snap.Findings = o.env.Ledger.Count()
	return snap
}

func (o *Orchestrator) setStatus(st session.Status) {
	o.mu.Lock()
	o.env.Session.Status = st
	o.mu.Unlock()
}

// Run drives the session through every phase and returns once the
// session has reached a terminal status. The returned error is nil for
// a completed session, ErrStopped for a cooperative stop, and wraps
// ErrPhaseFailed when a required phase produced no successful task.
func (o *Orchestrator) Run(ctx context.Context) error {
	sess := o.env.Session
	ctx, span := o.tracer.Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.String("session.target", sess.Target.Raw),
		))
	defer span.End()

	o.env.Audit.Append(audit.Event{Kind: audit.KindSessionStarted, Session: sess.ID, Detail: sess.Target.Raw})
	o.setStatus(session.StatusRunning)
	o.writeSummary()

	var (
		skipRest   bool
		skipReason string
		failErr    error
	)
	for _, def := range Phases {
		if def.Phase != PhaseReporting && skipRest {
			o.skipPhase(def, skipReason)
			continue
		}
		if err := ctx.Err(); err != nil {
			o.writeDeliverables(session.StatusStopped)
			return o.finish(audit.KindSessionStopped, session.StatusStopped, ErrStopped)
		}
		if def.Skip != nil {
			if skip, reason := def.Skip(sess); skip {
				o.skipPhase(def, reason)
				continue
			}
		}

		outcome := o.runPhase(ctx, def)
		switch {
		case outcome.stopped:
			o.writeDeliverables(session.StatusStopped)
			return o.finish(audit.KindSessionStopped, session.StatusStopped, ErrStopped)
		case outcome.completed || def.BestEffort:
			// A best-effort phase keeps whatever it produced.
		case outcome.budgetExhausted:
			// Out of budget: stop spending and let reporting write up
			// what the session has so far.
			skipRest = true
			skipReason = "budget exhausted"
		default:
			// The session will end failed, but reporting still runs
			// against whatever findings exist.
			skipRest = true
			skipReason = fmt.Sprintf("%s phase failed", def.Phase)
			failErr = fmt.Errorf("%w: %s", ErrPhaseFailed, def.Phase)
		}
	}

	if failErr != nil {
		o.writeDeliverables(session.StatusFailed)
		return o.finish(audit.KindSessionFailed, session.StatusFailed, failErr)
	}
	o.writeDeliverables(session.StatusCompleted)
	return o.finish(audit.KindSessionCompleted, session.StatusCompleted, nil)
}

type phaseOutcome struct {
	completed       bool
	stopped         bool
	budgetExhausted bool
}

// runPhase fans the phase's tasks out and holds the barrier until all
// of them are terminal.
func (o *Orchestrator) runPhase(ctx context.Context, def Definition) phaseOutcome {
	sess := o.env.Session
	ctx, span := o.tracer.Start(ctx, string(def.Phase))
	defer span.End()
	start := time.Now()

	o.env.Audit.Append(audit.Event{
		Kind:    audit.KindPhaseStarted,
		Session: sess.ID,
		Phase:   string(def.Phase),
		Detail:  def.Display,
	})
	o.env.Logger.Info("phase started", "phase", def.Phase, "display", def.Display)
	o.writeSummary()

	roles := def.Roles(sess)
	exec := agent.NewExecutor(o.env, o.taskTimeout)
	resCh := make(chan agent.Result, len(roles))
	o.mu.Lock()
	o.phase = def.Phase
	o.agents = make(map[string]*AgentState, len(roles))
	o.mu.Unlock()
	for _, role := range roles {
		task := agent.NewTask(sess.ID, string(def.Phase), role)
		o.mu.Lock()
		o.agents[task.ID] = &AgentState{Task: task.ID, Role: role.String(), Status: agent.StatusRunning}
		o.mu.Unlock()
		work, err := agent.WorkFor(role)
		if err != nil {
			resCh <- agent.Result{Task: task, Status: agent.StatusFailed, Err: err}
			continue
		}
		go func() {
			resCh <- exec.Execute(ctx, task, work)
		}()
	}

	var results []agent.Result
	for range roles {
		r := <-resCh
		o.mu.Lock()
		if a, ok := o.agents[r.Task.ID]; ok {
			a.Status = r.Status
		}
		o.results = append(o.results, r)
		o.mu.Unlock()
		results = append(results, r)
	}

	var succeeded, cancelled int
	budgetExhausted := false
	for _, r := range results {
		switch r.Status {
		case agent.StatusSucceeded:
			succeeded++
		case agent.StatusCancelled:
			cancelled++
		}
		if r.BudgetExhausted {
			budgetExhausted = true
		}
		if o.metrics != nil {
			o.metrics.TaskFinished(string(def.Phase), string(r.Status))
		}
	}

	out := phaseOutcome{
		completed:       succeeded > 0,
		stopped:         ctx.Err() != nil && cancelled > 0,
		budgetExhausted: budgetExhausted && succeeded == 0,
	}

	ev := audit.Event{Session: sess.ID, Phase: string(def.Phase)}
	switch {
	case out.stopped:
		ev.Kind = audit.KindPhaseStopped
	case out.completed:
		ev.Kind = audit.KindPhaseCompleted
		ev.Detail = fmt.Sprintf("%d/%d tasks succeeded", succeeded, len(roles))
	default:
		ev.Kind = audit.KindPhaseFailed
		ev.Detail = fmt.Sprintf("0/%d tasks succeeded", len(roles))
	}
	o.env.Audit.Append(ev)
	o.env.Logger.Info("phase finished",
		"phase", def.Phase, "kind", ev.Kind, "succeeded", succeeded, "tasks", len(roles))

	if o.metrics != nil {
		o.metrics.PhaseDone(string(def.Phase), time.Since(start))
	}
	o.writeSummary()
	return out
}

func (o *Orchestrator) skipPhase(def Definition, reason string) {
	o.env.Audit.Append(audit.Event{
		Kind:    audit.KindPhaseSkipped,
		Session: o.env.Session.ID,
		Phase:   string(def.Phase),
		Detail:  reason,
	})
	o.env.Logger.Info("phase skipped", "phase", def.Phase, "reason", reason)
	o.writeSummary()
}

func (o *Orchestrator) finish(kind audit.Kind, status session.Status, err error) error {
	sess := o.env.Session
	ev := audit.Event{Kind: kind, Session: sess.ID}
	if err != nil {
		ev.Error = err.Error()
	}
	o.env.Audit.Append(ev)
	o.setStatus(status)
	o.writeSummary()
	o.env.Logger.Info("session finished", "session", sess.ID, "status", status, "spent_usd", o.env.Budget.Spent())
	return err
}

// writeSummary rewrites the session summary from a fresh replay of the
// audit log so the cache can never drift from the ground truth.
func (o *Orchestrator) writeSummary() {
	events, err := audit.Replay(o.env.Audit.Path())
	if err != nil {
		o.env.Logger.Warn("summary replay failed", "err", err)
		return
	}
	state := audit.Reconstruct(events)
	path := audit.SummaryPath(o.env.Audit.Path())
	if err := audit.WriteSummary(path, audit.SummaryFromState(state, o.env.Session.Target.Raw)); err != nil {
		o.env.Logger.Warn("summary write failed", "err", err)
	}
}

// writeDeliverables records the coverage and accounting artifacts.
// The engagement report itself is the reporting phase's job.
func (o *Orchestrator) writeDeliverables(status session.Status) {
	sess := o.env.Session

	var run, skipped []string
	events, err := audit.Replay(o.env.Audit.Path())
	if err == nil {
		state := audit.Reconstruct(events)
		for name, ps := range state.Phases {
			if ps.Status == "skipped" {
				skipped = append(skipped, name)
			} else {
				run = append(run, name)
			}
		}
	}

	untested := make(map[finding.Category]int)
	for _, cat := range finding.AnalysisCategories {
		if n := len(o.env.Ledger.Queued(cat)); n > 0 {
			untested[cat] = n
		}
	}
	cov := deliverable.Coverage{
		TotalFindings:  o.env.Ledger.Count(),
		ByVerdict:      o.env.Ledger.CountByVerdict(),
		QueuedUntested: untested,
		PhasesRun:      run,
		PhasesSkipped:  skipped,
	}
	if err := o.env.Deliverables.WriteCoverage(cov); err != nil {
		o.env.Logger.Warn("coverage write failed", "err", err)
	}

	reported := 0
	for _, f := range o.env.Ledger.List() {
		if f.Verdict.Reportable() {
			reported++
		}
	}
	m := deliverable.Metrics{
		SessionID: sess.ID,
		Target:    sess.Target.Raw,
		Status:    string(status),
		CostUSD:   o.env.Budget.Spent(),
		Duration:  time.Since(sess.StartedAt),
		Findings:  o.env.Ledger.Count(),
		Reported:  reported,
	}
	if err := o.env.Deliverables.WriteMetrics(m); err != nil {
		o.env.Logger.Warn("metrics write failed", "err", err)
	}
}
