package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/audit"
	"github.com/vulnpilot/vulnpilot/pkg/budget"
	"github.com/vulnpilot/vulnpilot/pkg/deliverable"
	"github.com/vulnpilot/vulnpilot/pkg/finding"
	"github.com/vulnpilot/vulnpilot/pkg/ledger"
	"github.com/vulnpilot/vulnpilot/pkg/llm"
	"github.com/vulnpilot/vulnpilot/pkg/scope"
	"github.com/vulnpilot/vulnpilot/pkg/session"
	"github.com/vulnpilot/vulnpilot/pkg/techniques"
)

func newTestEnv(t *testing.T, ceiling float64) (*Env, *llm.LocalClient) {
	t.Helper()

	tgt, err := session.ParseTarget("https://app.example.com")
	if err != nil {
		t.Fatal(err)
	}
	sess := session.New(tgt, "", session.IntensityStandard)

	local := llm.NewLocalClient()
	reg := llm.NewRegistry()
	reg.Register(local)

	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })

	dw, err := deliverable.NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	invoker := techniques.InvokerFunc(func(ctx context.Context, inv techniques.Invocation) (*techniques.Output, error) {
		return &techniques.Output{Stdout: "probe ok: " + inv.Technique.Name}, nil
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Env{
		Session:      sess,
		Provider:     llm.ProviderLocal,
		LLM:          reg,
		Prompts:      llm.NewPromptLoader(""),
		Tools:        techniques.NewPool(invoker, 4, 1000),
		Techniques:   techniques.Default(),
		Scope:        scope.FromPatterns("", ""),
		Ledger:       ledger.NewStore(),
		Budget:       budget.New(ceiling, budget.WithWarnFunc(BudgetWarn(log, sess.ID, logger))),
		Audit:        log,
		Deliverables: dw,
		Logger:       logger,
	}, local
}

func auditKinds(t *testing.T, path string) map[audit.Kind]int {
	t.Helper()
	events, err := audit.Replay(path)
	if err != nil {
		t.Fatalf("Replay() error: %v", err)
	}
	kinds := make(map[audit.Kind]int)
	for _, e := range events {
		kinds[e.Kind]++
	}
	return kinds
}

func TestExecutorSuccess(t *testing.T) {
	t.Parallel()

	env, _ := newTestEnv(t, 0)
	x := NewExecutor(env, time.Minute)
	task := NewTask(env.Session.ID, "recon", Role{Kind: KindRecon})

	res := x.Execute(context.Background(), task, func(ctx context.Context, env *Env, task Task) error {
		return nil
	})
	if !res.Succeeded() {
		t.Fatalf("Execute() = %+v, want success", res)
	}

	kinds := auditKinds(t, env.Audit.Path())
	if kinds[audit.KindTaskStarted] != 1 || kinds[audit.KindTaskSucceeded] != 1 {
		t.Errorf("audit kinds = %v, want started and succeeded", kinds)
	}
}

func TestExecutorBudgetExhaustion(t *testing.T) {
	t.Parallel()

	env, local := newTestEnv(t, 0.005)
	local.CostPerCall = 0.01
	x := NewExecutor(env, time.Minute)
	task := NewTask(env.Session.ID, "recon", Role{Kind: KindRecon})

	res := x.Execute(context.Background(), task, func(ctx context.Context, env *Env, task Task) error {
		_, err := env.Complete(ctx, task, "hello")
		return err
	})
	if res.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed", res.Status)
	}
	if !res.BudgetExhausted {
		t.Errorf("BudgetExhausted = false, want true")
	}
	if env.Budget.Spent() != 0 {
		t.Errorf("Spent() = %f after denied charge, want 0", env.Budget.Spent())
	}
}

func TestExecutorCancellation(t *testing.T) {
	t.Parallel()

	env, _ := newTestEnv(t, 0)
	x := NewExecutor(env, time.Minute)
	task := NewTask(env.Session.ID, "recon", Role{Kind: KindRecon})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := x.Execute(ctx, task, func(ctx context.Context, env *Env, task Task) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if res.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", res.Status)
	}

	kinds := auditKinds(t, env.Audit.Path())
	if kinds[audit.KindTaskCancelled] != 1 {
		t.Errorf("audit kinds = %v, want one task-cancelled", kinds)
	}
}

func TestCompleteChargesAndAudits(t *testing.T) {
	t.Parallel()

	env, local := newTestEnv(t, 1.0)
	local.CostPerCall = 0.25
	task := NewTask(env.Session.ID, "recon", Role{Kind: KindRecon})

	if _, err := env.Complete(context.Background(), task, "hello"); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got := env.Budget.Spent(); got != 0.25 {
		t.Errorf("Spent() = %f, want 0.25", got)
	}

	kinds := auditKinds(t, env.Audit.Path())
	if kinds[audit.KindCharge] != 1 {
		t.Errorf("audit kinds = %v, want one charge", kinds)
	}
}

func TestReportScopeExclusion(t *testing.T) {
	t.Parallel()

	env, _ := newTestEnv(t, 0)
	env.Scope = scope.FromPatterns("", "/admin/*")
	task := NewTask(env.Session.ID, "recon", Role{Kind: KindRecon})

	_, accepted := env.Report(task, finding.Finding{
		Category: finding.CategoryAuthz,
		Title:    "IDOR",
		Endpoint: "/admin/users",
		Severity: finding.High,
		Source:   finding.SourceRecon,
	})
	if accepted {
		t.Fatal("Report() accepted an avoided endpoint")
	}
	if env.Ledger.Count() != 0 {
		t.Errorf("Ledger.Count() = %d, want 0", env.Ledger.Count())
	}

	kinds := auditKinds(t, env.Audit.Path())
	if kinds[audit.KindScopeExcluded] != 1 {
		t.Errorf("audit kinds = %v, want one scope-excluded", kinds)
	}
}

func TestReconWorkReportsFindings(t *testing.T) {
	t.Parallel()

	env, local := newTestEnv(t, 0)
	local.Script("Probe output", `Here is what I found:
[
  {"category": "infrastructure", "title": "Outdated nginx", "endpoint": "https://app.example.com:443", "severity": "medium", "evidence": "server banner"},
  {"category": "xss", "title": "Reflected parameter", "endpoint": "/search", "severity": "high"}
]`)

	task := NewTask(env.Session.ID, "recon", Role{Kind: KindRecon})
	if err := ReconWork(context.Background(), env, task); err != nil {
		t.Fatalf("ReconWork() error: %v", err)
	}
	if got := env.Ledger.Count(); got != 2 {
		t.Errorf("Ledger.Count() = %d, want 2", got)
	}

	kinds := auditKinds(t, env.Audit.Path())
	if kinds[audit.KindFindingDiscovered] != 2 {
		t.Errorf("audit kinds = %v, want two finding-discovered", kinds)
	}
}

func TestExploitationWorkAssignsVerdicts(t *testing.T) {
	t.Parallel()

	env, local := newTestEnv(t, 0)
	local.Script("Classify the outcome", "VERDICT: EXPLOITED payload returned database version")

	id, _ := env.Ledger.Add(finding.Finding{
		Category: finding.CategoryInjection,
		Title:    "SQLi in id",
		Endpoint: "/api/users",
		Severity: finding.High,
		Source:   finding.SourceWhitebox,
	})

	task := NewTask(env.Session.ID, "exploitation", Role{Kind: KindExploitation, Category: finding.CategoryInjection})
	if err := ExploitationWork(context.Background(), env, task); err != nil {
		t.Fatalf("ExploitationWork() error: %v", err)
	}

	f, err := env.Ledger.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if f.Verdict != finding.VerdictExploited {
		t.Errorf("Verdict = %s, want EXPLOITED", f.Verdict)
	}
	if f.Proof == "" {
		t.Error("Proof is empty")
	}

	kinds := auditKinds(t, env.Audit.Path())
	if kinds[audit.KindFindingClaimed] != 1 || kinds[audit.KindVerdictAssigned] != 1 {
		t.Errorf("audit kinds = %v, want claim and verdict", kinds)
	}
}

func TestExploitationWorkSettlesClaimOnStop(t *testing.T) {
	t.Parallel()

	env, local := newTestEnv(t, 0)
	local.Script("Classify the outcome", "VERDICT: EXPLOITED")

	// The first tool run stops the session while the finding is claimed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.Tools = techniques.NewPool(techniques.InvokerFunc(func(c context.Context, inv techniques.Invocation) (*techniques.Output, error) {
		cancel()
		<-c.Done()
		return nil, c.Err()
	}), 4, 1000)

	id, _ := env.Ledger.Add(finding.Finding{
		Category: finding.CategoryInjection,
		Title:    "SQLi in id",
		Endpoint: "/api/users",
		Severity: finding.High,
		Source:   finding.SourceRecon,
	})

	task := NewTask(env.Session.ID, "exploitation", Role{Kind: KindExploitation, Category: finding.CategoryInjection})
	err := ExploitationWork(ctx, env, task)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ExploitationWork() error = %v, want context.Canceled", err)
	}

	f, err := env.Ledger.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if f.State == finding.StateClaimed {
		t.Fatal("finding left claimed with no verdict after stop")
	}
	if f.Verdict != finding.VerdictPotential {
		t.Errorf("Verdict = %s, want POTENTIAL after an interrupted run", f.Verdict)
	}
}

func TestCompleteEmitsBudgetWarning(t *testing.T) {
	t.Parallel()

	env, local := newTestEnv(t, 0.025)
	local.CostPerCall = 0.01
	task := NewTask(env.Session.ID, "recon", Role{Kind: KindRecon})

	// Two charges land exactly on the 80% threshold; the warning fires
	// once and only once.
	for i := 0; i < 2; i++ {
		if _, err := env.Complete(context.Background(), task, "probe"); err != nil {
			t.Fatalf("Complete() call %d error: %v", i+1, err)
		}
	}

	kinds := auditKinds(t, env.Audit.Path())
	if kinds[audit.KindBudgetWarning] != 1 {
		t.Errorf("budget warning events = %d, want exactly 1", kinds[audit.KindBudgetWarning])
	}
}

func TestParseFindingsTolerance(t *testing.T) {
	t.Parallel()

	text := "Some prose first.\n```json\n" +
		`[{"category":"injection","title":"a","endpoint":"/x","severity":"high"},` +
		`{"category":"bogus","title":"b","endpoint":"/y","severity":"low"},` +
		`{"category":"xss","title":"c","endpoint":"/z","severity":"weird"}]` +
		"\n```\ntrailing prose"
	got, err := parseFindings(text, finding.SourceRecon)
	if err != nil {
		t.Fatalf("parseFindings() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("parseFindings() = %d findings, want 2 (bogus category dropped)", len(got))
	}
	if got[1].Severity != finding.Medium {
		t.Errorf("unknown severity = %s, want medium default", got[1].Severity)
	}
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		want  finding.Verdict
		proof string
	}{
		{"VERDICT: EXPLOITED dumped schema", finding.VerdictExploited, "dumped schema"},
		{"analysis...\nverdict: blocked_by_security WAF 403", finding.VerdictBlockedBySecurity, "WAF 403"},
		{"VERDICT: FALSE_POSITIVE", finding.VerdictFalsePositive, ""},
		{"nothing conclusive here", finding.VerdictPotential, "nothing conclusive here"},
	}
	for _, tt := range tests {
		v, proof := parseVerdict(tt.in)
		if v != tt.want || proof != tt.proof {
			t.Errorf("parseVerdict(%q) = %s, %q; want %s, %q", tt.in, v, proof, tt.want, tt.proof)
		}
	}
}
