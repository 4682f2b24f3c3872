// Command vulnpilot runs the autonomous penetration testing pipeline
// against a single authorized target.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/agent"
	"github.com/vulnpilot/vulnpilot/pkg/audit"
	"github.com/vulnpilot/vulnpilot/pkg/budget"
	"github.com/vulnpilot/vulnpilot/pkg/config"
	"github.com/vulnpilot/vulnpilot/pkg/deliverable"
	"github.com/vulnpilot/vulnpilot/pkg/ledger"
	"github.com/vulnpilot/vulnpilot/pkg/llm"
	"github.com/vulnpilot/vulnpilot/pkg/metrics"
	"github.com/vulnpilot/vulnpilot/pkg/pipeline"
	"github.com/vulnpilot/vulnpilot/pkg/scope"
	"github.com/vulnpilot/vulnpilot/pkg/session"
	"github.com/vulnpilot/vulnpilot/pkg/techniques"
	"github.com/vulnpilot/vulnpilot/pkg/toolexec"
	"github.com/vulnpilot/vulnpilot/pkg/ui"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitStopped = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, config.ErrUsage) {
			return exitUsage
		}
		return exitFailed
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ui.SetSilent(cfg.Silent)
	fmt.Print(ui.Banner(cfg.Target.Raw))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		logger.Error("create state dir", "err", err)
		return exitFailed
	}
	logPath := filepath.Join(cfg.StateDir, "audit.jsonl")

	sess := session.New(cfg.Target, cfg.RepoPath, cfg.Intensity)
	sess.Auth = cfg.Auth

	var resumeEntries []budget.Entry
	if cfg.Resume {
		state, err := audit.Recover(logPath, audit.SummaryPath(logPath), cfg.Target.Raw)
		if err != nil {
			logger.Error("resume failed", "err", err)
			return exitFailed
		}
		if st := session.Status(state.Status); st.Terminal() {
			fmt.Printf("session %s already %s, nothing to resume\n", state.SessionID, state.Status)
			return exitOK
		}
		events, err := audit.Replay(logPath)
		if err != nil {
			logger.Error("resume replay failed", "err", err)
			return exitFailed
		}
		for _, e := range audit.CostEntries(events) {
			resumeEntries = append(resumeEntries, budget.Entry{TaskID: e.Task, Amount: e.Amount, Total: e.Total, At: e.At})
		}
		if state.SessionID != "" {
			sess.ID = state.SessionID
		}
		logger.Info("resuming session", "session", sess.ID, "last_seq", state.LastSeq)
	}

	auditLog, err := audit.Open(logPath)
	if err != nil {
		logger.Error("open audit log", "err", err)
		return exitFailed
	}
	defer auditLog.Close()

	gov := budget.New(cfg.BudgetUSD,
		budget.WithWarnFunc(agent.BudgetWarn(auditLog, sess.ID, logger)))
	if len(resumeEntries) > 0 {
		gov.Restore(resumeEntries)
		logger.Info("budget restored", "spent_usd", gov.Spent())
	}

	var rules *scope.RuleSet
	if cfg.ScopeFile != "" {
		rules, err = scope.Load(cfg.ScopeFile)
		if err != nil {
			logger.Error("load scope file", "err", err)
			return exitFailed
		}
	} else {
		rules = scope.FromPatterns(cfg.Focus, cfg.Avoid)
	}

	lib := techniques.Default()
	if cfg.TechniquesFile != "" {
		lib, err = techniques.Load(cfg.TechniquesFile)
		if err != nil {
			logger.Error("load technique catalog", "err", err)
			return exitFailed
		}
	}

	reg := llm.NewRegistry()
	reg.Register(llm.NewLocalClient())
	reg.Register(llm.NewAnthropicClient(os.Getenv("ANTHROPIC_API_KEY"), cfg.Model))
	reg.Register(llm.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), cfg.Model))
	if client, ok := reg.Get(cfg.Provider); ok {
		if err := client.Validate(ctx); err != nil {
			logger.Error("provider validation failed", "provider", cfg.Provider, "err", err)
			return exitFailed
		}
	}

	dw, err := deliverable.NewWriter(filepath.Join(cfg.OutputDir, sess.ID, "deliverables"))
	if err != nil {
		logger.Error("create deliverables dir", "err", err)
		return exitFailed
	}

	env := &agent.Env{
		Session:      sess,
		Provider:     cfg.Provider,
		LLM:          reg,
		Prompts:      llm.NewPromptLoader(cfg.PromptsDir),
		Tools:        techniques.NewPool(toolexec.New(logger), cfg.ToolConcurrency, cfg.ToolRate),
		Techniques:   lib,
		Scope:        rules,
		Ledger:       ledger.NewStore(),
		Budget:       gov,
		Audit:        auditLog,
		Deliverables: dw,
		Logger:       logger,
	}

	opts := []pipeline.Option{pipeline.WithTaskTimeout(cfg.TaskTimeout)}
	if cfg.MetricsPort > 0 {
		msrv, err := metrics.New(metrics.Options{Port: cfg.MetricsPort})
		if err != nil {
			logger.Error("start metrics server", "err", err)
			return exitFailed
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			msrv.Close(shutdownCtx)
		}()
		env.Metrics = msrv
		opts = append(opts, pipeline.WithMetrics(msrv))
	}

	err = pipeline.New(env, opts...).Run(ctx)
	fmt.Print(ui.Summary(env.Ledger.List(), gov.Spent()))

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pipeline.ErrStopped):
		logger.Info("session stopped by signal")
		return exitStopped
	default:
		logger.Error("session failed", "err", err)
		return exitFailed
	}
}
