package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/vulnpilot/vulnpilot/pkg/finding"
	"github.com/vulnpilot/vulnpilot/pkg/ledger"
	"github.com/vulnpilot/vulnpilot/pkg/techniques"
)

// WorkFor returns the procedure for a role.
func WorkFor(role Role) (Work, error) {
	switch role.Kind {
	case KindWhitebox:
		return WhiteboxWork, nil
	case KindRecon:
		return ReconWork, nil
	case KindAnalysis:
		return AnalysisWork, nil
	case KindExploitation:
		return ExploitationWork, nil
	case KindReporting:
		return ReportingWork, nil
	default:
		return nil, fmt.Errorf("agent: no work for role %q", role)
	}
}

// sourceExts are file extensions considered reviewable source.
var sourceExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".rb": true,
	".php": true, ".java": true, ".cs": true, ".rs": true, ".sql": true,
	".yaml": true, ".yml": true, ".json": true, ".env": true,
}

// maxRepoFiles caps how many paths a whitebox prompt lists.
const maxRepoFiles = 200

// WhiteboxWork reviews the supplied repository for weaknesses and
// reports suspect endpoints into the ledger.
func WhiteboxWork(ctx context.Context, env *Env, task Task) error {
	if !env.Session.HasRepo() {
		return fmt.Errorf("agent: whitebox requires a repository")
	}

	var files []string
	err := filepath.WalkDir(env.Session.RepoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceExts[strings.ToLower(filepath.Ext(path))] {
			rel, rerr := filepath.Rel(env.Session.RepoPath, path)
			if rerr != nil {
				rel = path
			}
			files = append(files, rel)
		}
		if len(files) >= maxRepoFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("agent: walk repo: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("agent: no reviewable source under %s", env.Session.RepoPath)
	}

	prompt := fmt.Sprintf(
		"Target: %s\nRepository files:\n%s\n\nReview for weaknesses and reply with a JSON array of findings "+
			"(category, title, endpoint, severity, cwe, description, evidence).",
		env.Session.Target.Host, strings.Join(files, "\n"))
	resp, err := env.Complete(ctx, task, prompt)
	if err != nil {
		return err
	}

	found, err := parseFindings(resp.Text, finding.SourceWhitebox)
	if err != nil {
		return err
	}
	for _, f := range found {
		env.Report(task, f)
	}
	return nil
}

// ReconWork maps the live attack surface: it runs the passive and
// low-level infrastructure techniques allowed at this intensity, then
// has the model interpret the output into findings.
func ReconWork(ctx context.Context, env *Env, task Task) error {
	level := env.Session.Intensity.MaxLevel()
	var outputs []string
	for _, tech := range env.Techniques.ForCategory(finding.CategoryInfrastructure, level) {
		out, err := env.RunTool(ctx, task, techniques.Invocation{
			Technique: tech,
			Target:    env.Session.Target.Host,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			env.Logger.Warn("recon probe failed", "technique", tech.Name, "err", err)
			continue
		}
		if out != nil {
			outputs = append(outputs, fmt.Sprintf("## %s\n%s", tech.Name, out.Stdout))
		}
	}

	prompt := fmt.Sprintf(
		"Target: %s\nProbe output:\n%s\n\nIdentify weaknesses worth deeper analysis and reply with a JSON "+
			"array of findings (category, title, endpoint, severity, description, evidence).",
		env.Session.Target.Raw, strings.Join(outputs, "\n\n"))
	resp, err := env.Complete(ctx, task, prompt)
	if err != nil {
		return err
	}

	found, err := parseFindings(resp.Text, finding.SourceRecon)
	if err != nil {
		return err
	}
	for _, f := range found {
		env.Report(task, f)
	}
	return nil
}

// AnalysisWork reviews the discovered findings for one category,
// ranks them for exploitation, and writes the category's analysis and
// queue deliverables. The model may also contribute new findings it
// infers from the combined picture.
func AnalysisWork(ctx context.Context, env *Env, task Task) error {
	cat := task.Role.Category
	queued := env.Ledger.Queued(cat)

	catalog := env.Techniques.ForCategory(cat, env.Session.Intensity.MaxLevel())
	var techNames []string
	for _, t := range catalog {
		techNames = append(techNames, t.Name)
	}

	prompt := fmt.Sprintf(
		"Category: %s\nTarget: %s\nAvailable techniques: %s\nDiscovered findings:\n%s\n\n"+
			"Summarize exploitability and reply with a JSON array of any additional findings "+
			"this combination suggests (category, title, endpoint, severity, description).",
		cat, env.Session.Target.Raw, strings.Join(techNames, ", "), describeFindings(queued))
	resp, err := env.Complete(ctx, task, prompt)
	if err != nil {
		return err
	}

	// Extra findings are a bonus; a prose-only answer is still a
	// completed analysis.
	if extra, perr := parseFindings(resp.Text, finding.SourceWhitebox); perr == nil {
		for _, f := range extra {
			if f.Category == cat {
				env.Report(task, f)
			}
		}
	}

	queue := env.Ledger.Queued(cat)
	if err := env.Deliverables.WriteAnalysis(cat, resp.Text, queue); err != nil {
		return err
	}
	return env.Deliverables.WriteQueue(cat, queue)
}

// ExploitationWork drains the category's queue: claim a finding, probe
// it with the allowed techniques, and have the model classify the
// outcome into a verdict. Findings claimed by a sibling worker are
// skipped.
func ExploitationWork(ctx context.Context, env *Env, task Task) error {
	cat := task.Role.Category
	level := env.Session.Intensity.MaxLevel()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var claimed *finding.Finding
		for _, f := range env.Ledger.Queued(cat) {
			f := f
			err := env.Claim(task, f.ID)
			if err == nil {
				claimed = &f
				break
			}
			if errors.Is(err, ledger.ErrNotQueued) {
				continue
			}
			return err
		}
		if claimed == nil {
			return nil
		}
		if err := exploitClaimed(ctx, env, task, *claimed, level); err != nil {
			return err
		}
	}
}

// exploitClaimed probes one claimed finding and settles its verdict.
// A claim is never left open: if the session stops mid-probe the
// finding is recorded as inconclusive rather than stranded claimed.
func exploitClaimed(ctx context.Context, env *Env, task Task, claimed finding.Finding, level int) error {
	verdict, proof, err := classifyFinding(ctx, env, task, claimed, level)
	if err != nil {
		if ctx.Err() == nil {
			return err
		}
		if verr := env.AssignVerdict(task, claimed.ID, finding.VerdictPotential,
			"session stopped before the outcome could be classified"); verr != nil {
			return verr
		}
		return err
	}
	return env.AssignVerdict(task, claimed.ID, verdict, proof)
}

func classifyFinding(ctx context.Context, env *Env, task Task, claimed finding.Finding, level int) (finding.Verdict, string, error) {
	cat := claimed.Category

	var outputs []string
	for _, tech := range env.Techniques.ForCategory(cat, level) {
		out, err := env.RunTool(ctx, task, techniques.Invocation{
			Technique: tech,
			Target:    claimed.Endpoint,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			env.Logger.Warn("exploitation probe failed",
				"technique", tech.Name, "finding", claimed.ID, "err", err)
			continue
		}
		if out != nil {
			outputs = append(outputs, fmt.Sprintf("## %s (exit %d)\n%s", tech.Name, out.ExitCode, out.Stdout))
		}
	}

	prompt := fmt.Sprintf(
		"Finding: %s at %s (%s, severity %s)\nDescription: %s\nProbe output:\n%s\n\n"+
			"Classify the outcome. Reply with one line of the form VERDICT: <EXPLOITED|"+
			"BLOCKED_BY_SECURITY|POTENTIAL|FALSE_POSITIVE|OUT_OF_SCOPE_INTERNAL> followed by the proof.",
		claimed.Title, claimed.Endpoint, claimed.Category, claimed.Severity,
		claimed.Description, strings.Join(outputs, "\n\n"))
	resp, err := env.Complete(ctx, task, prompt)
	if err != nil {
		return "", "", err
	}

	verdict, proof := parseVerdict(resp.Text)
	return verdict, proof, nil
}

// ReportingWork writes the engagement report and the findings and
// evidence artifacts from whatever verdicts the session reached.
func ReportingWork(ctx context.Context, env *Env, task Task) error {
	all := env.Ledger.List()

	if err := env.Deliverables.WriteFindings(all); err != nil {
		return err
	}
	for _, cat := range finding.AnalysisCategories {
		var decided []finding.Finding
		for _, f := range all {
			if f.Category == cat && f.Terminal() {
				decided = append(decided, f)
			}
		}
		if len(decided) > 0 {
			if err := env.Deliverables.WriteEvidence(cat, decided); err != nil {
				return err
			}
		}
	}

	prompt := fmt.Sprintf(
		"Target: %s\nSession findings with verdicts:\n%s\n\n"+
			"Write a markdown engagement report: executive summary, confirmed issues "+
			"(EXPLOITED and BLOCKED_BY_SECURITY only), then remaining observations.",
		env.Session.Target.Raw, describeFindings(all))
	resp, err := env.Complete(ctx, task, prompt)
	if err != nil {
		return err
	}
	return env.Deliverables.WriteReport(resp.Text)
}

func describeFindings(list []finding.Finding) string {
	if len(list) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, f := range list {
		fmt.Fprintf(&sb, "- [%s] %s at %s (severity %s", f.Category, f.Title, f.Endpoint, f.Severity)
		if f.Verdict != "" {
			fmt.Fprintf(&sb, ", verdict %s", f.Verdict)
		}
		sb.WriteString(")\n")
	}
	return sb.String()
}
