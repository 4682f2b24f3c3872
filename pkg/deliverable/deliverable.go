// Package deliverable writes the scan's output artifacts: the findings
// inventory, per-category analysis and evidence files, the final
// report, and session metrics. All JSON artifacts are written through
// a temp file and rename so readers never observe a partial file.
package deliverable

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/finding"
	"github.com/vulnpilot/vulnpilot/pkg/jsonutil"
)

// Writer manages the deliverables directory for one session.
type Writer struct {
	dir string
}

// NewWriter creates the deliverables directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("deliverable: create dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the deliverables directory.
func (w *Writer) Dir() string { return w.dir }

func (w *Writer) writeJSON(name string, v any) error {
	data, err := jsonutil.MarshalIndent(v, "  ")
	if err != nil {
		return fmt.Errorf("deliverable: marshal %s: %w", name, err)
	}
	return w.writeAtomic(name, append(data, '\n'))
}

func (w *Writer) writeAtomic(name string, data []byte) error {
	path := filepath.Join(w.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("deliverable: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("deliverable: commit %s: %w", name, err)
	}
	return nil
}

// WriteFindings writes the complete findings inventory.
func (w *Writer) WriteFindings(findings []finding.Finding) error {
	return w.writeJSON("findings.json", findings)
}

// WriteAnalysis writes one category's vulnerability analysis as a
// markdown deliverable.
func (w *Writer) WriteAnalysis(cat finding.Category, summary string, findings []finding.Finding) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s analysis\n\nGenerated: %s\n\n%s\n",
		cat, time.Now().UTC().Format(time.RFC3339), summary)
	if len(findings) > 0 {
		sb.WriteString("\n## Exploitation candidates\n\n")
		for _, f := range findings {
			fmt.Fprintf(&sb, "- `%s` %s at %s (severity %s)\n", f.ID, f.Title, f.Endpoint, f.Severity)
		}
	}
	return w.writeAtomic(cat.AnalysisFilename(), []byte(sb.String()))
}

// WriteQueue writes one category's exploitation queue.
func (w *Writer) WriteQueue(cat finding.Category, findings []finding.Finding) error {
	return w.writeJSON(cat.QueueFilename(), findings)
}

// WriteEvidence writes one category's exploitation evidence: the
// verdict-assigned findings with their proofs, as markdown.
func (w *Writer) WriteEvidence(cat finding.Category, findings []finding.Finding) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s exploitation evidence\n\n", cat)
	if len(findings) == 0 {
		sb.WriteString("No findings reached a verdict in this category.\n")
	}
	for _, f := range findings {
		fmt.Fprintf(&sb, "## %s\n\n- Endpoint: %s\n- Severity: %s\n- Verdict: %s\n",
			f.Title, f.Endpoint, f.Severity, f.Verdict)
		if f.Proof != "" {
			fmt.Fprintf(&sb, "\n```\n%s\n```\n", f.Proof)
		}
		sb.WriteString("\n")
	}
	return w.writeAtomic(cat.EvidenceFilename(), []byte(sb.String()))
}

// WriteReport writes the final engagement report markdown.
func (w *Writer) WriteReport(markdown string) error {
	return w.writeAtomic("report.md", []byte(markdown))
}

// Coverage summarizes what the scan did and did not get to.
type Coverage struct {
	GeneratedAt    time.Time                `json:"generated_at"`
	TotalFindings  int                      `json:"total_findings"`
	ByVerdict      map[finding.Verdict]int  `json:"by_verdict"`
	QueuedUntested map[finding.Category]int `json:"queued_untested,omitempty"`
	PhasesRun      []string                 `json:"phases_run"`
	PhasesSkipped  []string                 `json:"phases_skipped,omitempty"`
}

// WriteCoverage writes the coverage summary.
func (w *Writer) WriteCoverage(c Coverage) error {
	c.GeneratedAt = time.Now().UTC()
	return w.writeJSON("coverage.json", c)
}

// Metrics captures the session's accounting for operators.
type Metrics struct {
	SessionID string        `json:"session_id"`
	Target    string        `json:"target"`
	Status    string        `json:"status"`
	CostUSD   float64       `json:"cost_usd"`
	Duration  time.Duration `json:"duration_ns,format:nano"`
	Findings  int           `json:"findings"`
	Reported  int           `json:"reported"`
}

// WriteMetrics writes the session metrics artifact.
func (w *Writer) WriteMetrics(m Metrics) error {
	return w.writeJSON("session_metrics.json", m)
}
