package finding

import (
	"fmt"
	"time"
)

// Category identifies the vulnerability class a finding belongs to.
// The five analysis categories each map to one concurrent analysis and
// one exploitation agent; Infrastructure covers network/transport-level
// findings surfaced during reconnaissance.
type Category string

const (
	CategoryInjection      Category = "injection"
	CategoryXSS            Category = "xss"
	CategoryAuth           Category = "auth"
	CategorySSRF           Category = "ssrf"
	CategoryAuthz          Category = "authz"
	CategoryInfrastructure Category = "infrastructure"
)

// AnalysisCategories lists the categories that get a dedicated
// analysis/exploitation agent pair, in dispatch order.
var AnalysisCategories = []Category{
	CategoryInjection,
	CategoryXSS,
	CategoryAuth,
	CategorySSRF,
	CategoryAuthz,
}

// IsValid reports whether c is a recognized category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryInjection, CategoryXSS, CategoryAuth, CategorySSRF,
		CategoryAuthz, CategoryInfrastructure:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// AnalysisFilename returns the deliverable filename for this
// category's vulnerability-analysis output.
func (c Category) AnalysisFilename() string {
	return fmt.Sprintf("%s_analysis_deliverable.md", c)
}

// QueueFilename returns the deliverable filename for this category's
// exploitation queue.
func (c Category) QueueFilename() string {
	return fmt.Sprintf("%s_exploitation_queue.json", c)
}

// EvidenceFilename returns the deliverable filename for this
// category's exploitation evidence bundle.
func (c Category) EvidenceFilename() string {
	return fmt.Sprintf("%s_exploitation_evidence.md", c)
}

// Source records how a finding was discovered.
type Source string

const (
	// SourceWhitebox marks findings from source code analysis.
	SourceWhitebox Source = "whitebox"
	// SourceRecon marks findings from reconnaissance scanning.
	SourceRecon Source = "recon"
	// SourceTool marks findings produced by an external tool invocation.
	SourceTool Source = "tool"
)

// Verdict is the exploitation outcome classification assigned to a
// finding. Serialized values are SCREAMING_SNAKE_CASE for parity with
// the deliverable format.
type Verdict string

const (
	// VerdictExploited: impact successfully demonstrated via the public interface.
	VerdictExploited Verdict = "EXPLOITED"
	// VerdictBlockedBySecurity: valid vulnerability blocked by WAF/security controls.
	VerdictBlockedBySecurity Verdict = "BLOCKED_BY_SECURITY"
	// VerdictPotential: analysis suggests a vulnerability but the live test was inconclusive.
	VerdictPotential Verdict = "POTENTIAL"
	// VerdictFalsePositive: not actually vulnerable after testing.
	VerdictFalsePositive Verdict = "FALSE_POSITIVE"
	// VerdictOutOfScopeInternal: requires internal access, not pursued.
	VerdictOutOfScopeInternal Verdict = "OUT_OF_SCOPE_INTERNAL"
)

// IsValid reports whether v is a recognized verdict.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictExploited, VerdictBlockedBySecurity, VerdictPotential,
		VerdictFalsePositive, VerdictOutOfScopeInternal:
		return true
	}
	return false
}

// Reportable reports whether the verdict represents a confirmed issue
// that belongs in the final report. Only EXPLOITED and
// BLOCKED_BY_SECURITY qualify.
func (v Verdict) Reportable() bool {
	return v == VerdictExploited || v == VerdictBlockedBySecurity
}

// State tracks a finding through the verdict state machine.
type State string

const (
	// StateDiscovered: created by an analysis agent, not yet accepted.
	StateDiscovered State = "discovered"
	// StateQueued: accepted into the exploitation queue after de-duplication.
	StateQueued State = "queued"
	// StateClaimed: atomically claimed by exactly one exploitation task.
	StateClaimed State = "claimed"
	// StateVerdictAssigned: terminal; the verdict field is now immutable.
	StateVerdictAssigned State = "verdict-assigned"
)

// Evidence is one supporting observation attached to a finding.
// Duplicate reports of the same underlying issue merge as additional
// evidence entries rather than new findings.
type Evidence struct {
	Source Source    `json:"source"`
	Tool   string    `json:"tool,omitempty"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Finding is a single candidate or confirmed vulnerability.
type Finding struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`

	// Endpoint is the normalized target path or URL the finding applies
	// to. Together with Category it forms the de-duplication signature.
	Endpoint string `json:"endpoint"`

	Severity Severity `json:"severity"`
	CWE      string   `json:"cwe,omitempty"`
	CVSS     float64  `json:"cvss,omitempty"`

	Source   Source     `json:"source"`
	Evidence []Evidence `json:"evidence,omitempty"`

	State State `json:"state"`

	// Verdict is empty until an exploitation agent assigns one.
	Verdict Verdict `json:"verdict,omitempty"`
	// VerdictBy is the task id of the exploitation agent that assigned
	// the verdict.
	VerdictBy string `json:"verdict_by,omitempty"`
	// Proof holds reproduction steps when the verdict is EXPLOITED.
	Proof string `json:"proof,omitempty"`

	// Supersedes back-references the finding this one re-tests, if any.
	Supersedes string `json:"supersedes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether the finding has reached its terminal state.
func (f *Finding) Terminal() bool {
	return f.State == StateVerdictAssigned
}
