package agent

import (
	"fmt"
	"strings"

	"github.com/vulnpilot/vulnpilot/pkg/finding"
	"github.com/vulnpilot/vulnpilot/pkg/jsonutil"
)

// reportedFinding is the JSON shape agents are prompted to emit per
// discovered weakness.
type reportedFinding struct {
	Category    string  `json:"category"`
	Title       string  `json:"title"`
	Endpoint    string  `json:"endpoint"`
	Severity    string  `json:"severity"`
	CWE         string  `json:"cwe,omitempty"`
	CVSS        float64 `json:"cvss,omitempty"`
	Description string  `json:"description,omitempty"`
	Evidence    string  `json:"evidence,omitempty"`
}

// parseFindings extracts the findings array from a model response.
// The array may be wrapped in prose or a code fence; anything outside
// the outermost brackets is ignored. Records with unknown categories
// or severities are skipped rather than failing the batch.
func parseFindings(text string, src finding.Source) ([]finding.Finding, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("agent: no findings array in response")
	}

	var raw []reportedFinding
	if err := jsonutil.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("agent: decode findings: %w", err)
	}

	var out []finding.Finding
	for _, r := range raw {
		cat := finding.Category(strings.ToLower(r.Category))
		if !cat.IsValid() || r.Endpoint == "" {
			continue
		}
		sev := finding.Severity(strings.ToLower(r.Severity))
		if !sev.IsValid() {
			sev = finding.Medium
		}
		f := finding.Finding{
			Category:    cat,
			Title:       r.Title,
			Endpoint:    r.Endpoint,
			Severity:    sev,
			CWE:         r.CWE,
			CVSS:        r.CVSS,
			Description: r.Description,
			Source:      src,
		}
		if r.Evidence != "" {
			f.Evidence = []finding.Evidence{{Source: src, Detail: r.Evidence}}
		}
		out = append(out, f)
	}
	return out, nil
}

// verdictKeywords maps response markers to verdicts, checked in order
// so the most specific outcome wins.
var verdictKeywords = []struct {
	marker  string
	verdict finding.Verdict
}{
	{"VERDICT: EXPLOITED", finding.VerdictExploited},
	{"VERDICT: BLOCKED_BY_SECURITY", finding.VerdictBlockedBySecurity},
	{"VERDICT: FALSE_POSITIVE", finding.VerdictFalsePositive},
	{"VERDICT: OUT_OF_SCOPE_INTERNAL", finding.VerdictOutOfScopeInternal},
	{"VERDICT: POTENTIAL", finding.VerdictPotential},
}

// parseVerdict extracts the verdict marker and the proof text that
// follows it. Responses with no recognizable marker default to
// POTENTIAL so a flaky model never invents exploitation success.
func parseVerdict(text string) (finding.Verdict, string) {
	upper := strings.ToUpper(text)
	for _, vk := range verdictKeywords {
		idx := strings.Index(upper, vk.marker)
		if idx < 0 {
			continue
		}
		proof := strings.TrimSpace(text[idx+len(vk.marker):])
		proof = strings.TrimPrefix(proof, ":")
		return vk.verdict, strings.TrimSpace(proof)
	}
	return finding.VerdictPotential, strings.TrimSpace(text)
}
