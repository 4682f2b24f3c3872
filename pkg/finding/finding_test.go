package finding

import "testing"

func TestSeverity_ScoreOrdering(t *testing.T) {
	t.Parallel()
	order := []Severity{Critical, High, Medium, Low, Info}
	for i := 1; i < len(order); i++ {
		if order[i-1].Score() <= order[i].Score() {
			t.Errorf("expected %s > %s", order[i-1], order[i])
		}
	}
	if Severity("bogus").Score() != 0 {
		t.Error("unknown severity should score 0")
	}
}

func TestFromCVSS(t *testing.T) {
	t.Parallel()
	cases := []struct {
		score float64
		want  Severity
	}{
		{9.8, Critical},
		{9.0, Critical},
		{7.5, High},
		{5.0, Medium},
		{2.1, Low},
		{0, Info},
	}
	for _, tc := range cases {
		if got := FromCVSS(tc.score); got != tc.want {
			t.Errorf("FromCVSS(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestVerdict_Reportable(t *testing.T) {
	t.Parallel()
	if !VerdictExploited.Reportable() {
		t.Error("EXPLOITED must be reportable")
	}
	if !VerdictBlockedBySecurity.Reportable() {
		t.Error("BLOCKED_BY_SECURITY must be reportable")
	}
	for _, v := range []Verdict{VerdictPotential, VerdictFalsePositive, VerdictOutOfScopeInternal} {
		if v.Reportable() {
			t.Errorf("%s must not be reportable", v)
		}
	}
}

func TestCategory_Filenames(t *testing.T) {
	t.Parallel()
	if got := CategoryInjection.QueueFilename(); got != "injection_exploitation_queue.json" {
		t.Errorf("unexpected queue filename %q", got)
	}
	if got := CategoryXSS.EvidenceFilename(); got != "xss_exploitation_evidence.md" {
		t.Errorf("unexpected evidence filename %q", got)
	}
	if got := CategorySSRF.AnalysisFilename(); got != "ssrf_analysis_deliverable.md" {
		t.Errorf("unexpected analysis filename %q", got)
	}
}

func TestCategory_IsValid(t *testing.T) {
	t.Parallel()
	for _, c := range AnalysisCategories {
		if !c.IsValid() {
			t.Errorf("%s should be valid", c)
		}
	}
	if Category("rce").IsValid() {
		t.Error("unknown category should be invalid")
	}
}
