package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/finding"
)

func queuedFinding(t *testing.T, s *Store, cat finding.Category, endpoint string) string {
	t.Helper()
	id, merged := s.Add(finding.Finding{
		Category: cat,
		Title:    "test finding",
		Endpoint: endpoint,
		Severity: finding.High,
		Source:   finding.SourceRecon,
	})
	if merged {
		t.Fatalf("Add() merged, want new finding")
	}
	return id
}

func TestSignatureNormalization(t *testing.T) {
	t.Parallel()

	a := Signature(finding.CategoryInjection, "/api/users/")
	b := Signature(finding.CategoryInjection, "/API/Users")
	if a != b {
		t.Errorf("Signature() differs for equivalent endpoints: %d vs %d", a, b)
	}

	c := Signature(finding.CategoryXSS, "/api/users")
	if a == c {
		t.Errorf("Signature() collides across categories")
	}
}

func TestAddDeduplicatesBySignature(t *testing.T) {
	t.Parallel()

	s := NewStore()
	id1, merged := s.Add(finding.Finding{
		Category: finding.CategoryInjection,
		Title:    "SQL injection in id param",
		Endpoint: "/api/users",
		Severity: finding.Medium,
		Source:   finding.SourceWhitebox,
		Evidence: []finding.Evidence{{Source: finding.SourceWhitebox, Detail: "tainted query builder", At: time.Now()}},
	})
	if merged {
		t.Fatalf("first Add() merged")
	}

	id2, merged := s.Add(finding.Finding{
		Category: finding.CategoryInjection,
		Title:    "SQLi",
		Endpoint: "/api/users/",
		Severity: finding.High,
		Source:   finding.SourceRecon,
		Evidence: []finding.Evidence{{Source: finding.SourceRecon, Detail: "error-based probe", At: time.Now()}},
	})
	if !merged {
		t.Fatalf("duplicate Add() not merged")
	}
	if id1 != id2 {
		t.Errorf("merged id = %s, want %s", id2, id1)
	}
	if got := s.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	f, err := s.Get(id1)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(f.Evidence) != 2 {
		t.Errorf("Evidence entries = %d, want 2", len(f.Evidence))
	}
	if f.Severity != finding.High {
		t.Errorf("Severity = %s, want upgraded to high", f.Severity)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	t.Parallel()

	s := NewStore()
	id := queuedFinding(t, s, finding.CategoryInjection, "/login")

	if err := s.Claim(id, "task-a", finding.CategoryInjection); err != nil {
		t.Fatalf("first Claim() error: %v", err)
	}
	err := s.Claim(id, "task-b", finding.CategoryInjection)
	if !errors.Is(err, ErrNotQueued) {
		t.Errorf("second Claim() error = %v, want ErrNotQueued", err)
	}
}

func TestClaimRaceSingleWinner(t *testing.T) {
	t.Parallel()

	s := NewStore()
	id := queuedFinding(t, s, finding.CategoryXSS, "/search")

	const claimants = 32
	var wg sync.WaitGroup
	wins := make(chan string, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			task := string(rune('a' + n))
			if err := s.Claim(id, task, finding.CategoryXSS); err == nil {
				wins <- task
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("claim winners = %d, want exactly 1", winners)
	}
}

func TestClaimCategoryMismatch(t *testing.T) {
	t.Parallel()

	s := NewStore()
	id := queuedFinding(t, s, finding.CategoryInjection, "/api")

	err := s.Claim(id, "task-a", finding.CategoryXSS)
	if !errors.Is(err, ErrCategoryMismatch) {
		t.Errorf("Claim() error = %v, want ErrCategoryMismatch", err)
	}
}

func TestVerdictWriteOnce(t *testing.T) {
	t.Parallel()

	s := NewStore()
	id := queuedFinding(t, s, finding.CategoryAuth, "/login")
	if err := s.Claim(id, "task-a", finding.CategoryAuth); err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if err := s.AssignVerdict(id, "task-a", finding.VerdictExploited, "session fixation reproduced"); err != nil {
		t.Fatalf("AssignVerdict() error: %v", err)
	}

	err := s.AssignVerdict(id, "task-a", finding.VerdictFalsePositive, "")
	if !errors.Is(err, ErrVerdictAssigned) {
		t.Errorf("second AssignVerdict() error = %v, want ErrVerdictAssigned", err)
	}

	f, _ := s.Get(id)
	if f.Verdict != finding.VerdictExploited {
		t.Errorf("Verdict = %s, want unchanged %s", f.Verdict, finding.VerdictExploited)
	}
	if !f.Terminal() {
		t.Errorf("Terminal() = false after verdict")
	}
}

func TestVerdictRequiresClaim(t *testing.T) {
	t.Parallel()

	s := NewStore()
	id := queuedFinding(t, s, finding.CategorySSRF, "/fetch")

	if err := s.AssignVerdict(id, "task-a", finding.VerdictPotential, ""); !errors.Is(err, ErrNotClaimant) {
		t.Errorf("AssignVerdict() on queued finding error = %v, want ErrNotClaimant", err)
	}

	if err := s.Claim(id, "task-a", finding.CategorySSRF); err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if err := s.AssignVerdict(id, "task-b", finding.VerdictPotential, ""); !errors.Is(err, ErrNotClaimant) {
		t.Errorf("AssignVerdict() by non-claimant error = %v, want ErrNotClaimant", err)
	}
}

func TestRetestCreatesLinkedFinding(t *testing.T) {
	t.Parallel()

	s := NewStore()
	id := queuedFinding(t, s, finding.CategoryAuthz, "/admin")
	if err := s.Claim(id, "task-a", finding.CategoryAuthz); err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if err := s.AssignVerdict(id, "task-a", finding.VerdictBlockedBySecurity, "WAF blocked payload"); err != nil {
		t.Fatalf("AssignVerdict() error: %v", err)
	}

	retestID, err := s.Retest(id)
	if err != nil {
		t.Fatalf("Retest() error: %v", err)
	}
	if retestID == id {
		t.Fatalf("Retest() returned original id")
	}

	orig, _ := s.Get(id)
	if orig.Verdict != finding.VerdictBlockedBySecurity || orig.State != finding.StateVerdictAssigned {
		t.Errorf("original mutated by retest: state=%s verdict=%s", orig.State, orig.Verdict)
	}

	clone, _ := s.Get(retestID)
	if clone.Supersedes != id {
		t.Errorf("Supersedes = %q, want %q", clone.Supersedes, id)
	}
	if clone.State != finding.StateQueued || clone.Verdict != "" {
		t.Errorf("retest state=%s verdict=%q, want queued with no verdict", clone.State, clone.Verdict)
	}
}

func TestRetestNeedsVerdict(t *testing.T) {
	t.Parallel()

	s := NewStore()
	id := queuedFinding(t, s, finding.CategoryInjection, "/q")
	if _, err := s.Retest(id); err == nil {
		t.Errorf("Retest() of queued finding succeeded, want error")
	}
}

func TestQueuedFiltersByCategoryAndState(t *testing.T) {
	t.Parallel()

	s := NewStore()
	inj := queuedFinding(t, s, finding.CategoryInjection, "/a")
	queuedFinding(t, s, finding.CategoryInjection, "/b")
	queuedFinding(t, s, finding.CategoryXSS, "/c")

	if err := s.Claim(inj, "task-a", finding.CategoryInjection); err != nil {
		t.Fatalf("Claim() error: %v", err)
	}

	got := s.Queued(finding.CategoryInjection)
	if len(got) != 1 || got[0].Endpoint != "/b" {
		t.Errorf("Queued(injection) = %v, want only /b", got)
	}
}
