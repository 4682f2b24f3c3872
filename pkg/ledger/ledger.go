// Package ledger is the shared findings store: the single piece of
// mutable state vulnerability-analysis and exploitation agents
// communicate through. It is append-and-amend, never replace: findings
// are only ever added, merged into, claimed, or given a verdict.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/vulnpilot/vulnpilot/pkg/finding"
)

var (
	// ErrNotFound indicates no finding exists for the given id.
	ErrNotFound = errors.New("ledger: finding not found")

	// ErrNotQueued indicates a claim was attempted on a finding that is
	// not in the queued state.
	ErrNotQueued = errors.New("ledger: finding not queued")

	// ErrNotClaimant indicates a verdict write from a task that does
	// not hold the claim.
	ErrNotClaimant = errors.New("ledger: task does not hold the claim")

	// ErrVerdictAssigned indicates the finding already has its verdict;
	// verdicts are write-once.
	ErrVerdictAssigned = errors.New("ledger: verdict already assigned")

	// ErrCategoryMismatch indicates an exploitation task claimed a
	// finding outside its category.
	ErrCategoryMismatch = errors.New("ledger: category mismatch")
)

// Signature computes the de-duplication key for a finding: the hash of
// its category and normalized endpoint. Two reports with equal
// signatures describe the same underlying issue.
func Signature(cat finding.Category, endpoint string) uint64 {
	norm := strings.ToLower(strings.TrimRight(endpoint, "/"))
	return murmur3.Sum64([]byte(string(cat) + "\x00" + norm))
}

// Store holds all findings for one scan session.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*finding.Finding
	bySig map[uint64]string
	order []string
}

// NewStore creates an empty findings store.
func NewStore() *Store {
	return &Store{
		byID:  make(map[string]*finding.Finding),
		bySig: make(map[uint64]string),
	}
}

// Add accepts a discovered finding into the ledger. If a finding with
// the same category+endpoint signature already exists, the first write
// wins: the new report's evidence is merged onto the existing record
// and merged is true. Otherwise the finding is assigned an id, moved to
// the queued state, and stored.
func (s *Store) Add(f finding.Finding) (id string, merged bool) {
	sig := Signature(f.Category, f.Endpoint)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.bySig[sig]; ok {
		existing := s.byID[existingID]
		existing.Evidence = append(existing.Evidence, f.Evidence...)
		if len(f.Evidence) == 0 {
			existing.Evidence = append(existing.Evidence, finding.Evidence{
				Source: f.Source,
				Detail: f.Description,
				At:     time.Now().UTC(),
			})
		}
		// A higher-severity duplicate upgrades the record's severity.
		if f.Severity.Score() > existing.Severity.Score() {
			existing.Severity = f.Severity
		}
		return existingID, true
	}

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.State = finding.StateQueued
	fc := f
	s.byID[fc.ID] = &fc
	s.bySig[sig] = fc.ID
	s.order = append(s.order, fc.ID)
	return fc.ID, false
}

// Claim atomically moves a queued finding to the claimed state on
// behalf of taskID. Exactly one exploitation task wins the claim; a
// second claim fails with ErrNotQueued. The claimant's category must
// match the finding's.
func (s *Store) Claim(id, taskID string, cat finding.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if f.Category != cat {
		return fmt.Errorf("%w: finding is %s, claimant is %s", ErrCategoryMismatch, f.Category, cat)
	}
	if f.State != finding.StateQueued {
		return fmt.Errorf("%w: %s is %s", ErrNotQueued, id, f.State)
	}
	f.State = finding.StateClaimed
	f.VerdictBy = taskID
	return nil
}

// AssignVerdict writes the exploitation outcome for a claimed finding.
// The write is exactly-once: a finding whose verdict is already set is
// never overwritten, and only the claiming task may write.
func (s *Store) AssignVerdict(id, taskID string, v finding.Verdict, proof string) error {
	if !v.IsValid() {
		return fmt.Errorf("ledger: invalid verdict %q", v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if f.State == finding.StateVerdictAssigned || f.Verdict != "" {
		return fmt.Errorf("%w: %s has %s", ErrVerdictAssigned, id, f.Verdict)
	}
	if f.State != finding.StateClaimed || f.VerdictBy != taskID {
		return fmt.Errorf("%w: %s", ErrNotClaimant, taskID)
	}
	f.Verdict = v
	f.Proof = proof
	f.State = finding.StateVerdictAssigned
	return nil
}

// Retest creates a fresh queued finding that re-tests a
// verdict-assigned one, carrying a back-reference. The original record
// is untouched, preserving audit integrity. It is the amend path for
// follow-up sessions that revisit inconclusive verdicts, for example a
// thorough re-run over a quick scan's POTENTIAL findings.
func (s *Store) Retest(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orig, ok := s.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if orig.State != finding.StateVerdictAssigned {
		return "", fmt.Errorf("ledger: retest of %s: no verdict assigned yet", id)
	}

	clone := *orig
	clone.ID = uuid.NewString()
	clone.State = finding.StateQueued
	clone.Verdict = ""
	clone.VerdictBy = ""
	clone.Proof = ""
	clone.Supersedes = orig.ID
	clone.Evidence = append([]finding.Evidence(nil), orig.Evidence...)
	clone.CreatedAt = time.Now().UTC()

	s.byID[clone.ID] = &clone
	s.order = append(s.order, clone.ID)
	// The signature slot now points at the retest so further duplicate
	// reports merge into the live record, not the closed one.
	s.bySig[Signature(clone.Category, clone.Endpoint)] = clone.ID
	return clone.ID, nil
}

// Get returns a copy of the finding with the given id.
func (s *Store) Get(id string) (finding.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	if !ok {
		return finding.Finding{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *f, nil
}

// List returns copies of all findings in insertion order.
func (s *Store) List() []finding.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]finding.Finding, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Queued returns copies of the queued findings for a category, in
// insertion order. Findings left queued at the end of a scan (phase
// skipped, budget exhausted) are reported as such, never dropped.
func (s *Store) Queued(cat finding.Category) []finding.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []finding.Finding
	for _, id := range s.order {
		f := s.byID[id]
		if f.Category == cat && f.State == finding.StateQueued {
			out = append(out, *f)
		}
	}
	return out
}

// Count returns the number of findings in the ledger.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// CountByVerdict tallies findings per assigned verdict. Findings with
// no verdict yet are keyed under the empty string.
func (s *Store) CountByVerdict() map[finding.Verdict]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[finding.Verdict]int)
	for _, f := range s.byID {
		out[f.Verdict]++
	}
	return out
}
