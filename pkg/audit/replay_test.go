package audit

import (
	"path/filepath"
	"reflect"
	"testing"
)

func sampleEvents() []Event {
	return []Event{
		{Seq: 1, Kind: KindSessionStarted, Session: "s1"},
		{Seq: 2, Kind: KindPhaseStarted, Session: "s1", Phase: "recon"},
		{Seq: 3, Kind: KindTaskStarted, Session: "s1", Phase: "recon", Task: "t1", Role: "recon"},
		{Seq: 4, Kind: KindCharge, Session: "s1", Task: "t1", Amount: 0.25, Total: 0.25},
		{Seq: 5, Kind: KindCharge, Session: "s1", Task: "t1", Amount: 0.30, Total: 0.55},
		{Seq: 6, Kind: KindFindingDiscovered, Session: "s1", Finding: "f1"},
		{Seq: 7, Kind: KindTaskSucceeded, Session: "s1", Phase: "recon", Task: "t1"},
		{Seq: 8, Kind: KindPhaseCompleted, Session: "s1", Phase: "recon"},
		{Seq: 9, Kind: KindSessionCompleted, Session: "s1"},
	}
}

func TestReconstruct_FoldsState(t *testing.T) {
	t.Parallel()
	s := Reconstruct(sampleEvents())

	if s.SessionID != "s1" {
		t.Errorf("session = %q", s.SessionID)
	}
	if s.Status != "completed" {
		t.Errorf("status = %q, want completed", s.Status)
	}
	if s.Phases["recon"].Status != "completed" {
		t.Errorf("recon phase = %q", s.Phases["recon"].Status)
	}
	if s.Tasks["t1"].Status != "succeeded" {
		t.Errorf("task t1 = %q", s.Tasks["t1"].Status)
	}
	if s.Tasks["t1"].CostUSD != 0.55 {
		t.Errorf("task cost = %v, want 0.55", s.Tasks["t1"].CostUSD)
	}
	if s.CostUSD != 0.55 {
		t.Errorf("session cost = %v, want 0.55", s.CostUSD)
	}
	if s.Findings != 1 {
		t.Errorf("findings = %d, want 1", s.Findings)
	}
}

func TestReconstruct_DoubleReplayIdempotent(t *testing.T) {
	t.Parallel()
	events := sampleEvents()
	once := Reconstruct(events)
	twice := Reconstruct(append(append([]Event{}, events...), events...))

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("double replay diverged:\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if twice.CostUSD != 0.55 {
		t.Errorf("cost after double replay = %v, want 0.55 (not doubled)", twice.CostUSD)
	}
}

func TestCostEntries_SumEqualsReplayedTotal(t *testing.T) {
	t.Parallel()
	events := sampleEvents()
	entries := CostEntries(events)
	var sum float64
	for _, e := range entries {
		sum += e.Amount
	}
	if sum != Reconstruct(events).CostUSD {
		t.Errorf("cost entries sum %v != replayed total %v", sum, Reconstruct(events).CostUSD)
	}
}

func TestRecover_RegeneratesStaleSummary(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")
	sumPath := filepath.Join(dir, "session.json")

	l, err := Open(logPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range []Event{
		{Kind: KindSessionStarted, Session: "s1"},
		{Kind: KindPhaseStarted, Session: "s1", Phase: "whitebox"},
		{Kind: KindCharge, Session: "s1", Task: "t1", Amount: 1.5},
		{Kind: KindPhaseCompleted, Session: "s1", Phase: "whitebox"},
	} {
		if _, err := l.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	// No summary on disk: Recover must rebuild from replay and write one.
	state, err := Recover(logPath, sumPath, "http://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if state.CostUSD != 1.5 {
		t.Errorf("recovered cost = %v, want 1.5", state.CostUSD)
	}

	sum, err := LoadSummary(sumPath)
	if err != nil {
		t.Fatal(err)
	}
	if sum.LastSeq != state.LastSeq {
		t.Errorf("summary seq %d != state seq %d", sum.LastSeq, state.LastSeq)
	}
	if sum.Phases["whitebox"].Status != "completed" {
		t.Errorf("summary phase = %q", sum.Phases["whitebox"].Status)
	}
}

func TestWriteSummary_AtomicReplace(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "session.json")
	first := &Summary{SessionID: "s1", Status: "running", LastSeq: 1}
	if err := WriteSummary(path, first); err != nil {
		t.Fatal(err)
	}
	second := &Summary{SessionID: "s1", Status: "completed", LastSeq: 9}
	if err := WriteSummary(path, second); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSummary(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" || got.LastSeq != 9 {
		t.Errorf("summary not replaced: %+v", got)
	}
}
