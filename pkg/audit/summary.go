package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/jsonutil"
)

// Summary is the session-summary record rewritten wholesale after each
// phase transition. It is a fast-path read cache for status queries; if
// it is missing or stale after a crash, a log replay regenerates it.
type Summary struct {
	SessionID string                `json:"session_id"`
	Target    string                `json:"target"`
	Status    string                `json:"status"`
	Phase     string                `json:"phase,omitempty"`
	Phases    map[string]PhaseState `json:"phases"`
	Findings  int                   `json:"findings"`
	CostUSD   float64               `json:"cost_usd"`
	LastSeq   uint64                `json:"last_seq"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// SummaryFromState derives a summary from replayed session state.
func SummaryFromState(s *SessionState, target string) *Summary {
	return &Summary{
		SessionID: s.SessionID,
		Target:    target,
		Status:    s.Status,
		Phase:     s.Phase,
		Phases:    s.Phases,
		Findings:  s.Findings,
		CostUSD:   s.CostUSD,
		LastSeq:   s.LastSeq,
		UpdatedAt: time.Now().UTC(),
	}
}

// WriteSummary atomically replaces the summary file: write to a temp
// file in the same directory, then rename over the target.
func WriteSummary(path string, sum *Summary) error {
	sum.UpdatedAt = time.Now().UTC()
	data, err := jsonutil.MarshalIndent(sum, "  ")
	if err != nil {
		return fmt.Errorf("audit: marshal summary: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("audit: write summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("audit: replace summary: %w", err)
	}
	return nil
}

// LoadSummary reads a previously written summary.
func LoadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read summary: %w", err)
	}
	var sum Summary
	if err := jsonutil.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("audit: parse summary: %w", err)
	}
	return &sum, nil
}

// Recover returns the current session state for the log at logPath,
// preferring the cached summary only when it is in sync with the log.
// A missing or stale summary falls back to full replay and rewrites
// the cache.
func Recover(logPath, summaryPath, target string) (*SessionState, error) {
	events, err := Replay(logPath)
	if err != nil {
		return nil, err
	}
	state := Reconstruct(events)

	sum, err := LoadSummary(summaryPath)
	if err != nil || sum.LastSeq != state.LastSeq {
		if werr := WriteSummary(summaryPath, SummaryFromState(state, target)); werr != nil {
			return nil, werr
		}
	}
	return state, nil
}

// SummaryPath returns the conventional summary file location next to a
// session's event log.
func SummaryPath(logPath string) string {
	return filepath.Join(filepath.Dir(logPath), "session.json")
}
