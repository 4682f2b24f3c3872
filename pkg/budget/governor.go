// Package budget enforces the scan's monetary budget ceiling. Every
// chargeable unit of work (one LLM call, one paid tool invocation)
// passes through Charge before its audit event is emitted; once
// cumulative spend would exceed the ceiling, Charge denies the work.
//
// The governor's running total is a convenience only: the authoritative
// record is the cost entries in the audit log, and the total must always
// be recomputable from the log alone.
package budget

import (
	"errors"
	"sync"
	"time"
)

// ErrExceeded is returned by Charge when the requested amount would
// push cumulative spend past the ceiling. Callers must surface this as
// a distinct budget-exhausted condition, not a generic failure.
var ErrExceeded = errors.New("budget: ceiling exceeded")

// Entry is one append-only cost ledger record.
type Entry struct {
	TaskID string    `json:"task_id"`
	Amount float64   `json:"amount"`
	Total  float64   `json:"total"` // running total after this entry
	At     time.Time `json:"at"`
}

// WarnFunc is invoked once when spend first crosses the warning
// threshold. It must not block.
type WarnFunc func(spent, ceiling float64)

// Governor tracks cumulative spend against a ceiling.
// A ceiling of zero or below means unlimited.
type Governor struct {
	mu      sync.Mutex
	ceiling float64
	spent   float64
	entries []Entry

	warnFrac float64
	warned   bool
	onWarn   WarnFunc
}

// Option configures a Governor.
type Option func(*Governor)

// WithWarnThreshold sets the fraction of the ceiling at which the
// warning fires. Defaults to 0.8.
func WithWarnThreshold(frac float64) Option {
	return func(g *Governor) {
		if frac > 0 && frac < 1 {
			g.warnFrac = frac
		}
	}
}

// WithWarnFunc registers the warning callback.
func WithWarnFunc(fn WarnFunc) Option {
	return func(g *Governor) { g.onWarn = fn }
}

// New creates a governor with the given ceiling in USD.
func New(ceiling float64, opts ...Option) *Governor {
	g := &Governor{ceiling: ceiling, warnFrac: 0.8}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Charge records amount against taskID. It fails with ErrExceeded when
// cumulative spend would exceed the ceiling; spend that lands exactly
// on the ceiling is allowed. The increment and the check are a single
// atomic step so concurrent tasks cannot overshoot together.
func (g *Governor) Charge(taskID string, amount float64) (Entry, error) {
	if amount < 0 {
		amount = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ceiling > 0 && g.spent+amount > g.ceiling {
		return Entry{}, ErrExceeded
	}
	g.spent += amount
	e := Entry{TaskID: taskID, Amount: amount, Total: g.spent, At: time.Now().UTC()}
	g.entries = append(g.entries, e)

	if !g.warned && g.ceiling > 0 && g.spent >= g.ceiling*g.warnFrac {
		g.warned = true
		if g.onWarn != nil {
			g.onWarn(g.spent, g.ceiling)
		}
	}
	return e, nil
}

// CanAfford reports whether a charge of amount would be accepted.
// A successful check does not reserve budget; Charge remains the only
// authoritative gate.
func (g *Governor) CanAfford(amount float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ceiling <= 0 || g.spent+amount <= g.ceiling
}

// Remaining returns the budget left before the ceiling. Unlimited
// governors report a negative value.
func (g *Governor) Remaining() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ceiling <= 0 {
		return -1
	}
	return g.ceiling - g.spent
}

// Spent returns cumulative spend so far.
func (g *Governor) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}

// Ceiling returns the configured ceiling.
func (g *Governor) Ceiling() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ceiling
}

// Entries returns a copy of the ledger entries in charge order.
func (g *Governor) Entries() []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Entry(nil), g.entries...)
}

// Restore seeds the governor with spend recovered from an audit log
// replay. It is only valid before any new charges are taken.
func (g *Governor) Restore(entries []Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = append([]Entry(nil), entries...)
	g.spent = 0
	for _, e := range entries {
		g.spent += e.Amount
	}
	g.warned = g.ceiling > 0 && g.spent >= g.ceiling*g.warnFrac
}
