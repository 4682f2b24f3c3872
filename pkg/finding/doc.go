// Package finding defines the shared vulnerability finding model used
// across the scan pipeline: severities, categories, discovery sources,
// exploitation verdicts, and the Finding record itself.
//
// Findings are created by vulnerability-analysis agents, de-duplicated
// and claimed through pkg/ledger, and assigned a verdict exactly once
// by exploitation agents. A verdict, once set, never changes; a re-test
// produces a new finding carrying a back-reference instead.
package finding
