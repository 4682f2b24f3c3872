// Package pipeline drives a session through the five scan phases,
// fanning agent tasks out per phase and holding the barrier between
// phases: no task of phase N+1 starts until every task of phase N has
// reached a terminal state.
package pipeline

import (
	"github.com/vulnpilot/vulnpilot/pkg/agent"
	"github.com/vulnpilot/vulnpilot/pkg/finding"
	"github.com/vulnpilot/vulnpilot/pkg/session"
)

// Phase identifies one pipeline stage.
type Phase string

const (
	PhaseWhitebox     Phase = "whitebox"
	PhaseRecon        Phase = "recon"
	PhaseAnalysis     Phase = "vuln-analysis"
	PhaseExploitation Phase = "exploitation"
	PhaseReporting    Phase = "reporting"
)

// Definition describes one phase: its display name, how tasks fan out,
// and when it is skipped.
type Definition struct {
	Phase   Phase
	Display string

	// BestEffort phases never fail the session; whatever they manage
	// to produce is kept.
	BestEffort bool

	// Roles returns the agent roles to fan out, one task each.
	Roles func(s *session.Session) []agent.Role

	// Skip reports whether the phase applies to this session, with the
	// reason when it does not. Nil means the phase always runs.
	Skip func(s *session.Session) (bool, string)
}

// Phases is the pipeline in execution order.
var Phases = []Definition{
	{
		Phase:   PhaseWhitebox,
		Display: "White-box Analysis",
		Roles: func(*session.Session) []agent.Role {
			return []agent.Role{{Kind: agent.KindWhitebox}}
		},
		Skip: func(s *session.Session) (bool, string) {
			if !s.HasRepo() {
				return true, "no repository supplied"
			}
			return false, ""
		},
	},
	{
		Phase:   PhaseRecon,
		Display: "Reconnaissance",
		Roles: func(*session.Session) []agent.Role {
			return []agent.Role{{Kind: agent.KindRecon}}
		},
	},
	{
		Phase:   PhaseAnalysis,
		Display: "Vulnerability Analysis",
		Roles:   categoryRoles(agent.KindAnalysis),
	},
	{
		Phase:   PhaseExploitation,
		Display: "Exploitation",
		Roles:   categoryRoles(agent.KindExploitation),
	},
	{
		Phase:      PhaseReporting,
		Display:    "Reporting",
		BestEffort: true,
		Roles: func(*session.Session) []agent.Role {
			return []agent.Role{{Kind: agent.KindReporting}}
		},
	},
}

func categoryRoles(kind agent.Kind) func(*session.Session) []agent.Role {
	return func(*session.Session) []agent.Role {
		roles := make([]agent.Role, 0, len(finding.AnalysisCategories))
		for _, cat := range finding.AnalysisCategories {
			roles = append(roles, agent.Role{Kind: kind, Category: cat})
		}
		return roles
	}
}
