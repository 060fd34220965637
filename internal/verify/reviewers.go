package verify

import "github.com/kylegalloway/kodo/internal/agent"

// Role is a reviewer kind.
type Role int

const (
	RoleTester Role = iota
	RoleBrowserTester
	RoleArchitect
	// RoleFallback is a general-purpose worker reviewing in a fresh
	// conversation because the team has no dedicated reviewers.
	RoleFallback
)

// Team member names that fill reviewer roles.
const (
	TesterAgent        = "tester"
	BrowserTesterAgent = "tester_browser"
	ArchitectAgent     = "architect"
)

// fallbackPreference is the order in which workers are picked to self-review.
var fallbackPreference = []string{"worker_smart", "worker"}

// Reviewer is one reviewer slot filled by a team member.
type Reviewer struct {
	Role  Role
	Name  string
	Agent *agent.Agent
}

// Label names the reviewer in findings.
func (r Reviewer) Label() string {
	switch r.Role {
	case RoleArchitect:
		return "Architect"
	case RoleFallback:
		return r.Name + " (verifier)"
	default:
		return r.Name
	}
}

func (r Reviewer) instructions() string {
	switch r.Role {
	case RoleTester, RoleBrowserTester:
		return "Verify this works end-to-end. Report ONLY issues found. " +
			"If everything works, say 'ALL CHECKS PASS'."
	case RoleArchitect:
		return "Review the codebase for critical bugs, missing features, " +
			"or deviations from the goal. Report ONLY issues found. " +
			"If everything looks good, say 'ALL CHECKS PASS'."
	default:
		return "You are reviewing work done by another agent. " +
			"In a FRESH context, review the codebase changes against the goal. " +
			"Check: does it solve the goal? Is the code correct? Did anything break? " +
			"Run tests if available. Report ONLY issues found. " +
			"If everything looks good, say 'ALL CHECKS PASS'."
	}
}

// Reviewers is the reviewer set drawn from a team: the dedicated roles
// present, or a single fallback worker when there are none.
type Reviewers struct {
	Dedicated []Reviewer
	Fallback  *Reviewer
}

// SelectReviewers picks reviewers from team. The browser tester only
// participates when browserTesting is set.
func SelectReviewers(team agent.Team, browserTesting bool) Reviewers {
	var rs Reviewers
	if a, ok := team.Get(TesterAgent); ok {
		rs.Dedicated = append(rs.Dedicated, Reviewer{Role: RoleTester, Name: TesterAgent, Agent: a})
	}
	if a, ok := team.Get(BrowserTesterAgent); ok && browserTesting {
		rs.Dedicated = append(rs.Dedicated, Reviewer{Role: RoleBrowserTester, Name: BrowserTesterAgent, Agent: a})
	}
	if a, ok := team.Get(ArchitectAgent); ok {
		rs.Dedicated = append(rs.Dedicated, Reviewer{Role: RoleArchitect, Name: ArchitectAgent, Agent: a})
	}
	if len(rs.Dedicated) > 0 {
		return rs
	}

	for _, name := range fallbackPreference {
		if a, ok := team.Get(name); ok {
			rs.Fallback = &Reviewer{Role: RoleFallback, Name: name, Agent: a}
			return rs
		}
	}
	if names := team.Names(); len(names) > 0 {
		rs.Fallback = &Reviewer{Role: RoleFallback, Name: names[0], Agent: team[names[0]]}
	}
	return rs
}

// Empty reports whether nobody can review.
func (rs Reviewers) Empty() bool {
	return len(rs.Dedicated) == 0 && rs.Fallback == nil
}
